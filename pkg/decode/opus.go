// ABOUTME: Opus audio decoder
// ABOUTME: Decodes Opus packets to 16-bit PCM bytes
package decode

import (
	"encoding/binary"
	"fmt"

	"gopkg.in/hraban/opus.v2"
)

// OpusDecoder decodes Opus audio
type OpusDecoder struct {
	decoder *opus.Decoder
	format  Format
}

// NewOpus creates a new Opus decoder
func NewOpus(format Format) (Decoder, error) {
	if format.Codec != "opus" {
		return nil, fmt.Errorf("invalid codec for Opus decoder: %s", format.Codec)
	}

	dec, err := opus.NewDecoder(format.SampleRate, format.Channels)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus decoder: %w", err)
	}

	return &OpusDecoder{
		decoder: dec,
		format:  format,
	}, nil
}

// Decode converts one Opus packet to PCM bytes
func (d *OpusDecoder) Decode(data []byte) ([]byte, error) {
	// Opus frames are at most 120ms: 5760 samples per channel at 48kHz.
	pcm16 := make([]int16, 5760*d.format.Channels)

	n, err := d.decoder.Decode(data, pcm16)
	if err != nil {
		return nil, fmt.Errorf("opus decode failed: %w", err)
	}

	out := make([]byte, n*d.format.Channels*2)
	for i := 0; i < n*d.format.Channels; i++ {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(pcm16[i]))
	}
	return out, nil
}

// Close releases decoder resources
func (d *OpusDecoder) Close() error {
	return nil
}
