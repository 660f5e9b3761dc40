// ABOUTME: MP3 audio decoder
// ABOUTME: Decodes a complete MP3 stream to 16-bit PCM bytes
package decode

import (
	"bytes"
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"
)

// MP3Decoder decodes MP3 audio. Each Decode call must carry a
// complete MP3 stream including headers; the underlying library reads
// frame boundaries itself, so arbitrary byte slices of a stream
// cannot be decoded independently.
type MP3Decoder struct {
	sampleRate int
}

// NewMP3 creates a new MP3 decoder
func NewMP3(format Format) (Decoder, error) {
	if format.Codec != "mp3" {
		return nil, fmt.Errorf("invalid codec for MP3 decoder: %s", format.Codec)
	}
	return &MP3Decoder{}, nil
}

// Decode converts a complete MP3 stream to PCM bytes. The library
// always emits stereo 16-bit output at the stream's sample rate.
func (d *MP3Decoder) Decode(data []byte) ([]byte, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create mp3 decoder: %w", err)
	}
	d.sampleRate = dec.SampleRate()

	pcm, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("mp3 decode error: %w", err)
	}
	return pcm, nil
}

// SampleRate reports the rate of the last decoded stream, or zero
// before the first Decode.
func (d *MP3Decoder) SampleRate() int {
	return d.sampleRate
}

// Close releases decoder resources
func (d *MP3Decoder) Close() error {
	return nil
}
