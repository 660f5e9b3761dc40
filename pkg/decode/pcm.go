// ABOUTME: PCM audio decoder
// ABOUTME: Normalizes 16-bit and 24-bit PCM input to 16-bit PCM bytes
package decode

import "fmt"

// PCMDecoder decodes PCM audio
type PCMDecoder struct {
	bitDepth int
}

// NewPCM creates a new PCM decoder
func NewPCM(format Format) (Decoder, error) {
	if format.Codec != "pcm" {
		return nil, fmt.Errorf("invalid codec for PCM decoder: %s", format.Codec)
	}

	if format.BitDepth != 16 && format.BitDepth != 24 {
		return nil, fmt.Errorf("unsupported bit depth: %d (supported: 16, 24)", format.BitDepth)
	}

	return &PCMDecoder{
		bitDepth: format.BitDepth,
	}, nil
}

// Decode converts PCM bytes to 16-bit little-endian PCM bytes.
// 16-bit input passes through; 24-bit input drops the low byte of
// each sample.
func (d *PCMDecoder) Decode(data []byte) ([]byte, error) {
	if d.bitDepth == 16 {
		out := make([]byte, len(data)-len(data)%2)
		copy(out, data)
		return out, nil
	}

	// 24-bit PCM: 3 bytes per sample, keep the upper two.
	numSamples := len(data) / 3
	out := make([]byte, numSamples*2)
	for i := 0; i < numSamples; i++ {
		out[i*2] = data[i*3+1]
		out[i*2+1] = data[i*3+2]
	}
	return out, nil
}

// Close releases resources
func (d *PCMDecoder) Close() error {
	return nil
}
