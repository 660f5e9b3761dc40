// ABOUTME: Decoder interface and codec registry
// ABOUTME: Maps codec names to decoders producing 16-bit PCM bytes
package decode

import "fmt"

// Format describes an encoded audio stream.
type Format struct {
	Codec      string
	SampleRate int
	Channels   int
	BitDepth   int
}

// Decoder decodes audio in various formats to interleaved 16-bit
// little-endian PCM bytes, the format the output stream consumes.
type Decoder interface {
	// Decode converts encoded audio data to PCM bytes
	Decode(data []byte) ([]byte, error)

	// Close releases decoder resources
	Close() error
}

// New creates a decoder for the format's codec.
func New(format Format) (Decoder, error) {
	switch format.Codec {
	case "pcm":
		return NewPCM(format)
	case "mp3":
		return NewMP3(format)
	case "opus":
		return NewOpus(format)
	default:
		return nil, fmt.Errorf("unsupported codec: %s", format.Codec)
	}
}
