// ABOUTME: Wire message definitions for the audio sink protocol
// ABOUTME: JSON control messages plus binary audio frames
package sink

// Message is the envelope for all JSON control messages.
type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// SourceHello is sent by a source right after connecting. It declares
// the encoded format of the binary frames that follow.
type SourceHello struct {
	Name       string `json:"name"`
	Codec      string `json:"codec"` // "pcm", "mp3", or "opus"
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	BitDepth   int    `json:"bit_depth"`
}

// SinkHello is the sink's reply to a source hello.
type SinkHello struct {
	SinkID  string `json:"sink_id"`
	Name    string `json:"name"`
	Version int    `json:"version"`
}

// SinkStats is pushed periodically while a source is connected.
type SinkStats struct {
	IntCount uint64 `json:"int_count"`
	Stalls   uint64 `json:"stalls"`
	Buffered int    `json:"buffered"`
	State    string `json:"state"`
}

// SinkError reports a protocol or playback failure.
type SinkError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
