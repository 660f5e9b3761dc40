// ABOUTME: Tests for the codec registry
// ABOUTME: Tests dispatch to the right decoder per codec name
package decode

import "testing"

func TestNewDispatchesPCM(t *testing.T) {
	decoder, err := New(Format{Codec: "pcm", SampleRate: 48000, Channels: 2, BitDepth: 16})
	if err != nil {
		t.Fatalf("failed to create pcm decoder: %v", err)
	}
	if _, ok := decoder.(*PCMDecoder); !ok {
		t.Errorf("expected *PCMDecoder, got %T", decoder)
	}
}

func TestNewDispatchesMP3(t *testing.T) {
	decoder, err := New(Format{Codec: "mp3", SampleRate: 44100, Channels: 2, BitDepth: 16})
	if err != nil {
		t.Fatalf("failed to create mp3 decoder: %v", err)
	}
	if _, ok := decoder.(*MP3Decoder); !ok {
		t.Errorf("expected *MP3Decoder, got %T", decoder)
	}
}

func TestNewRejectsUnknownCodec(t *testing.T) {
	decoder, err := New(Format{Codec: "flac", SampleRate: 48000, Channels: 2, BitDepth: 16})
	if err == nil {
		t.Fatal("expected error for unknown codec, got nil")
	}
	if decoder != nil {
		t.Fatal("expected decoder to be nil for unknown codec")
	}

	expectedError := "unsupported codec: flac"
	if err.Error() != expectedError {
		t.Errorf("expected error %q, got %q", expectedError, err.Error())
	}
}
