// ABOUTME: Entry point for the local file player
// ABOUTME: Decodes an MP3 or raw PCM file and plays it on the output stream
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/pwmaudio/pwmaudio-go/internal/ui"
	"github.com/pwmaudio/pwmaudio-go/pkg/audioout"
	"github.com/pwmaudio/pwmaudio-go/pkg/decode"
	"github.com/pwmaudio/pwmaudio-go/pkg/pwm"
)

var (
	rate     = flag.Int("rate", 44100, "Sample rate for raw PCM input (ignored for MP3)")
	channels = flag.Int("channels", 2, "Channel count for raw PCM input (ignored for MP3)")
	apin     = flag.Int("apin", 2, "GPIO pin for PWM channel A")
	monitor  = flag.Bool("monitor", false, "Show the playback monitor TUI")
	silent   = flag.Bool("silent", false, "Use the simulated backend instead of the sound card")
)

func main() {
	flag.Parse()
	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] <file.mp3|file.pcm>\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(2)
	}
	path := flag.Arg(0)

	pcm, sampleRate, numChannels, err := loadFile(path)
	if err != nil {
		log.Fatalf("error loading %s: %v", path, err)
	}
	log.Printf("Loaded %s: %d PCM bytes, %d Hz, %d ch", path, len(pcm), sampleRate, numChannels)

	var hw pwm.Hardware
	if *silent {
		hw = pwm.NewSimulator()
	} else {
		oto := pwm.NewOto(sampleRate)
		defer oto.Close()
		hw = oto
	}

	stream, err := audioout.Open(audioout.Config{
		APin:           pwm.Pin(*apin),
		BPin:           pwm.Pin(*apin + 1),
		NumChannels:    numChannels,
		SampleRate:     sampleRate,
		BytesPerSample: 2,
		FIFOSize:       8192,
		Hardware:       hw,
	})
	if err != nil {
		log.Fatalf("error opening output stream: %v", err)
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		log.Fatalf("error starting stream: %v", err)
	}

	play := func() error {
		for written := 0; written < len(pcm); {
			n, err := stream.Write(pcm[written:])
			if err != nil {
				return err
			}
			written += n
		}
		if err := stream.Drain(); err != nil {
			return err
		}
		return stream.Stop()
	}

	if *monitor {
		done := make(chan error, 1)
		go func() { done <- play() }()

		name := fmt.Sprintf("%s (gpio %d/%d)", filepath.Base(path), *apin, *apin+1)
		if err := ui.Run(stream, name, sampleRate, numChannels); err != nil {
			log.Fatalf("monitor error: %v", err)
		}
		// Quitting the monitor abandons playback; drop the result.
		select {
		case err := <-done:
			if err != nil {
				log.Fatalf("playback error: %v", err)
			}
		default:
		}
		return
	}

	if err := play(); err != nil {
		log.Fatalf("playback error: %v", err)
	}
	log.Printf("Playback finished")
}

// loadFile decodes the file into 16-bit little-endian PCM and reports
// its format. MP3 carries its own format; raw PCM uses the flags.
func loadFile(path string) ([]byte, int, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, 0, err
	}

	if strings.EqualFold(filepath.Ext(path), ".mp3") {
		dec, err := decode.NewMP3(decode.Format{Codec: "mp3"})
		if err != nil {
			return nil, 0, 0, err
		}
		mp3dec := dec.(*decode.MP3Decoder)
		pcm, err := mp3dec.Decode(data)
		if err != nil {
			return nil, 0, 0, err
		}
		// go-mp3 always produces stereo 16-bit output.
		return pcm, mp3dec.SampleRate(), 2, nil
	}

	return data, *rate, *channels, nil
}
