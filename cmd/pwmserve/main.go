// ABOUTME: Entry point for the network audio sink daemon
// ABOUTME: Parses CLI flags, opens the output stream, and serves sources
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"syscall"

	"github.com/pwmaudio/pwmaudio-go/internal/sink"
	"github.com/pwmaudio/pwmaudio-go/pkg/audioout"
	"github.com/pwmaudio/pwmaudio-go/pkg/pwm"
	"github.com/pwmaudio/pwmaudio-go/pkg/sigdispatch"
)

var (
	port      = flag.Int("port", 8931, "WebSocket sink port")
	name      = flag.String("name", "", "Sink friendly name (default: hostname-pwmaudio)")
	logFile   = flag.String("log-file", "pwmserve.log", "Log file path")
	debug     = flag.Bool("debug", false, "Enable debug logging")
	noMDNS    = flag.Bool("no-mdns", false, "Disable mDNS advertisement")
	rate      = flag.Int("rate", 48000, "Output sample rate in Hz")
	channels  = flag.Int("channels", 2, "Input channel count")
	apin      = flag.Int("apin", 2, "GPIO pin for PWM channel A")
	fifoSize  = flag.Int("fifo", 8192, "FIFO size in bytes")
	threshold = flag.Int("threshold", 2048, "Writable threshold in bytes")
	silent    = flag.Bool("silent", false, "Use the simulated backend instead of the sound card")
)

func main() {
	flag.Parse()

	f, err := os.OpenFile(*logFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer f.Close()
	log.SetOutput(io.MultiWriter(os.Stdout, f))

	sinkName := *name
	if sinkName == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		sinkName = fmt.Sprintf("%s-pwmaudio", hostname)
	}

	var hw pwm.Hardware
	if *silent {
		hw = pwm.NewSimulator()
	} else {
		oto := pwm.NewOto(*rate)
		defer oto.Close()
		hw = oto
	}

	stream, err := audioout.Open(audioout.Config{
		APin:           pwm.Pin(*apin),
		BPin:           pwm.Pin(*apin + 1),
		NumChannels:    *channels,
		SampleRate:     *rate,
		BytesPerSample: 2,
		FIFOSize:       *fifoSize,
		Threshold:      *threshold,
		Hardware:       hw,
	})
	if err != nil {
		log.Fatalf("error opening output stream: %v", err)
	}
	defer stream.Close()

	log.Printf("Starting sink: %s on port %d (%d Hz, %d ch)", sinkName, *port, *rate, *channels)
	log.Printf("Press Ctrl-C to stop")

	srv := sink.New(sink.Config{
		Port:       *port,
		Name:       sinkName,
		EnableMDNS: !*noMDNS,
		Debug:      *debug,
		Stream:     stream,
		SampleRate: *rate,
		Channels:   *channels,
	})

	shutdown := func(sig os.Signal) {
		log.Printf("Received %v signal, shutting down gracefully...", sig)
		srv.Stop()
	}
	sigdispatch.Handle(syscall.SIGINT, shutdown)
	sigdispatch.Handle(syscall.SIGTERM, shutdown)
	defer sigdispatch.Teardown()

	if err := srv.Start(); err != nil {
		log.Fatalf("Sink error: %v", err)
	}
}
