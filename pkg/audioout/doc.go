// ABOUTME: Package documentation for audioout
// ABOUTME: PWM audio output streams with dithered PCM transcoding
//
// Package audioout streams PCM audio to a PWM pin pair. A stream owns
// a fixed-size FIFO between the writing caller and the hardware
// transfer side: Write transcodes 8- or 16-bit PCM frames into
// duty-cycle codes with first-order error-diffusion dithering and
// commits them to the FIFO; the transfer side drains the FIFO into
// the slice's compare register and signals readiness back to blocked
// writers.
package audioout
