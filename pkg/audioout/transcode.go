// ABOUTME: PCM to PWM duty-cycle transcoder with error-diffusion dithering
// ABOUTME: Carries the quantization remainder across calls for accurate averages
package audioout

import (
	"encoding/binary"
	"sync/atomic"
)

// codeBytes is the width of one duty-cycle code in the FIFO.
const codeBytes = 2

// transcoder converts whole PCM frames into little-endian uint16
// duty-cycle codes. The only state is the quantization error
// accumulator, which the transfer side zeroes on underrun; everything
// else is fixed at open time.
type transcoder struct {
	numChannels    int
	bytesPerSample int
	pwmBits        uint
	top            uint32
	divisor        uint32
	acc            atomic.Uint32 // always < divisor
}

// frameBytes is the width of one input frame.
func (t *transcoder) frameBytes() int {
	return t.numChannels * t.bytesPerSample
}

// transcode converts min(len(dst)/2, len(src)/frameBytes) frames from
// src into codes in dst and returns the frame count. Only the first
// channel of each frame is read; unsupported sample widths produce
// the neutral midpoint. Deterministic given the accumulator value.
func (t *transcoder) transcode(dst, src []byte) int {
	frameB := t.frameBytes()
	n := len(dst) / codeBytes
	if avail := len(src) / frameB; avail < n {
		n = avail
	}

	acc := t.acc.Load()
	for i := 0; i < n; i++ {
		var sample uint32
		switch t.bytesPerSample {
		case 1:
			sample = uint32(src[0]) << 8
		case 2:
			sample = uint32(src[0]) | uint32(src[1])<<8
			sample ^= 0x8000
		default:
			sample = 0x8000
		}
		src = src[frameB:]

		sample <<= t.pwmBits
		sample += acc
		code := sample / t.divisor
		acc = sample % t.divisor
		binary.LittleEndian.PutUint16(dst[i*codeBytes:], uint16(code))
	}
	t.acc.Store(acc)
	return n
}
