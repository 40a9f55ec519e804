package audio

import (
	"encoding/binary"
	"math"
	"time"
)

// Frame is a buffer of mono PCM16 samples at a fixed rate. Frames are
// transient: created per capture callback or inbound audio event and consumed
// immediately.
type Frame struct {
	Samples    []int16
	SampleRate int
}

func NewFrame(samples []int16, sampleRate int) Frame {
	return Frame{Samples: samples, SampleRate: sampleRate}
}

// Len is the length of the frame in bytes once encoded as PCM16.
func (f Frame) Len() int { return len(f.Samples) * 2 }

func (f Frame) Bytes() []byte { return PCM16FromSamples(f.Samples) }

func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(f.Samples)) * time.Second / time.Duration(f.SampleRate)
}

// SamplesFromPCM16 decodes little-endian PCM16. A trailing odd byte is ignored.
func SamplesFromPCM16(pcm []byte) []int16 {
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[2*i:]))
	}
	return samples
}

func PCM16FromSamples(samples []int16) []byte {
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[2*i:], uint16(s))
	}
	return pcm
}

// RMS is the root-mean-square of samples normalized to [-1, 1].
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}

	var sum float64
	for _, s := range samples {
		v := float64(s) / 32768
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}
