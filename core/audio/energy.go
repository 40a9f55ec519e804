package audio

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

const (
	energyMaxWindow = 512
	energyMinWindow = 32
	energyMaxBin    = 32

	// energyGain maps typical speech loudness onto most of the [0, 1] range.
	energyGain = 8.0
)

// Energy turns a PCM16 buffer into a loudness scalar in [0, 1] for
// visualization.
//
// It windows the first n samples (n is the largest power of two not above
// min(len(samples), 512)) with a Hann window, takes the FFT and averages the
// power of the low bins [1, min(32, n/6)). Buffers shorter than 32 samples
// yield 0. Energy has no side effects and is safe for concurrent use.
func Energy(samples []int16) float64 {
	n := energyWindowSize(len(samples))
	if n == 0 {
		return 0
	}

	seq := make([]float64, n)
	for i := range seq {
		seq[i] = float64(samples[i]) / 32768
	}
	window.Hann(seq)

	coeffs := fourier.NewFFT(n).Coefficients(nil, seq)

	hi := min(energyMaxBin, n/6)
	scale := 2 / float64(n)
	var sum float64
	for k := 1; k < hi; k++ {
		m := cmplx.Abs(coeffs[k]) * scale
		sum += m * m
	}

	level := math.Sqrt(sum/float64(hi-1)) * energyGain
	return max(0, min(1, level))
}

func energyWindowSize(length int) int {
	if length < energyMinWindow {
		return 0
	}

	n := energyMinWindow
	for n*2 <= length && n*2 <= energyMaxWindow {
		n *= 2
	}
	return n
}
