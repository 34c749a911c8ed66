// Package dsp implements the signal-processing primitives the spectrogram
// inversion path needs: a radix-2 FFT, windowed STFT analysis/synthesis and
// a mel filterbank with an approximate inverse.
package dsp

import (
	"fmt"
	"math"
	"math/bits"
)

// FFT computes the in-place forward discrete Fourier transform of the
// complex signal (re, im). The length must be a power of two.
func FFT(re, im []float64) error {
	return fft(re, im, false)
}

// IFFT computes the in-place inverse transform, including the 1/N scaling.
func IFFT(re, im []float64) error {
	if err := fft(re, im, true); err != nil {
		return err
	}

	inv := 1.0 / float64(len(re))
	for i := range re {
		re[i] *= inv
		im[i] *= inv
	}

	return nil
}

func fft(re, im []float64, inverse bool) error {
	n := len(re)
	if n == 0 || n&(n-1) != 0 {
		return fmt.Errorf("dsp: fft length %d is not a power of two", n)
	}

	if len(im) != n {
		return fmt.Errorf("dsp: fft real/imaginary lengths differ: %d vs %d", n, len(im))
	}

	shift := 64 - bits.TrailingZeros64(uint64(n))
	for i := 0; i < n; i++ {
		j := int(bits.Reverse64(uint64(i)) >> shift)
		if j > i {
			re[i], re[j] = re[j], re[i]
			im[i], im[j] = im[j], im[i]
		}
	}

	sign := -1.0
	if inverse {
		sign = 1.0
	}

	for size := 2; size <= n; size <<= 1 {
		half := size / 2
		step := sign * 2 * math.Pi / float64(size)
		wRe, wIm := math.Cos(step), math.Sin(step)

		for start := 0; start < n; start += size {
			tRe, tIm := 1.0, 0.0

			for k := 0; k < half; k++ {
				even, odd := start+k, start+k+half

				oRe := re[odd]*tRe - im[odd]*tIm
				oIm := re[odd]*tIm + im[odd]*tRe

				re[odd] = re[even] - oRe
				im[odd] = im[even] - oIm
				re[even] += oRe
				im[even] += oIm

				tRe, tIm = tRe*wRe-tIm*wIm, tRe*wIm+tIm*wRe
			}
		}
	}

	return nil
}
