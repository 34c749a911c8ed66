package dsp

import (
	"fmt"
	"math"
)

func hzToMel(hz float64) float64 {
	return 2595.0 * math.Log10(1.0+hz/700.0)
}

func melToHz(mel float64) float64 {
	return 700.0 * (math.Pow(10.0, mel/2595.0) - 1.0)
}

// MelFilterbank builds nMels triangular filters over fftSize/2+1 linear
// frequency bins, spaced on the HTK mel scale between fMin and fMax.
// The result is [nMels][bins].
func MelFilterbank(nMels, fftSize int, sampleRate, fMin, fMax float64) ([][]float64, error) {
	if nMels <= 0 || fftSize <= 0 {
		return nil, fmt.Errorf("dsp: filterbank wants positive mel count and fft size, got %d and %d", nMels, fftSize)
	}

	if fMax <= 0 {
		fMax = sampleRate / 2
	}

	if fMin < 0 || fMin >= fMax || fMax > sampleRate/2 {
		return nil, fmt.Errorf("dsp: filterbank band [%g, %g] invalid for sample rate %g", fMin, fMax, sampleRate)
	}

	bins := fftSize/2 + 1
	melLo, melHi := hzToMel(fMin), hzToMel(fMax)

	// nMels+2 edge frequencies mapped onto fractional fft bins.
	edges := make([]float64, nMels+2)
	for i := range edges {
		mel := melLo + (melHi-melLo)*float64(i)/float64(nMels+1)
		edges[i] = melToHz(mel) * float64(fftSize) / sampleRate
	}

	bank := make([][]float64, nMels)
	for m := 0; m < nMels; m++ {
		row := make([]float64, bins)
		left, center, right := edges[m], edges[m+1], edges[m+2]

		for b := 0; b < bins; b++ {
			fb := float64(b)

			switch {
			case fb <= left || fb >= right:
				// outside the triangle
			case fb <= center:
				if center > left {
					row[b] = (fb - left) / (center - left)
				}
			default:
				if right > center {
					row[b] = (right - fb) / (right - center)
				}
			}
		}

		bank[m] = row
	}

	return bank, nil
}

// MelToLinear approximately inverts a filterbank projection: it maps an
// nMels-dimensional mel frame back to fftSize/2+1 linear magnitudes using
// the transposed filterbank with per-bin weight normalization. Magnitudes
// are clamped to be non-negative.
func MelToLinear(bank [][]float64, mel []float64) ([]float64, error) {
	if len(bank) == 0 {
		return nil, fmt.Errorf("dsp: empty filterbank")
	}

	if len(mel) != len(bank) {
		return nil, fmt.Errorf("dsp: mel frame has %d bands, filterbank has %d", len(mel), len(bank))
	}

	bins := len(bank[0])
	out := make([]float64, bins)
	norm := make([]float64, bins)

	for m, row := range bank {
		for b, w := range row {
			out[b] += w * mel[m]
			norm[b] += w
		}
	}

	for b := range out {
		if norm[b] > 1e-8 {
			out[b] /= norm[b]
		}

		if out[b] < 0 {
			out[b] = 0
		}
	}

	return out, nil
}
