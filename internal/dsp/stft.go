package dsp

import (
	"errors"
	"fmt"
	"math"
)

// HannWindow returns a periodic Hann window of the given length.
func HannWindow(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n))
	}

	return w
}

// Spectrum holds the positive-frequency half of one analysis frame.
type Spectrum struct {
	Re []float64
	Im []float64
}

// STFT slices the signal into hop-spaced frames, applies a Hann window of
// winSize samples zero-padded to fftSize, and transforms each frame. The
// signal is reflected-free: frames are taken with the window centered at
// i*hop, padding with zeros past the signal edges.
func STFT(signal []float64, fftSize, hopSize, winSize int) ([]Spectrum, error) {
	if fftSize <= 0 || fftSize&(fftSize-1) != 0 {
		return nil, fmt.Errorf("dsp: stft fft size %d is not a power of two", fftSize)
	}

	if hopSize <= 0 || winSize <= 0 || winSize > fftSize {
		return nil, fmt.Errorf("dsp: stft invalid hop %d / window %d for fft size %d", hopSize, winSize, fftSize)
	}

	if len(signal) == 0 {
		return nil, errors.New("dsp: stft of empty signal")
	}

	window := HannWindow(winSize)
	frames := 1 + (len(signal)-1)/hopSize
	bins := fftSize/2 + 1
	out := make([]Spectrum, frames)

	for f := 0; f < frames; f++ {
		re := make([]float64, fftSize)
		im := make([]float64, fftSize)

		start := f*hopSize - winSize/2
		for i := 0; i < winSize; i++ {
			pos := start + i
			if pos < 0 || pos >= len(signal) {
				continue
			}

			re[i] = signal[pos] * window[i]
		}

		if err := FFT(re, im); err != nil {
			return nil, err
		}

		out[f] = Spectrum{Re: re[:bins], Im: im[:bins]}
	}

	return out, nil
}

// ISTFT reconstructs a signal of the given length from positive-frequency
// spectra using weighted overlap-add with the same Hann window.
func ISTFT(spectra []Spectrum, fftSize, hopSize, winSize, length int) ([]float64, error) {
	if len(spectra) == 0 {
		return nil, errors.New("dsp: istft of empty spectrogram")
	}

	if fftSize <= 0 || fftSize&(fftSize-1) != 0 {
		return nil, fmt.Errorf("dsp: istft fft size %d is not a power of two", fftSize)
	}

	bins := fftSize/2 + 1
	window := HannWindow(winSize)

	signal := make([]float64, length)
	weight := make([]float64, length)

	for f, spec := range spectra {
		if len(spec.Re) != bins || len(spec.Im) != bins {
			return nil, fmt.Errorf("dsp: istft frame %d has %d bins, want %d", f, len(spec.Re), bins)
		}

		re := make([]float64, fftSize)
		im := make([]float64, fftSize)
		copy(re, spec.Re)
		copy(im, spec.Im)

		// Mirror the positive frequencies to make the frame real.
		for k := 1; k < fftSize/2; k++ {
			re[fftSize-k] = re[k]
			im[fftSize-k] = -im[k]
		}

		if err := IFFT(re, im); err != nil {
			return nil, err
		}

		start := f*hopSize - winSize/2
		for i := 0; i < winSize; i++ {
			pos := start + i
			if pos < 0 || pos >= length {
				continue
			}

			signal[pos] += re[i] * window[i]
			weight[pos] += window[i] * window[i]
		}
	}

	for i := range signal {
		if weight[i] > 1e-9 {
			signal[i] /= weight[i]
		}
	}

	return signal, nil
}
