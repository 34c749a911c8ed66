package audio

import "math"

// PeakNormalize scales samples in place so the peak amplitude reaches
// target (clamped to at most 1.0). Silent input is returned unchanged.
func PeakNormalize(samples []float32, target float32) []float32 {
	if target <= 0 || target > 1 {
		target = 1
	}

	var peak float32
	for _, v := range samples {
		if a := float32(math.Abs(float64(v))); a > peak {
			peak = a
		}
	}

	if peak == 0 {
		return samples
	}

	gain := target / peak
	for i := range samples {
		samples[i] *= gain
	}

	return samples
}

// DCBlock removes DC offset in place with a single-pole high-pass filter.
func DCBlock(samples []float32, sampleRate int) []float32 {
	if len(samples) == 0 || sampleRate <= 0 {
		return samples
	}

	// Pole placed for roughly 20 Hz cutoff.
	r := float32(1.0 - 2.0*math.Pi*20.0/float64(sampleRate))
	if r < 0 {
		r = 0
	}

	var prevIn, prevOut float32
	for i, v := range samples {
		out := v - prevIn + r*prevOut
		prevIn, prevOut = v, out
		samples[i] = out
	}

	return samples
}

// FadeIn applies a linear ramp from silence over the given duration in
// milliseconds, in place.
func FadeIn(samples []float32, sampleRate int, ms float64) []float32 {
	n := int(float64(sampleRate) * ms / 1000.0)
	if n <= 0 || len(samples) == 0 {
		return samples
	}

	if n > len(samples) {
		n = len(samples)
	}

	for i := 0; i < n; i++ {
		samples[i] *= float32(i) / float32(n)
	}

	return samples
}

// FadeOut applies a linear ramp to silence over the given duration in
// milliseconds, in place.
func FadeOut(samples []float32, sampleRate int, ms float64) []float32 {
	n := int(float64(sampleRate) * ms / 1000.0)
	if n <= 0 || len(samples) == 0 {
		return samples
	}

	if n > len(samples) {
		n = len(samples)
	}

	offset := len(samples) - n
	for i := 0; i < n; i++ {
		samples[offset+i] *= float32(n-1-i) / float32(n)
	}

	return samples
}
