package vocoder

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"github.com/example/go-taco-tts/internal/dsp"
	"github.com/example/go-taco-tts/internal/pipeline"
	"github.com/example/go-taco-tts/internal/runtime/tensor"
)

// GriffinLim inverts mel spectrograms without a neural model: mel frames are
// mapped back to linear magnitudes through the pseudo-inverted filterbank,
// then phase is recovered by iterative STFT projection starting from zero
// phase. The same input always yields the same output.
type GriffinLim struct {
	frames pipeline.FrameParams
	iters  int
	bank   [][]float64
}

// NewGriffinLim builds the inverter. iters is the number of phase recovery
// iterations; more iterations reduce artifacts at linear cost.
func NewGriffinLim(frames pipeline.FrameParams, iters int) (*GriffinLim, error) {
	if err := frames.Validate(); err != nil {
		return nil, err
	}

	if iters <= 0 {
		return nil, fmt.Errorf("vocoder: griffin-lim iterations must be positive, got %d", iters)
	}

	bank, err := dsp.MelFilterbank(frames.Mels, frames.FFTSize, float64(frames.SampleRate), 0, 0)
	if err != nil {
		return nil, fmt.Errorf("vocoder: %w", err)
	}

	return &GriffinLim{frames: frames, iters: iters, bank: bank}, nil
}

func (g *GriffinLim) Frames() pipeline.FrameParams { return g.frames }

// Deterministic reports true: Griffin-Lim never consumes randomness.
func (g *GriffinLim) Deterministic() bool { return true }

// Vocode inverts each batch row independently. Row b produces exactly
// Lengths[b] * HopSize samples.
func (g *GriffinLim) Vocode(ctx context.Context, spec *pipeline.Spectrogram, _ *rand.Rand) (*pipeline.Waveform, error) {
	return vocodeRows(ctx, spec, nil, g.frames.SampleRate, g.invertRow)
}

func (g *GriffinLim) invertRow(ctx context.Context, mel *tensor.Tensor, _ *rand.Rand) ([]float32, error) {
	if mel.Dim(0) != int64(g.frames.Mels) {
		return nil, fmt.Errorf("griffin-lim wants %d mel bands, got %d", g.frames.Mels, mel.Dim(0))
	}

	frames := int(mel.Dim(1))
	length := frames * g.frames.HopSize
	bins := g.frames.FFTSize/2 + 1

	melT, err := mel.Transpose2D() // [T, mels]
	if err != nil {
		return nil, err
	}

	// Target magnitudes per frame from the approximate filterbank inverse.
	mags := make([][]float64, frames)
	for t := 0; t < frames; t++ {
		row, err := melT.Row(int64(t))
		if err != nil {
			return nil, err
		}

		frame := make([]float64, len(row))
		for i, v := range row {
			frame[i] = float64(v)
		}

		if mags[t], err = dsp.MelToLinear(g.bank, frame); err != nil {
			return nil, err
		}
	}

	// Zero-phase start.
	spectra := make([]dsp.Spectrum, frames)
	for t := range spectra {
		spectra[t] = dsp.Spectrum{Re: append([]float64(nil), mags[t]...), Im: make([]float64, bins)}
	}

	var signal []float64

	for it := 0; it < g.iters; it++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if signal, err = dsp.ISTFT(spectra, g.frames.FFTSize, g.frames.HopSize, g.frames.WinSize, length); err != nil {
			return nil, err
		}

		if it == g.iters-1 {
			break
		}

		reproj, err := dsp.STFT(signal, g.frames.FFTSize, g.frames.HopSize, g.frames.WinSize)
		if err != nil {
			return nil, err
		}

		if len(reproj) < frames {
			return nil, fmt.Errorf("griffin-lim reprojection produced %d frames, want %d", len(reproj), frames)
		}

		// Keep the recovered phase, restore the target magnitude.
		for t := 0; t < frames; t++ {
			for b := 0; b < bins; b++ {
				re, im := reproj[t].Re[b], reproj[t].Im[b]
				mag := math.Hypot(re, im)

				if mag < 1e-10 {
					spectra[t].Re[b] = mags[t][b]
					spectra[t].Im[b] = 0
					continue
				}

				spectra[t].Re[b] = mags[t][b] * re / mag
				spectra[t].Im[b] = mags[t][b] * im / mag
			}
		}
	}

	out := make([]float32, length)
	for i, v := range signal {
		out[i] = float32(v)
	}

	return out, nil
}
