package vocoder

import (
	"context"
	"errors"
	"math/rand"

	"github.com/example/go-taco-tts/internal/native"
	"github.com/example/go-taco-tts/internal/pipeline"
	"github.com/example/go-taco-tts/internal/runtime/tensor"
)

// WaveRNN adapts the autoregressive sample model to the vocoder contract.
type WaveRNN struct {
	model *native.WaveRNNModel
}

func NewWaveRNN(model *native.WaveRNNModel) (*WaveRNN, error) {
	if model == nil {
		return nil, errors.New("vocoder: wavernn model is nil")
	}

	return &WaveRNN{model: model}, nil
}

func (v *WaveRNN) Frames() pipeline.FrameParams { return v.model.Frames() }

// Deterministic reports false: every sample is drawn from the rng.
func (v *WaveRNN) Deterministic() bool { return false }

func (v *WaveRNN) Vocode(ctx context.Context, spec *pipeline.Spectrogram, rng *rand.Rand) (*pipeline.Waveform, error) {
	if rng == nil {
		return nil, errors.New("vocoder: wavernn requires an explicit rng")
	}

	return vocodeRows(ctx, spec, rng, v.model.Frames().SampleRate,
		func(ctx context.Context, mel *tensor.Tensor, rng *rand.Rand) ([]float32, error) {
			return v.model.GenerateRow(ctx, mel, rng)
		})
}

// WaveGlow adapts the flow-based sample model to the vocoder contract.
type WaveGlow struct {
	model *native.WaveGlowModel
}

func NewWaveGlow(model *native.WaveGlowModel) (*WaveGlow, error) {
	if model == nil {
		return nil, errors.New("vocoder: waveglow model is nil")
	}

	return &WaveGlow{model: model}, nil
}

func (v *WaveGlow) Frames() pipeline.FrameParams { return v.model.Frames() }

// Deterministic reports false: the latent is drawn from the rng.
func (v *WaveGlow) Deterministic() bool { return false }

func (v *WaveGlow) Vocode(ctx context.Context, spec *pipeline.Spectrogram, rng *rand.Rand) (*pipeline.Waveform, error) {
	if rng == nil {
		return nil, errors.New("vocoder: waveglow requires an explicit rng")
	}

	return vocodeRows(ctx, spec, rng, v.model.Frames().SampleRate,
		func(ctx context.Context, mel *tensor.Tensor, rng *rand.Rand) ([]float32, error) {
			return v.model.InferRow(ctx, mel, rng)
		})
}
