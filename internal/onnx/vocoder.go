package onnx

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"github.com/example/go-taco-tts/internal/pipeline"
)

// VocoderConfig describes an exported flow-vocoder graph.
//
// The graph contract: inputs "mel" [1, mels, T] float32 and "z"
// [1, groups, T*hop/groups] float32; output "audio" [1, T*hop] float32.
// The latent z is drawn on the Go side so seeding stays in the caller's
// hands even with the graph backend.
type VocoderConfig struct {
	ModelPath string
	Runner    RunnerConfig
	Frames    pipeline.FrameParams

	Groups int
	Sigma  float64
}

// Vocoder runs spectrogram inversion through an ONNX graph.
type Vocoder struct {
	cfg    VocoderConfig
	runner *Runner
}

func NewVocoder(cfg VocoderConfig) (*Vocoder, error) {
	if err := cfg.Frames.Validate(); err != nil {
		return nil, err
	}

	if cfg.Groups <= 0 || cfg.Frames.HopSize%cfg.Groups != 0 {
		return nil, fmt.Errorf("onnx: vocoder group size %d must divide hop %d", cfg.Groups, cfg.Frames.HopSize)
	}

	if cfg.Sigma <= 0 {
		return nil, fmt.Errorf("onnx: vocoder sigma %v must be positive", cfg.Sigma)
	}

	runner, err := NewRunner("vocoder", cfg.ModelPath, cfg.Runner)
	if err != nil {
		return nil, err
	}

	return &Vocoder{cfg: cfg, runner: runner}, nil
}

func (v *Vocoder) Frames() pipeline.FrameParams { return v.cfg.Frames }

// Deterministic reports false: the latent is drawn from the rng.
func (v *Vocoder) Deterministic() bool { return false }

// Close releases the underlying session.
func (v *Vocoder) Close() {
	if v != nil && v.runner != nil {
		v.runner.Close()
	}
}

func (v *Vocoder) Vocode(ctx context.Context, spec *pipeline.Spectrogram, rng *rand.Rand) (*pipeline.Waveform, error) {
	if spec == nil || spec.Batch == 0 {
		return nil, errors.New("onnx: vocode on empty spectrogram")
	}

	if rng == nil {
		return nil, errors.New("onnx: vocoder requires an explicit rng")
	}

	samples := make([][]float32, spec.Batch)

	for b := 0; b < spec.Batch; b++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		row, err := spec.Row(b)
		if err != nil {
			return nil, err
		}

		if row == nil {
			samples[b] = []float32{}
			continue
		}

		if samples[b], err = v.vocodeRow(ctx, row.RawData(), int(row.Dim(1)), rng); err != nil {
			return nil, fmt.Errorf("onnx: vocode row %d: %w", b, err)
		}
	}

	return &pipeline.Waveform{Samples: samples, SampleRate: v.cfg.Frames.SampleRate}, nil
}

func (v *Vocoder) vocodeRow(ctx context.Context, melData []float32, frames int, rng *rand.Rand) ([]float32, error) {
	mel, err := NewTensor(melData, []int64{1, int64(v.cfg.Frames.Mels), int64(frames)})
	if err != nil {
		return nil, err
	}

	wantSamples := frames * v.cfg.Frames.HopSize
	latentLen := wantSamples / v.cfg.Groups

	noise := make([]float32, v.cfg.Groups*latentLen)
	for i := range noise {
		noise[i] = float32(rng.NormFloat64() * v.cfg.Sigma)
	}

	z, err := NewTensor(noise, []int64{1, int64(v.cfg.Groups), int64(latentLen)})
	if err != nil {
		return nil, err
	}

	outputs, err := v.runner.Run(ctx, map[string]*Tensor{"mel": mel, "z": z})
	if err != nil {
		return nil, err
	}

	audio, ok := outputs["audio"]
	if !ok {
		return nil, errors.New("graph produced no \"audio\" output")
	}

	data, err := audio.Float32s()
	if err != nil {
		return nil, err
	}

	if len(data) < wantSamples {
		return nil, fmt.Errorf("graph produced %d samples, want %d", len(data), wantSamples)
	}

	return append([]float32(nil), data[:wantSamples]...), nil
}
