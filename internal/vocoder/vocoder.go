// Package vocoder provides the pipeline.Vocoder implementations: the
// deterministic Griffin-Lim inverter and wrappers around the neural sample
// models. All of them decode batch rows independently and keep row order.
package vocoder

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/example/go-taco-tts/internal/pipeline"
	"github.com/example/go-taco-tts/internal/runtime/tensor"
)

// Vocoder kind names accepted by configuration.
const (
	KindGriffinLim = "griffinlim"
	KindWaveRNN    = "wavernn"
	KindWaveGlow   = "waveglow"
)

// rowFunc synthesizes one non-empty spectrogram row [mels, T].
type rowFunc func(ctx context.Context, mel *tensor.Tensor, rng *rand.Rand) ([]float32, error)

// vocodeRows applies fn to every row of the batch, mapping empty rows to
// empty sample slices in place.
func vocodeRows(ctx context.Context, spec *pipeline.Spectrogram, rng *rand.Rand, sampleRate int, fn rowFunc) (*pipeline.Waveform, error) {
	if spec == nil || spec.Batch == 0 {
		return nil, fmt.Errorf("vocoder: empty spectrogram batch")
	}

	samples := make([][]float32, spec.Batch)

	for b := 0; b < spec.Batch; b++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		row, err := spec.Row(b)
		if err != nil {
			return nil, fmt.Errorf("vocoder: row %d: %w", b, err)
		}

		if row == nil {
			samples[b] = []float32{}
			continue
		}

		out, err := fn(ctx, row, rng)
		if err != nil {
			return nil, fmt.Errorf("vocoder: row %d: %w", b, err)
		}

		samples[b] = out
	}

	return &pipeline.Waveform{Samples: samples, SampleRate: sampleRate}, nil
}
