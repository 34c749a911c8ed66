package native

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/example/go-taco-tts/internal/pipeline"
	"github.com/example/go-taco-tts/internal/runtime/ops"
	"github.com/example/go-taco-tts/internal/runtime/tensor"
)

// WaveRNNConfig holds the sample-model parameters not derivable from the
// checkpoint.
type WaveRNNConfig struct {
	Frames pipeline.FrameParams
}

// WaveRNNModel generates audio one sample at a time: a conditioning
// projection of the current mel frame plus the previous sample drive a GRU,
// and the next sample is drawn from a mu-law categorical output head. Every
// draw comes from the rng handed to GenerateRow.
type WaveRNNModel struct {
	cfg WaveRNNConfig

	cond *Linear // [condDim, mels]
	gru  *GRU    // in = 1 + condDim
	fc1  *Linear
	fc2  *Linear // [classes, fcDim]

	classes int
}

// LoadWaveRNNModel reads the sample model from a safetensors checkpoint.
func LoadWaveRNNModel(path string, cfg WaveRNNConfig) (*WaveRNNModel, error) {
	vb, err := OpenVarBuilder(path)
	if err != nil {
		return nil, err
	}

	return LoadWaveRNNModelFromVars(vb, cfg)
}

func LoadWaveRNNModelFromVars(vb *VarBuilder, cfg WaveRNNConfig) (*WaveRNNModel, error) {
	if err := cfg.Frames.Validate(); err != nil {
		return nil, err
	}

	m := &WaveRNNModel{cfg: cfg}

	var err error

	if m.cond, err = loadLinear(vb, "cond", true); err != nil {
		return nil, err
	}

	if m.cond.Weight.Dim(1) != int64(cfg.Frames.Mels) {
		return nil, fmt.Errorf("native: wavernn conditioning expects %d mels, config says %d", m.cond.Weight.Dim(1), cfg.Frames.Mels)
	}

	if m.gru, err = loadGRU(vb, "gru"); err != nil {
		return nil, err
	}

	if want := 1 + m.cond.Weight.Dim(0); m.gru.WIH.Dim(1) != want {
		return nil, fmt.Errorf("native: wavernn gru input %d does not match 1+condDim=%d", m.gru.WIH.Dim(1), want)
	}

	if m.fc1, err = loadLinear(vb, "fc1", true); err != nil {
		return nil, err
	}

	if m.fc2, err = loadLinear(vb, "fc2", true); err != nil {
		return nil, err
	}

	m.classes = int(m.fc2.Weight.Dim(0))
	if m.classes < 2 {
		return nil, fmt.Errorf("native: wavernn output head has %d classes", m.classes)
	}

	return m, nil
}

// Frames reports the frame conventions the model was trained with.
func (m *WaveRNNModel) Frames() pipeline.FrameParams { return m.cfg.Frames }

// GenerateRow synthesizes one spectrogram row [mels, T] into exactly
// T*HopSize samples.
func (m *WaveRNNModel) GenerateRow(ctx context.Context, mel *tensor.Tensor, rng *rand.Rand) ([]float32, error) {
	if mel == nil || mel.Rank() != 2 || mel.Dim(0) != int64(m.cfg.Frames.Mels) {
		return nil, fmt.Errorf("native: wavernn wants [%d, T] input, got %v", m.cfg.Frames.Mels, mel.Shape())
	}

	if rng == nil {
		return nil, errors.New("native: wavernn requires an explicit rng")
	}

	frames := int(mel.Dim(1))
	hop := m.cfg.Frames.HopSize
	out := make([]float32, 0, frames*hop)

	h, err := tensor.Zeros(m.gru.Hidden())
	if err != nil {
		return nil, err
	}

	melT, err := mel.Transpose2D() // [T, mels]
	if err != nil {
		return nil, err
	}

	var prev float32

	for t := 0; t < frames; t++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		frame, err := melT.Row(int64(t))
		if err != nil {
			return nil, err
		}

		frameT, err := tensor.New(frame, int64(len(frame)))
		if err != nil {
			return nil, err
		}

		condT, err := m.cond.Forward(frameT)
		if err != nil {
			return nil, err
		}

		cond := condT.RawData()
		x := make([]float32, 1+len(cond))
		copy(x[1:], cond)

		for i := 0; i < hop; i++ {
			x[0] = prev

			xt, err := tensor.New(x, int64(len(x)))
			if err != nil {
				return nil, err
			}

			if h, err = m.gru.Step(xt, h); err != nil {
				return nil, err
			}

			hid, err := m.fc1.Forward(h)
			if err != nil {
				return nil, err
			}

			logits, err := m.fc2.Forward(tensor.ReLU(hid))
			if err != nil {
				return nil, err
			}

			probs, err := tensor.Softmax(logits)
			if err != nil {
				return nil, err
			}

			idx, err := ops.SampleCategorical(probs.RawData(), rng)
			if err != nil {
				return nil, err
			}

			prev = muLawDecode(idx, m.classes)
			out = append(out, prev)
		}
	}

	return out, nil
}

// muLawDecode expands a class index back to a sample in [-1, 1].
func muLawDecode(idx, classes int) float32 {
	mu := float64(classes - 1)
	y := 2.0*float64(idx)/mu - 1.0
	x := math.Copysign((math.Pow(1.0+mu, math.Abs(y))-1.0)/mu, y)

	return float32(x)
}

// muLawEncode quantizes a sample in [-1, 1] to a class index.
func muLawEncode(x float32, classes int) int {
	mu := float64(classes - 1)
	v := math.Max(-1, math.Min(1, float64(x)))
	y := math.Copysign(math.Log1p(mu*math.Abs(v))/math.Log1p(mu), v)
	idx := int((y + 1.0) / 2.0 * mu)

	if idx < 0 {
		return 0
	}
	if idx >= classes {
		return classes - 1
	}

	return idx
}
