package native

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/example/go-taco-tts/internal/pipeline"
	"github.com/example/go-taco-tts/internal/runtime/tensor"
)

// WaveGlowConfig holds the flow-model parameters not derivable from the
// checkpoint.
type WaveGlowConfig struct {
	Groups int
	Sigma  float64
	Frames pipeline.FrameParams
}

func DefaultWaveGlowConfig() WaveGlowConfig {
	return WaveGlowConfig{Groups: 8, Sigma: 0.9}
}

type waveGlowFlow struct {
	conv *Conv          // coupling network [2*half, half+mels, k]
	inv  *tensor.Tensor // inverse of the 1x1 mixing matrix [groups, groups]
}

// WaveGlowModel inverts a stack of normalizing flows: audio is produced in
// one shot by drawing a Gaussian latent of the target length and running the
// flows backwards, conditioned on the upsampled mel spectrogram. The mixing
// matrices are inverted once at load time.
type WaveGlowModel struct {
	cfg   WaveGlowConfig
	flows []waveGlowFlow
	half  int64
}

// LoadWaveGlowModel reads the flow model from a safetensors checkpoint.
func LoadWaveGlowModel(path string, cfg WaveGlowConfig) (*WaveGlowModel, error) {
	vb, err := OpenVarBuilder(path)
	if err != nil {
		return nil, err
	}

	return LoadWaveGlowModelFromVars(vb, cfg)
}

func LoadWaveGlowModelFromVars(vb *VarBuilder, cfg WaveGlowConfig) (*WaveGlowModel, error) {
	if cfg.Groups <= 0 || cfg.Groups%2 != 0 {
		return nil, fmt.Errorf("native: waveglow group size %d must be positive and even", cfg.Groups)
	}

	if cfg.Sigma <= 0 {
		return nil, fmt.Errorf("native: waveglow sigma %v must be positive", cfg.Sigma)
	}

	if err := cfg.Frames.Validate(); err != nil {
		return nil, err
	}

	if cfg.Frames.HopSize%cfg.Groups != 0 {
		return nil, fmt.Errorf("native: hop %d is not a multiple of group size %d", cfg.Frames.HopSize, cfg.Groups)
	}

	m := &WaveGlowModel{cfg: cfg, half: int64(cfg.Groups / 2)}
	groups := int64(cfg.Groups)

	for k := 0; ; k++ {
		flow := vb.Path("flows", fmt.Sprintf("%d", k))
		if !flow.Has("conv.weight") {
			break
		}

		conv, err := loadConv(flow, "conv", 0)
		if err != nil {
			return nil, err
		}

		if conv.Weight.Dim(0) != groups || conv.Weight.Dim(1) != m.half+int64(cfg.Frames.Mels) {
			return nil, fmt.Errorf("native: flow %d coupling conv shape %v does not match groups=%d mels=%d",
				k, conv.Weight.Shape(), cfg.Groups, cfg.Frames.Mels)
		}

		conv.Padding = (conv.Weight.Dim(2) - 1) / 2

		mix, err := flow.Tensor("mix.weight", groups, groups)
		if err != nil {
			return nil, err
		}

		inv, err := invertMatrix(mix)
		if err != nil {
			return nil, fmt.Errorf("native: flow %d mixing matrix: %w", k, err)
		}

		m.flows = append(m.flows, waveGlowFlow{conv: conv, inv: inv})
	}

	if len(m.flows) == 0 {
		return nil, errors.New("native: waveglow checkpoint has no flows")
	}

	return m, nil
}

// Frames reports the frame conventions the model was trained with.
func (m *WaveGlowModel) Frames() pipeline.FrameParams { return m.cfg.Frames }

// InferRow synthesizes one spectrogram row [mels, T] into exactly
// T*HopSize samples, consuming Gaussian noise from rng.
func (m *WaveGlowModel) InferRow(ctx context.Context, mel *tensor.Tensor, rng *rand.Rand) ([]float32, error) {
	if mel == nil || mel.Rank() != 2 || mel.Dim(0) != int64(m.cfg.Frames.Mels) {
		return nil, fmt.Errorf("native: waveglow wants [%d, T] input, got %v", m.cfg.Frames.Mels, mel.Shape())
	}

	if rng == nil {
		return nil, errors.New("native: waveglow requires an explicit rng")
	}

	frames := int(mel.Dim(1))
	groups := m.cfg.Groups
	repeat := m.cfg.Frames.HopSize / groups
	length := int64(frames * repeat)

	cond, err := upsampleFrames(mel, repeat) // [mels, length]
	if err != nil {
		return nil, err
	}

	z := make([]float32, int64(groups)*length)
	for i := range z {
		z[i] = float32(rng.NormFloat64() * m.cfg.Sigma)
	}

	x, err := tensor.New(z, int64(groups), length)
	if err != nil {
		return nil, err
	}

	for k := len(m.flows) - 1; k >= 0; k-- {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if x, err = m.invertFlow(m.flows[k], x, cond); err != nil {
			return nil, fmt.Errorf("native: invert flow %d: %w", k, err)
		}
	}

	// Unfold channel groups back into consecutive samples.
	data := x.RawData()
	out := make([]float32, int64(groups)*length)

	for c := 0; c < groups; c++ {
		for i := int64(0); i < length; i++ {
			out[i*int64(groups)+int64(c)] = data[int64(c)*length+i]
		}
	}

	return out, nil
}

// invertFlow undoes one flow step: the affine coupling first, then the 1x1
// channel mix.
func (m *WaveGlowModel) invertFlow(flow waveGlowFlow, x, cond *tensor.Tensor) (*tensor.Tensor, error) {
	length := x.Dim(1)

	a, err := x.Narrow(0, 0, m.half)
	if err != nil {
		return nil, err
	}

	b, err := x.Narrow(0, m.half, m.half)
	if err != nil {
		return nil, err
	}

	wnIn, err := tensor.Concat(0, a, cond)
	if err != nil {
		return nil, err
	}

	wnOut, err := flow.conv.Forward(wnIn) // [2*half, length]
	if err != nil {
		return nil, err
	}

	logS := wnOut.RawData()[:m.half*length]
	shift := wnOut.RawData()[m.half*length:]
	bData := b.Clone()

	for i, v := range bData.RawData() {
		// Clamp the scale exponent so a badly scaled checkpoint degrades
		// instead of overflowing.
		s := math.Max(-7, math.Min(7, float64(logS[i])))
		bData.RawData()[i] = (v - shift[i]) * float32(math.Exp(-s))
	}

	mixed, err := tensor.Concat(0, a, bData)
	if err != nil {
		return nil, err
	}

	return tensor.MatMul(flow.inv, mixed)
}

// upsampleFrames repeats every column of x [mels, T] repeat times.
func upsampleFrames(x *tensor.Tensor, repeat int) (*tensor.Tensor, error) {
	if repeat <= 0 {
		return nil, fmt.Errorf("native: upsample repeat %d must be positive", repeat)
	}

	mels, frames := x.Dim(0), x.Dim(1)
	src := x.RawData()
	out := make([]float32, mels*frames*int64(repeat))

	for m := int64(0); m < mels; m++ {
		for t := int64(0); t < frames; t++ {
			v := src[m*frames+t]
			base := m*frames*int64(repeat) + t*int64(repeat)

			for r := int64(0); r < int64(repeat); r++ {
				out[base+r] = v
			}
		}
	}

	return tensor.New(out, mels, frames*int64(repeat))
}

// invertMatrix computes the inverse of a square matrix by Gauss-Jordan
// elimination with partial pivoting.
func invertMatrix(m *tensor.Tensor) (*tensor.Tensor, error) {
	if m == nil || m.Rank() != 2 || m.Dim(0) != m.Dim(1) {
		return nil, errors.New("native: matrix inversion needs a square matrix")
	}

	n := int(m.Dim(0))

	// Work in float64 on an [A | I] augmented system.
	aug := make([][]float64, n)
	for i := 0; i < n; i++ {
		aug[i] = make([]float64, 2*n)
		for j := 0; j < n; j++ {
			aug[i][j] = float64(m.RawData()[i*n+j])
		}
		aug[i][n+i] = 1
	}

	for col := 0; col < n; col++ {
		pivot := col
		for r := col + 1; r < n; r++ {
			if math.Abs(aug[r][col]) > math.Abs(aug[pivot][col]) {
				pivot = r
			}
		}

		if math.Abs(aug[pivot][col]) < 1e-12 {
			return nil, fmt.Errorf("native: matrix is singular at column %d", col)
		}

		aug[col], aug[pivot] = aug[pivot], aug[col]

		inv := 1.0 / aug[col][col]
		for j := range aug[col] {
			aug[col][j] *= inv
		}

		for r := 0; r < n; r++ {
			if r == col || aug[r][col] == 0 {
				continue
			}

			factor := aug[r][col]
			for j := range aug[r] {
				aug[r][j] -= factor * aug[col][j]
			}
		}
	}

	out := make([]float32, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			out[i*n+j] = float32(aug[i][n+j])
		}
	}

	return tensor.New(out, int64(n), int64(n))
}
