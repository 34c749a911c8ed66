package native

import (
	"errors"
	"fmt"

	"github.com/example/go-taco-tts/internal/runtime/ops"
	"github.com/example/go-taco-tts/internal/runtime/tensor"
)

type Linear struct {
	Weight *tensor.Tensor // [out, in]
	Bias   *tensor.Tensor // optional [out]
}

func loadLinear(vb *VarBuilder, name string, withBias bool) (*Linear, error) {
	w, err := vb.Tensor(name + ".weight")
	if err != nil {
		return nil, err
	}

	if w.Rank() != 2 {
		return nil, fmt.Errorf("native: linear %q weight must be rank-2, got %v", name, w.Shape())
	}

	var b *tensor.Tensor

	if withBias {
		t, ok, err := vb.TensorMaybe(name + ".bias")
		if err != nil {
			return nil, err
		}

		if ok {
			if t.Rank() != 1 || t.Dim(0) != w.Dim(0) {
				return nil, fmt.Errorf("native: linear %q bias shape %v incompatible with weight %v", name, t.Shape(), w.Shape())
			}

			b = t
		}
	}

	return &Linear{Weight: w, Bias: b}, nil
}

func (l *Linear) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if l == nil || l.Weight == nil {
		return nil, errors.New("native: linear is not initialized")
	}

	return tensor.Linear(x, l.Weight, l.Bias)
}

// Conv is a 1D convolution layer with symmetric zero padding.
type Conv struct {
	Weight  *tensor.Tensor // [out, in, kernel]
	Bias    *tensor.Tensor // optional [out]
	Padding int64
}

func loadConv(vb *VarBuilder, name string, padding int64) (*Conv, error) {
	w, err := vb.Tensor(name + ".weight")
	if err != nil {
		return nil, err
	}

	if w.Rank() != 3 {
		return nil, fmt.Errorf("native: conv %q weight must be rank-3, got %v", name, w.Shape())
	}

	b, ok, err := vb.TensorMaybe(name + ".bias")
	if err != nil {
		return nil, err
	}

	if ok && (b.Rank() != 1 || b.Dim(0) != w.Dim(0)) {
		return nil, fmt.Errorf("native: conv %q bias shape %v incompatible with weight %v", name, b.Shape(), w.Shape())
	}

	return &Conv{Weight: w, Bias: b, Padding: padding}, nil
}

// Forward convolves x [in, length] to [out, length'] with stride 1.
func (c *Conv) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if c == nil || c.Weight == nil {
		return nil, errors.New("native: conv is not initialized")
	}

	return ops.Conv1D(x, c.Weight, c.Bias, 1, c.Padding, 1)
}

// GRU is a single-direction GRU cell with the stacked reset/update/candidate
// weight layout.
type GRU struct {
	WIH *tensor.Tensor // [3h, in]
	WHH *tensor.Tensor // [3h, h]
	BIH *tensor.Tensor // optional [3h]
	BHH *tensor.Tensor // optional [3h]
}

func loadGRU(vb *VarBuilder, name string) (*GRU, error) {
	wih, err := vb.Tensor(name + ".weight_ih")
	if err != nil {
		return nil, err
	}

	whh, err := vb.Tensor(name + ".weight_hh")
	if err != nil {
		return nil, err
	}

	bih, _, err := vb.TensorMaybe(name + ".bias_ih")
	if err != nil {
		return nil, err
	}

	bhh, _, err := vb.TensorMaybe(name + ".bias_hh")
	if err != nil {
		return nil, err
	}

	if whh.Rank() != 2 || wih.Rank() != 2 || wih.Dim(0) != whh.Dim(0) || whh.Dim(0) != 3*whh.Dim(1) {
		return nil, fmt.Errorf("native: gru %q weight shapes %v / %v are inconsistent", name, wih.Shape(), whh.Shape())
	}

	return &GRU{WIH: wih, WHH: whh, BIH: bih, BHH: bhh}, nil
}

// Hidden returns the state width of the cell.
func (g *GRU) Hidden() int64 {
	return g.WHH.Dim(1)
}

// Step advances the cell: x [in], h [hidden] -> new hidden.
func (g *GRU) Step(x, h *tensor.Tensor) (*tensor.Tensor, error) {
	if g == nil || g.WIH == nil || g.WHH == nil {
		return nil, errors.New("native: gru is not initialized")
	}

	return ops.GRUStep(x, h, g.WIH, g.WHH, g.BIH, g.BHH)
}

// concatVec concatenates rank-1 tensors.
func concatVec(parts ...*tensor.Tensor) (*tensor.Tensor, error) {
	total := int64(0)
	for _, p := range parts {
		if p == nil || p.Rank() != 1 {
			return nil, errors.New("native: concat requires rank-1 parts")
		}
		total += p.Dim(0)
	}

	out := make([]float32, 0, total)
	for _, p := range parts {
		out = append(out, p.RawData()...)
	}

	return tensor.New(out, total)
}
