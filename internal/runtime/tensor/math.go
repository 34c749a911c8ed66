package tensor

import (
	"errors"
	"fmt"
	"math"
)

// MatMul multiplies two rank-2 tensors: [m, k] x [k, n] -> [m, n].
func MatMul(a, b *Tensor) (*Tensor, error) {
	if a == nil || b == nil {
		return nil, errors.New("tensor: matmul requires non-nil inputs")
	}

	if a.Rank() != 2 || b.Rank() != 2 {
		return nil, fmt.Errorf("tensor: matmul requires rank 2, got %d and %d", a.Rank(), b.Rank())
	}

	m, k := a.shape[0], a.shape[1]
	if b.shape[0] != k {
		return nil, fmt.Errorf("tensor: matmul mismatch: %v x %v", a.shape, b.shape)
	}

	n := b.shape[1]
	out := make([]float32, m*n)

	for i := int64(0); i < m; i++ {
		aRow := a.data[i*k : (i+1)*k]
		outRow := out[i*n : (i+1)*n]

		for kk := int64(0); kk < k; kk++ {
			av := aRow[kk]
			if av == 0 {
				continue
			}

			bRow := b.data[kk*n : (kk+1)*n]
			for j := range outRow {
				outRow[j] += av * bRow[j]
			}
		}
	}

	return fromOwned(out, []int64{m, n}), nil
}

// Linear applies y = x*W^T + b. x is [..., in], weight is [out, in], bias is
// [out] or nil. The leading dimensions of x are preserved.
func Linear(x, weight, bias *Tensor) (*Tensor, error) {
	if x == nil || weight == nil {
		return nil, errors.New("tensor: linear requires non-nil x and weight")
	}

	if x.Rank() < 1 || weight.Rank() != 2 {
		return nil, fmt.Errorf("tensor: linear wants x rank >= 1 and weight rank 2, got %d and %d", x.Rank(), weight.Rank())
	}

	in := x.shape[x.Rank()-1]
	outDim := weight.shape[0]

	if weight.shape[1] != in {
		return nil, fmt.Errorf("tensor: linear mismatch: x last dim %d, weight in dim %d", in, weight.shape[1])
	}

	if bias != nil && (bias.Rank() != 1 || bias.shape[0] != outDim) {
		return nil, fmt.Errorf("tensor: linear bias shape %v does not match out dim %d", bias.Shape(), outDim)
	}

	rows := len(x.data) / int(in)
	out := make([]float32, rows*int(outDim))
	inI, outI := int(in), int(outDim)

	for r := 0; r < rows; r++ {
		xRow := x.data[r*inI : (r+1)*inI]
		base := r * outI

		for o := 0; o < outI; o++ {
			wRow := weight.data[o*inI : (o+1)*inI]

			var sum float32
			for i, v := range xRow {
				sum += v * wRow[i]
			}

			if bias != nil {
				sum += bias.data[o]
			}

			out[base+o] = sum
		}
	}

	outShape := append([]int64(nil), x.shape...)
	outShape[len(outShape)-1] = outDim

	return fromOwned(out, outShape), nil
}

// Softmax normalizes the last dimension to a probability distribution.
func Softmax(x *Tensor) (*Tensor, error) {
	if x == nil || x.Rank() < 1 {
		return nil, errors.New("tensor: softmax requires rank >= 1")
	}

	width := int(x.shape[x.Rank()-1])
	if width == 0 {
		return nil, errors.New("tensor: softmax over empty dimension")
	}

	out := x.Clone()
	rows := len(out.data) / width

	for r := 0; r < rows; r++ {
		row := out.data[r*width : (r+1)*width]

		maxV := float32(math.Inf(-1))
		for _, v := range row {
			if v > maxV {
				maxV = v
			}
		}

		var sum float64
		for i, v := range row {
			e := math.Exp(float64(v - maxV))
			row[i] = float32(e)
			sum += e
		}

		if sum == 0 {
			return nil, errors.New("tensor: softmax normalization sum is zero")
		}

		inv := float32(1.0 / sum)
		for i := range row {
			row[i] *= inv
		}
	}

	return out, nil
}

// Apply returns a copy with fn applied to every element.
func Apply(x *Tensor, fn func(float32) float32) *Tensor {
	if x == nil {
		return nil
	}

	out := x.Clone()
	for i, v := range out.data {
		out.data[i] = fn(v)
	}

	return out
}

// Tanh applies the hyperbolic tangent elementwise.
func Tanh(x *Tensor) *Tensor {
	return Apply(x, func(v float32) float32 { return float32(math.Tanh(float64(v))) })
}

// Sigmoid applies the logistic function elementwise.
func Sigmoid(x *Tensor) *Tensor {
	return Apply(x, SigmoidScalar)
}

// ReLU applies max(0, x) elementwise.
func ReLU(x *Tensor) *Tensor {
	return Apply(x, func(v float32) float32 {
		if v < 0 {
			return 0
		}
		return v
	})
}

// SigmoidScalar is the logistic function for a single value.
func SigmoidScalar(v float32) float32 {
	return float32(1.0 / (1.0 + math.Exp(float64(-v))))
}

// Add returns a + b for tensors of identical shape.
func Add(a, b *Tensor) (*Tensor, error) {
	if err := sameShape(a, b, "add"); err != nil {
		return nil, err
	}

	out := a.Clone()
	for i, v := range b.data {
		out.data[i] += v
	}

	return out, nil
}

// Mul returns the elementwise product of tensors of identical shape.
func Mul(a, b *Tensor) (*Tensor, error) {
	if err := sameShape(a, b, "mul"); err != nil {
		return nil, err
	}

	out := a.Clone()
	for i, v := range b.data {
		out.data[i] *= v
	}

	return out, nil
}

// AddInPlace accumulates b into a.
func AddInPlace(a, b *Tensor) error {
	if err := sameShape(a, b, "add in place"); err != nil {
		return err
	}

	for i, v := range b.data {
		a.data[i] += v
	}

	return nil
}

// Scale multiplies every element of a copy by s.
func Scale(x *Tensor, s float32) *Tensor {
	return Apply(x, func(v float32) float32 { return v * s })
}

func sameShape(a, b *Tensor, op string) error {
	if a == nil || b == nil {
		return fmt.Errorf("tensor: %s requires non-nil inputs", op)
	}

	if len(a.shape) != len(b.shape) {
		return fmt.Errorf("tensor: %s shape mismatch %v vs %v", op, a.shape, b.shape)
	}

	for i := range a.shape {
		if a.shape[i] != b.shape[i] {
			return fmt.Errorf("tensor: %s shape mismatch %v vs %v", op, a.shape, b.shape)
		}
	}

	return nil
}
