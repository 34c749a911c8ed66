// Package tensor implements the dense float32 math the native model graphs
// run on. Tensors are row-major and immutable-by-convention: operations
// return fresh tensors unless their name says InPlace.
package tensor

import (
	"errors"
	"fmt"
	"math"
)

// Tensor is a dense, row-major float32 tensor.
type Tensor struct {
	shape []int64
	data  []float32
}

// New creates a tensor by copying data. len(data) must match the shape.
func New(data []float32, shape ...int64) (*Tensor, error) {
	n, err := elemCount(shape)
	if err != nil {
		return nil, err
	}

	if len(data) != n {
		return nil, fmt.Errorf("tensor: data length %d does not match shape %v (%d elements)", len(data), shape, n)
	}

	return &Tensor{
		shape: append([]int64(nil), shape...),
		data:  append([]float32(nil), data...),
	}, nil
}

// Zeros creates a zero-filled tensor.
func Zeros(shape ...int64) (*Tensor, error) {
	n, err := elemCount(shape)
	if err != nil {
		return nil, err
	}

	return &Tensor{
		shape: append([]int64(nil), shape...),
		data:  make([]float32, n),
	}, nil
}

// Full creates a tensor filled with value.
func Full(value float32, shape ...int64) (*Tensor, error) {
	t, err := Zeros(shape...)
	if err != nil {
		return nil, err
	}

	for i := range t.data {
		t.data[i] = value
	}

	return t, nil
}

// fromOwned wraps data and shape without copying. Internal constructor for
// ops that build their output buffer themselves; callers hand over ownership.
func fromOwned(data []float32, shape []int64) *Tensor {
	return &Tensor{shape: shape, data: data}
}

// Shape returns a copy of the tensor shape.
func (t *Tensor) Shape() []int64 {
	if t == nil {
		return nil
	}

	return append([]int64(nil), t.shape...)
}

// Dim returns the size of dimension i, supporting negative indices.
func (t *Tensor) Dim(i int) int64 {
	if t == nil {
		return 0
	}

	if i < 0 {
		i += len(t.shape)
	}

	if i < 0 || i >= len(t.shape) {
		return 0
	}

	return t.shape[i]
}

// Rank returns the number of dimensions.
func (t *Tensor) Rank() int {
	if t == nil {
		return 0
	}

	return len(t.shape)
}

// Len returns the number of elements.
func (t *Tensor) Len() int {
	if t == nil {
		return 0
	}

	return len(t.data)
}

// Data returns a copy of the underlying values.
func (t *Tensor) Data() []float32 {
	if t == nil {
		return nil
	}

	return append([]float32(nil), t.data...)
}

// RawData returns the underlying value slice. Callers must treat it as
// read-only unless they own the tensor.
func (t *Tensor) RawData() []float32 {
	if t == nil {
		return nil
	}

	return t.data
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	if t == nil {
		return nil
	}

	return &Tensor{
		shape: append([]int64(nil), t.shape...),
		data:  append([]float32(nil), t.data...),
	}
}

// Reshape returns a copy of the tensor with a new shape of equal element count.
func (t *Tensor) Reshape(shape ...int64) (*Tensor, error) {
	if t == nil {
		return nil, errors.New("tensor: reshape on nil tensor")
	}

	n, err := elemCount(shape)
	if err != nil {
		return nil, err
	}

	if n != len(t.data) {
		return nil, fmt.Errorf("tensor: cannot reshape %v (%d elements) to %v (%d elements)", t.shape, len(t.data), shape, n)
	}

	out := t.Clone()
	out.shape = append([]int64(nil), shape...)

	return out, nil
}

// MustReshape is Reshape for shapes the caller knows are element-count
// compatible; it panics otherwise.
func (t *Tensor) MustReshape(shape ...int64) *Tensor {
	out, err := t.Reshape(shape...)
	if err != nil {
		panic(err)
	}

	return out
}

// Row returns row i of a rank-2 tensor as a copy.
func (t *Tensor) Row(i int64) ([]float32, error) {
	if t == nil || t.Rank() != 2 {
		return nil, fmt.Errorf("tensor: row requires rank 2, got %d", t.Rank())
	}

	if i < 0 || i >= t.shape[0] {
		return nil, fmt.Errorf("tensor: row %d out of range [0, %d)", i, t.shape[0])
	}

	w := t.shape[1]

	return append([]float32(nil), t.data[i*w:(i+1)*w]...), nil
}

// Narrow slices length elements starting at start along dim.
func (t *Tensor) Narrow(dim int, start, length int64) (*Tensor, error) {
	if t == nil {
		return nil, errors.New("tensor: narrow on nil tensor")
	}

	dim, err := normDim(dim, len(t.shape))
	if err != nil {
		return nil, fmt.Errorf("tensor: narrow: %w", err)
	}

	if start < 0 || length < 0 || start+length > t.shape[dim] {
		return nil, fmt.Errorf("tensor: narrow range [%d:%d] out of bounds for dim %d size %d", start, start+length, dim, t.shape[dim])
	}

	inner := int64(1)
	for i := dim + 1; i < len(t.shape); i++ {
		inner *= t.shape[i]
	}

	outer := int64(1)
	for i := 0; i < dim; i++ {
		outer *= t.shape[i]
	}

	outShape := append([]int64(nil), t.shape...)
	outShape[dim] = length

	out := make([]float32, outer*length*inner)
	for o := int64(0); o < outer; o++ {
		srcBase := (o*t.shape[dim] + start) * inner
		dstBase := o * length * inner
		copy(out[dstBase:dstBase+length*inner], t.data[srcBase:srcBase+length*inner])
	}

	return fromOwned(out, outShape), nil
}

// Transpose2D swaps the two dimensions of a rank-2 tensor.
func (t *Tensor) Transpose2D() (*Tensor, error) {
	if t == nil || t.Rank() != 2 {
		return nil, fmt.Errorf("tensor: transpose2d requires rank 2, got %d", t.Rank())
	}

	rows, cols := t.shape[0], t.shape[1]
	out := make([]float32, len(t.data))

	for r := int64(0); r < rows; r++ {
		for c := int64(0); c < cols; c++ {
			out[c*rows+r] = t.data[r*cols+c]
		}
	}

	return fromOwned(out, []int64{cols, rows}), nil
}

// Concat joins tensors along dim. All non-dim dimensions must match.
func Concat(dim int, tensors ...*Tensor) (*Tensor, error) {
	if len(tensors) == 0 {
		return nil, errors.New("tensor: concat requires at least one tensor")
	}

	first := tensors[0]
	if first == nil {
		return nil, errors.New("tensor: concat tensor 0 is nil")
	}

	rank := len(first.shape)

	dim, err := normDim(dim, rank)
	if err != nil {
		return nil, fmt.Errorf("tensor: concat: %w", err)
	}

	outShape := append([]int64(nil), first.shape...)
	outShape[dim] = 0

	for i, x := range tensors {
		if x == nil {
			return nil, fmt.Errorf("tensor: concat tensor %d is nil", i)
		}

		if len(x.shape) != rank {
			return nil, fmt.Errorf("tensor: concat tensor %d rank %d != %d", i, len(x.shape), rank)
		}

		for d := 0; d < rank; d++ {
			if d != dim && x.shape[d] != first.shape[d] {
				return nil, fmt.Errorf("tensor: concat tensor %d shape %v incompatible with %v on dim %d", i, x.shape, first.shape, d)
			}
		}

		outShape[dim] += x.shape[dim]
	}

	inner := int64(1)
	for i := dim + 1; i < rank; i++ {
		inner *= outShape[i]
	}

	outer := int64(1)
	for i := 0; i < dim; i++ {
		outer *= outShape[i]
	}

	n, err := elemCount(outShape)
	if err != nil {
		return nil, err
	}

	out := make([]float32, n)
	for o := int64(0); o < outer; o++ {
		pos := int64(0)

		for _, x := range tensors {
			span := x.shape[dim] * inner
			src := o * span
			dst := o*outShape[dim]*inner + pos
			copy(out[dst:dst+span], x.data[src:src+span])
			pos += span
		}
	}

	return fromOwned(out, outShape), nil
}

func elemCount(shape []int64) (int, error) {
	total := int64(1)

	for i, d := range shape {
		if d < 0 {
			return 0, fmt.Errorf("tensor: shape %v has negative dimension at %d", shape, i)
		}

		if d > 0 && total > math.MaxInt64/d {
			return 0, fmt.Errorf("tensor: shape %v overflows element count", shape)
		}

		total *= d
	}

	if total > int64(^uint(0)>>1) {
		return 0, fmt.Errorf("tensor: shape %v exceeds platform int size", shape)
	}

	return int(total), nil
}

func normDim(dim, rank int) (int, error) {
	if dim < 0 {
		dim += rank
	}

	if dim < 0 || dim >= rank {
		return 0, fmt.Errorf("dim %d out of range for rank %d", dim, rank)
	}

	return dim, nil
}
