package onnx

import "fmt"

// Tensor is the wire type exchanged with ONNX Runtime sessions: a dense
// float32 or int64 payload with an explicit shape.
type Tensor struct {
	shape []int64
	data  any
}

// NewTensor wraps data with a shape. The element count must match.
func NewTensor[T ~int64 | ~float32](data []T, shape []int64) (*Tensor, error) {
	count := int64(1)
	for _, d := range shape {
		if d < 0 {
			return nil, fmt.Errorf("onnx: tensor shape %v has negative dimension", shape)
		}
		count *= d
	}

	if count != int64(len(data)) {
		return nil, fmt.Errorf("onnx: data length %d does not match shape %v", len(data), shape)
	}

	t := &Tensor{shape: append([]int64(nil), shape...)}

	switch any(data).(type) {
	case []float32:
		converted := make([]float32, len(data))
		for i, v := range data {
			converted[i] = float32(v)
		}
		t.data = converted
	case []int64:
		converted := make([]int64, len(data))
		for i, v := range data {
			converted[i] = int64(v)
		}
		t.data = converted
	}

	return t, nil
}

// Shape returns a copy of the tensor shape.
func (t *Tensor) Shape() []int64 {
	return append([]int64(nil), t.shape...)
}

// Dim returns the size of dimension i, or 0 when out of range.
func (t *Tensor) Dim(i int) int64 {
	if t == nil || i < 0 || i >= len(t.shape) {
		return 0
	}

	return t.shape[i]
}

// Float32s returns the float32 payload.
func (t *Tensor) Float32s() ([]float32, error) {
	v, ok := t.data.([]float32)
	if !ok {
		return nil, fmt.Errorf("onnx: tensor holds %T, want []float32", t.data)
	}

	return v, nil
}

// Int64s returns the int64 payload.
func (t *Tensor) Int64s() ([]int64, error) {
	v, ok := t.data.([]int64)
	if !ok {
		return nil, fmt.Errorf("onnx: tensor holds %T, want []int64", t.data)
	}

	return v, nil
}
