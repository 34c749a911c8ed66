package safetensors

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
)

// Writer assembles a safetensors payload in memory. Tensors are laid out in
// the order they were added; the header lists them with explicit offsets so
// readers never depend on that order.
type Writer struct {
	order    []string
	tensors  map[string]*Tensor
	metadata map[string]string
}

// NewWriter returns an empty writer.
func NewWriter() *Writer {
	return &Writer{tensors: map[string]*Tensor{}, metadata: map[string]string{}}
}

// SetMetadata records a __metadata__ key/value pair.
func (w *Writer) SetMetadata(key, value string) {
	w.metadata[key] = value
}

// Add registers a float32 tensor under name.
func (w *Writer) Add(name string, shape []int64, data []float32) error {
	if name == "" || name == "__metadata__" {
		return fmt.Errorf("safetensors: invalid tensor name %q", name)
	}

	if _, ok := w.tensors[name]; ok {
		return fmt.Errorf("safetensors: duplicate tensor %q", name)
	}

	count, err := shapeCount(shape)
	if err != nil {
		return fmt.Errorf("safetensors: tensor %q: %w", name, err)
	}

	if count != len(data) {
		return fmt.Errorf("safetensors: tensor %q shape %v wants %d elements, have %d", name, shape, count, len(data))
	}

	w.order = append(w.order, name)
	w.tensors[name] = &Tensor{
		Name:  name,
		Shape: append([]int64(nil), shape...),
		Data:  append([]float32(nil), data...),
	}

	return nil
}

// Bytes serializes the payload.
func (w *Writer) Bytes() ([]byte, error) {
	if len(w.order) == 0 {
		return nil, fmt.Errorf("safetensors: nothing to write")
	}

	header := map[string]any{}
	if len(w.metadata) > 0 {
		header["__metadata__"] = w.metadata
	}

	offset := 0
	for _, name := range w.order {
		t := w.tensors[name]
		size := len(t.Data) * 4
		header[name] = headerEntry{
			DType:   dtypeF32,
			Shape:   t.Shape,
			Offsets: [2]int{offset, offset + size},
		}
		offset += size
	}

	headerJSON, err := marshalSorted(header)
	if err != nil {
		return nil, fmt.Errorf("safetensors: encode header: %w", err)
	}

	out := make([]byte, 0, 8+len(headerJSON)+offset)
	out = binary.LittleEndian.AppendUint64(out, uint64(len(headerJSON)))
	out = append(out, headerJSON...)

	for _, name := range w.order {
		for _, v := range w.tensors[name].Data {
			out = binary.LittleEndian.AppendUint32(out, math.Float32bits(v))
		}
	}

	return out, nil
}

// WriteFile serializes the payload to path.
func (w *Writer) WriteFile(path string) error {
	data, err := w.Bytes()
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("safetensors: write %s: %w", path, err)
	}

	return nil
}

// marshalSorted renders the header with keys in sorted order, which keeps
// payloads byte-stable across runs.
func marshalSorted(header map[string]any) ([]byte, error) {
	keys := make([]string, 0, len(header))
	for k := range header {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := []byte{'{'}
	for i, k := range keys {
		if i > 0 {
			out = append(out, ',')
		}

		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(header[k])
		if err != nil {
			return nil, err
		}

		out = append(out, kb...)
		out = append(out, ':')
		out = append(out, vb...)
	}

	return append(out, '}'), nil
}
