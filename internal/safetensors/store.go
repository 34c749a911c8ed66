// Package safetensors reads and writes the safetensors checkpoint format the
// pretrained model weights ship in: an 8-byte little-endian header length,
// a JSON header mapping tensor names to dtype/shape/offsets, then raw data.
package safetensors

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"
)

const (
	dtypeF32 = "F32"
	dtypeF16 = "F16"
)

// Tensor is one named weight loaded from a store.
type Tensor struct {
	Name  string
	Shape []int64
	Data  []float32
}

// Store provides named access to the tensors of one safetensors payload.
// Metadata from the optional __metadata__ header entry is exposed so model
// checkpoints can carry their training-time configuration (symbol-table
// fingerprint, frame parameters) alongside the weights.
type Store struct {
	raw      []byte
	entries  map[string]entry
	names    []string
	metadata map[string]string
}

type entry struct {
	dtype string
	shape []int64
	start int
	end   int
}

type headerEntry struct {
	DType   string  `json:"dtype"`
	Shape   []int64 `json:"shape"`
	Offsets [2]int  `json:"data_offsets"`
}

// Open reads a safetensors file from disk.
func Open(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("safetensors: read %s: %w", path, err)
	}

	return FromBytes(data)
}

// FromBytes parses a safetensors payload.
func FromBytes(data []byte) (*Store, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("safetensors: payload too short (%d bytes)", len(data))
	}

	headerLen := binary.LittleEndian.Uint64(data[:8])
	headerEnd := 8 + int(headerLen)

	if headerLen > uint64(len(data)-8) {
		return nil, fmt.Errorf("safetensors: header length %d exceeds payload size %d", headerLen, len(data))
	}

	var header map[string]json.RawMessage
	if err := json.Unmarshal(data[8:headerEnd], &header); err != nil {
		return nil, fmt.Errorf("safetensors: parse header: %w", err)
	}

	metadata := map[string]string{}
	if raw, ok := header["__metadata__"]; ok {
		if err := json.Unmarshal(raw, &metadata); err != nil {
			return nil, fmt.Errorf("safetensors: parse metadata: %w", err)
		}
	}

	entries := make(map[string]entry, len(header))
	names := make([]string, 0, len(header))

	for name, raw := range header {
		if name == "__metadata__" {
			continue
		}

		var he headerEntry
		if err := json.Unmarshal(raw, &he); err != nil {
			return nil, fmt.Errorf("safetensors: decode header entry %q: %w", name, err)
		}

		dtype := strings.ToUpper(he.DType)
		if dtype != dtypeF32 && dtype != dtypeF16 {
			return nil, fmt.Errorf("safetensors: tensor %q has unsupported dtype %q", name, he.DType)
		}

		start := headerEnd + he.Offsets[0]
		end := headerEnd + he.Offsets[1]

		if he.Offsets[0] < 0 || end < start || end > len(data) {
			return nil, fmt.Errorf("safetensors: tensor %q data offsets %v out of bounds", name, he.Offsets)
		}

		count, err := shapeCount(he.Shape)
		if err != nil {
			return nil, fmt.Errorf("safetensors: tensor %q: %w", name, err)
		}

		width := 4
		if dtype == dtypeF16 {
			width = 2
		}

		if end-start < count*width {
			return nil, fmt.Errorf("safetensors: tensor %q needs %d bytes, has %d", name, count*width, end-start)
		}

		entries[name] = entry{
			dtype: dtype,
			shape: append([]int64(nil), he.Shape...),
			start: start,
			end:   end,
		}
		names = append(names, name)
	}

	if len(entries) == 0 {
		return nil, errors.New("safetensors: no tensors found")
	}

	sort.Strings(names)

	return &Store{raw: data, entries: entries, names: names, metadata: metadata}, nil
}

// Names returns the sorted tensor names.
func (s *Store) Names() []string {
	return append([]string(nil), s.names...)
}

// Has reports whether a tensor with the given name exists.
func (s *Store) Has(name string) bool {
	_, ok := s.entries[name]
	return ok
}

// Metadata returns the value of a __metadata__ key, if present.
func (s *Store) Metadata(key string) (string, bool) {
	v, ok := s.metadata[key]
	return v, ok
}

// Tensor decodes the named tensor to float32.
func (s *Store) Tensor(name string) (*Tensor, error) {
	e, ok := s.entries[name]
	if !ok {
		return nil, fmt.Errorf("safetensors: tensor %q not found (available: %s)", name, summarize(s.names))
	}

	count, err := shapeCount(e.shape)
	if err != nil {
		return nil, err
	}

	raw := s.raw[e.start:e.end]
	out := make([]float32, count)

	switch e.dtype {
	case dtypeF32:
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}
	case dtypeF16:
		for i := range out {
			out[i] = float16To32(binary.LittleEndian.Uint16(raw[i*2:]))
		}
	}

	return &Tensor{
		Name:  name,
		Shape: append([]int64(nil), e.shape...),
		Data:  out,
	}, nil
}

// TensorWithShape decodes the named tensor and asserts its shape.
func (s *Store) TensorWithShape(name string, want ...int64) (*Tensor, error) {
	t, err := s.Tensor(name)
	if err != nil {
		return nil, err
	}

	if len(t.Shape) != len(want) {
		return nil, fmt.Errorf("safetensors: tensor %q shape %v does not match expected %v", name, t.Shape, want)
	}

	for i := range want {
		if t.Shape[i] != want[i] {
			return nil, fmt.Errorf("safetensors: tensor %q shape %v does not match expected %v", name, t.Shape, want)
		}
	}

	return t, nil
}

// Close releases the backing payload.
func (s *Store) Close() {
	s.raw = nil
	s.entries = nil
	s.names = nil
	s.metadata = nil
}

func shapeCount(shape []int64) (int, error) {
	total := int64(1)

	for _, d := range shape {
		if d < 0 {
			return 0, fmt.Errorf("negative dimension %d in shape %v", d, shape)
		}

		if d > 0 && total > math.MaxInt64/d {
			return 0, fmt.Errorf("shape %v overflows element count", shape)
		}

		total *= d
	}

	return int(total), nil
}

func float16To32(h uint16) float32 {
	sign := uint32(h>>15) & 0x1
	exp := uint32(h>>10) & 0x1f
	frac := uint32(h & 0x03ff)

	var bits uint32

	switch exp {
	case 0:
		if frac == 0 {
			bits = sign << 31
		} else {
			e := int32(-14)
			for frac&0x0400 == 0 {
				frac <<= 1
				e--
			}

			frac &= 0x03ff
			bits = (sign << 31) | (uint32(e+127) << 23) | (frac << 13)
		}
	case 0x1f:
		bits = (sign << 31) | 0x7f800000 | (frac << 13)
	default:
		bits = (sign << 31) | ((exp + 112) << 23) | (frac << 13)
	}

	return math.Float32frombits(bits)
}

func summarize(names []string) string {
	const limit = 8

	if len(names) <= limit {
		return strings.Join(names, ", ")
	}

	return strings.Join(names[:limit], ", ") + ", ..."
}
