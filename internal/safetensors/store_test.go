package safetensors

import (
	"math"
	"path/filepath"
	"testing"
)

func buildPayload(t *testing.T) []byte {
	t.Helper()

	w := NewWriter()
	w.SetMetadata("symbols", "abc123")

	if err := w.Add("weight", []int64{2, 3}, []float32{1, 2, 3, 4, 5, 6}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := w.Add("bias", []int64{3}, []float32{-1, 0, 1}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	data, err := w.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}

	return data
}

func TestRoundTrip(t *testing.T) {
	store, err := FromBytes(buildPayload(t))
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}
	defer store.Close()

	names := store.Names()
	if len(names) != 2 || names[0] != "bias" || names[1] != "weight" {
		t.Fatalf("Names = %v, want [bias weight]", names)
	}

	if !store.Has("weight") || store.Has("missing") {
		t.Error("Has gave wrong answers")
	}

	w, err := store.TensorWithShape("weight", 2, 3)
	if err != nil {
		t.Fatalf("TensorWithShape: %v", err)
	}

	want := []float32{1, 2, 3, 4, 5, 6}
	for i, v := range w.Data {
		if v != want[i] {
			t.Errorf("weight[%d] = %v, want %v", i, v, want[i])
		}
	}

	if _, err := store.TensorWithShape("weight", 3, 2); err == nil {
		t.Error("TensorWithShape with wrong shape should return error")
	}
	if _, err := store.Tensor("missing"); err == nil {
		t.Error("Tensor on missing name should return error")
	}

	meta, ok := store.Metadata("symbols")
	if !ok || meta != "abc123" {
		t.Errorf("Metadata = %q, %v; want abc123, true", meta, ok)
	}
}

func TestOpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.safetensors")

	w := NewWriter()
	if err := w.Add("x", []int64{1}, []float32{42}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := w.WriteFile(path); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	x, err := store.Tensor("x")
	if err != nil {
		t.Fatalf("Tensor: %v", err)
	}
	if x.Data[0] != 42 {
		t.Errorf("x = %v, want 42", x.Data[0])
	}
}

func TestFromBytes_Malformed(t *testing.T) {
	cases := []struct {
		name string
		data []byte
	}{
		{"too short", []byte{1, 2, 3}},
		{"header past end", append([]byte{0xff, 0, 0, 0, 0, 0, 0, 0}, []byte("{}")...)},
		{"empty header", append([]byte{2, 0, 0, 0, 0, 0, 0, 0}, []byte("{}")...)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := FromBytes(tc.data); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestFloat16Decode(t *testing.T) {
	cases := []struct {
		bits uint16
		want float32
	}{
		{0x0000, 0},
		{0x3c00, 1},
		{0xbc00, -1},
		{0x4000, 2},
		{0x3800, 0.5},
	}

	for _, tc := range cases {
		if got := float16To32(tc.bits); got != tc.want {
			t.Errorf("float16To32(%#04x) = %v, want %v", tc.bits, got, tc.want)
		}
	}

	if !math.IsInf(float64(float16To32(0x7c00)), 1) {
		t.Error("0x7c00 should decode to +Inf")
	}
}

func TestWriter_Validation(t *testing.T) {
	w := NewWriter()

	if err := w.Add("", []int64{1}, []float32{1}); err == nil {
		t.Error("empty name should be rejected")
	}
	if err := w.Add("a", []int64{2}, []float32{1}); err == nil {
		t.Error("shape/data mismatch should be rejected")
	}
	if err := w.Add("a", []int64{1}, []float32{1}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := w.Add("a", []int64{1}, []float32{1}); err == nil {
		t.Error("duplicate name should be rejected")
	}
	if _, err := NewWriter().Bytes(); err == nil {
		t.Error("empty writer should be rejected")
	}
}
