package native

import (
	"testing"

	"github.com/example/go-taco-tts/internal/safetensors"
)

func testVarBuilder(t *testing.T) *VarBuilder {
	t.Helper()

	w := safetensors.NewWriter()
	w.SetMetadata("note", "fixture")

	if err := w.Add("encoder.layer.weight", []int64{2, 2}, []float32{1, 2, 3, 4}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := w.Add("decoder.bias", []int64{2}, []float32{5, 6}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	data, err := w.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}

	store, err := safetensors.FromBytes(data)
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}

	return NewVarBuilder(store)
}

func TestVarBuilder_PathResolution(t *testing.T) {
	vb := testVarBuilder(t)

	enc := vb.Path("encoder", "layer")
	if !enc.Has("weight") {
		t.Fatal("prefixed lookup should find encoder.layer.weight")
	}

	w, err := enc.Tensor("weight", 2, 2)
	if err != nil {
		t.Fatalf("Tensor: %v", err)
	}
	if w.RawData()[3] != 4 {
		t.Errorf("weight[3] = %v, want 4", w.RawData()[3])
	}

	if _, err := enc.Tensor("weight", 4); err == nil {
		t.Error("wrong expected shape should be rejected")
	}

	if vb.Path("decoder").Has("weight") {
		t.Error("decoder.weight should not exist")
	}
}

func TestVarBuilder_TensorMaybe(t *testing.T) {
	vb := testVarBuilder(t)

	b, ok, err := vb.TensorMaybe("decoder.bias")
	if err != nil || !ok {
		t.Fatalf("TensorMaybe = %v, %v", ok, err)
	}
	if b.Dim(0) != 2 {
		t.Errorf("bias dim = %d, want 2", b.Dim(0))
	}

	_, ok, err = vb.TensorMaybe("decoder.missing")
	if err != nil || ok {
		t.Errorf("missing tensor should report ok=false, got %v, %v", ok, err)
	}
}

func TestVarBuilder_Metadata(t *testing.T) {
	vb := testVarBuilder(t)

	v, ok := vb.Metadata("note")
	if !ok || v != "fixture" {
		t.Errorf("Metadata = %q, %v; want fixture, true", v, ok)
	}
}
