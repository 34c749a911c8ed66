package ops

import (
	"math"
	"math/rand"
	"testing"

	"github.com/example/go-taco-tts/internal/runtime/tensor"
)

func mustTensor(t *testing.T, data []float32, shape ...int64) *tensor.Tensor {
	t.Helper()

	x, err := tensor.New(data, shape...)
	if err != nil {
		t.Fatalf("tensor.New: %v", err)
	}

	return x
}

func TestEmbed(t *testing.T) {
	table := mustTensor(t, []float32{
		0, 0, // id 0
		1, 2, // id 1
		3, 4, // id 2
	}, 3, 2)

	out, err := Embed(table, []int64{2, 1})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}

	want := []float32{3, 4, 1, 2}
	for i, v := range out.RawData() {
		if v != want[i] {
			t.Errorf("out[%d] = %v, want %v", i, v, want[i])
		}
	}

	if _, err := Embed(table, []int64{3}); err == nil {
		t.Error("Embed with out-of-range id should return error")
	}
}

func TestConv1D_IdentityKernel(t *testing.T) {
	input := mustTensor(t, []float32{1, 2, 3, 4}, 1, 4)
	// Single-tap kernel: output equals input.
	kernel := mustTensor(t, []float32{1}, 1, 1, 1)

	out, err := Conv1D(input, kernel, nil, 1, 0, 1)
	if err != nil {
		t.Fatalf("Conv1D: %v", err)
	}

	for i, v := range out.RawData() {
		if v != input.RawData()[i] {
			t.Errorf("out[%d] = %v, want %v", i, v, input.RawData()[i])
		}
	}
}

func TestConv1D_PaddingPreservesLength(t *testing.T) {
	input := mustTensor(t, []float32{1, 1, 1, 1, 1}, 1, 5)
	kernel := mustTensor(t, []float32{1, 1, 1}, 1, 1, 3)

	out, err := Conv1D(input, kernel, nil, 1, 1, 1)
	if err != nil {
		t.Fatalf("Conv1D: %v", err)
	}

	if out.Dim(1) != 5 {
		t.Fatalf("out length = %d, want 5", out.Dim(1))
	}

	// Interior positions see all three taps, edges only two.
	want := []float32{2, 3, 3, 3, 2}
	for i, v := range out.RawData() {
		if v != want[i] {
			t.Errorf("out[%d] = %v, want %v", i, v, want[i])
		}
	}
}

func TestConv1D_Bias(t *testing.T) {
	input := mustTensor(t, []float32{0, 0, 0}, 1, 3)
	kernel := mustTensor(t, []float32{1}, 1, 1, 1)
	bias := mustTensor(t, []float32{2.5}, 1)

	out, err := Conv1D(input, kernel, bias, 1, 0, 1)
	if err != nil {
		t.Fatalf("Conv1D: %v", err)
	}

	for i, v := range out.RawData() {
		if v != 2.5 {
			t.Errorf("out[%d] = %v, want 2.5", i, v)
		}
	}
}

func TestGRUStep_ZeroWeightsKeepState(t *testing.T) {
	hidden := int64(2)
	x := mustTensor(t, []float32{1, 1, 1}, 3)
	h := mustTensor(t, []float32{0.3, -0.7}, hidden)

	wih, _ := tensor.Zeros(3*hidden, 3)
	whh, _ := tensor.Zeros(3*hidden, hidden)

	out, err := GRUStep(x, h, wih, whh, nil, nil)
	if err != nil {
		t.Fatalf("GRUStep: %v", err)
	}

	// All-zero weights: r=z=0.5, n=tanh(0)=0, h' = 0.5*h.
	for i, v := range out.RawData() {
		want := 0.5 * h.RawData()[i]
		if math.Abs(float64(v-want)) > 1e-6 {
			t.Errorf("h'[%d] = %v, want %v", i, v, want)
		}
	}
}

func TestGRUStep_ShapeValidation(t *testing.T) {
	x := mustTensor(t, []float32{1}, 1)
	h := mustTensor(t, []float32{1}, 1)
	bad, _ := tensor.Zeros(2, 1)

	if _, err := GRUStep(x, h, bad, bad, nil, nil); err == nil {
		t.Error("GRUStep with wrong weight shape should return error")
	}
}

func TestDropout_Deterministic(t *testing.T) {
	x, _ := tensor.Full(1.0, 64)

	a, err := Dropout(x, 0.5, rand.New(rand.NewSource(7)))
	if err != nil {
		t.Fatalf("Dropout: %v", err)
	}
	b, err := Dropout(x, 0.5, rand.New(rand.NewSource(7)))
	if err != nil {
		t.Fatalf("Dropout: %v", err)
	}

	for i := range a.RawData() {
		if a.RawData()[i] != b.RawData()[i] {
			t.Fatal("dropout with identical rng state must be identical")
		}
	}

	// Survivors are scaled by 1/(1-p).
	for i, v := range a.RawData() {
		if v != 0 && v != 2 {
			t.Errorf("a[%d] = %v, want 0 or 2", i, v)
		}
	}
}

func TestDropout_RequiresRNG(t *testing.T) {
	x, _ := tensor.Full(1.0, 4)

	if _, err := Dropout(x, 0.5, nil); err == nil {
		t.Error("Dropout without rng should return error")
	}
	if out, err := Dropout(x, 0, nil); err != nil || out == nil {
		t.Error("Dropout with p=0 should succeed without rng")
	}
}

func TestSampleCategorical(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	// Degenerate distribution always picks the only mass.
	for range 10 {
		idx, err := SampleCategorical([]float32{0, 0, 1, 0}, rng)
		if err != nil {
			t.Fatalf("SampleCategorical: %v", err)
		}
		if idx != 2 {
			t.Fatalf("idx = %d, want 2", idx)
		}
	}

	if _, err := SampleCategorical(nil, rng); err == nil {
		t.Error("empty distribution should return error")
	}
	if _, err := SampleCategorical([]float32{0, 0}, rng); err == nil {
		t.Error("zero-mass distribution should return error")
	}
}
