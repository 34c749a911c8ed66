package native

import (
	"context"
	"io"
	"log/slog"
	"math/rand"
	"testing"

	"github.com/example/go-taco-tts/internal/symbols"
	"github.com/example/go-taco-tts/internal/testutil"
	"github.com/example/go-taco-tts/internal/textenc"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testTacoConfig() TacoConfig {
	cfg := DefaultTacoConfig()
	cfg.EncoderConvLayers = 2
	cfg.MaxDecoderSteps = 30
	cfg.Frames = testutil.TestFrames

	return cfg
}

func loadTestTaco(t *testing.T) *TacoModel {
	t.Helper()

	path := testutil.WriteTacoCheckpoint(t, t.TempDir())

	m, err := LoadTacoModel(path, testTacoConfig(), quietLogger())
	if err != nil {
		t.Fatalf("LoadTacoModel: %v", err)
	}

	return m
}

func encodeTexts(t *testing.T, texts []string) *textenc.Batch {
	t.Helper()

	batch, err := textenc.EncodeBatch(textenc.NewCharacterEncoder(quietLogger()), texts)
	if err != nil {
		t.Fatalf("EncodeBatch: %v", err)
	}

	return batch
}

func TestLoadTacoModel_Compatibility(t *testing.T) {
	m := loadTestTaco(t)

	table := symbols.CharacterTable()
	if m.VocabSize() != int64(table.Size()) {
		t.Errorf("VocabSize = %d, want %d", m.VocabSize(), table.Size())
	}

	fp, ok := m.SymbolFingerprint()
	if !ok || fp != table.Fingerprint() {
		t.Errorf("SymbolFingerprint = %q, %v; want table fingerprint", fp, ok)
	}

	if m.Frames() != testutil.TestFrames {
		t.Errorf("Frames = %+v, want %+v", m.Frames(), testutil.TestFrames)
	}
}

func TestLoadTacoModel_RejectsBadConfig(t *testing.T) {
	path := testutil.WriteTacoCheckpoint(t, t.TempDir())

	cfg := testTacoConfig()
	cfg.Frames.Mels = 7 // checkpoint emits 4

	if _, err := LoadTacoModel(path, cfg, quietLogger()); err == nil {
		t.Error("mel mismatch should be rejected at load")
	}

	cfg = testTacoConfig()
	cfg.GateThreshold = 2

	if _, err := LoadTacoModel(path, cfg, quietLogger()); err == nil {
		t.Error("invalid gate threshold should be rejected")
	}
}

func TestGenerate_ShapesAndDiagnostics(t *testing.T) {
	m := loadTestTaco(t)
	batch := encodeTexts(t, []string{"hello", "hi"})

	spec, err := m.Generate(context.Background(), batch, rand.New(rand.NewSource(3)))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if spec.Batch != 2 || spec.Mels != testutil.TestFrames.Mels {
		t.Fatalf("spec dims = %dx%d, want 2x%d", spec.Batch, spec.Mels, testutil.TestFrames.Mels)
	}

	for b := 0; b < 2; b++ {
		n := spec.Lengths[b]
		if n == 0 || n > 30 {
			t.Fatalf("row %d produced %d frames, want 1..30", b, n)
		}

		if len(spec.Gates[b]) != n {
			t.Errorf("row %d has %d gate values for %d frames", b, len(spec.Gates[b]), n)
		}

		if len(spec.Alignments[b]) != n*spec.InputLens[b] {
			t.Errorf("row %d alignments length = %d, want %d", b, len(spec.Alignments[b]), n*spec.InputLens[b])
		}
	}

	if spec.InputLens[0] != 5 || spec.InputLens[1] != 2 {
		t.Errorf("InputLens = %v, want [5 2]", spec.InputLens)
	}
}

func TestGenerate_SeedReproducibility(t *testing.T) {
	m := loadTestTaco(t)
	batch := encodeTexts(t, []string{"hello world"})

	a, err := m.Generate(context.Background(), batch, rand.New(rand.NewSource(11)))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	b, err := m.Generate(context.Background(), batch, rand.New(rand.NewSource(11)))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if a.Lengths[0] != b.Lengths[0] {
		t.Fatalf("same seed produced %d vs %d frames", a.Lengths[0], b.Lengths[0])
	}

	for i := range a.Data {
		if a.Data[i] != b.Data[i] {
			t.Fatal("same seed must reproduce the exact spectrogram")
		}
	}

	// A different seed draws different prenet dropout masks.
	c, err := m.Generate(context.Background(), batch, rand.New(rand.NewSource(12)))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	same := c.Lengths[0] == a.Lengths[0]
	if same {
		for i := range a.Data {
			if i < len(c.Data) && a.Data[i] != c.Data[i] {
				same = false
				break
			}
		}
	}

	if same {
		t.Error("different seeds produced identical spectrograms")
	}
}

func TestGenerate_PreservesEmptyRows(t *testing.T) {
	m := loadTestTaco(t)
	batch := encodeTexts(t, []string{"ab", "123"})

	spec, err := m.Generate(context.Background(), batch, rand.New(rand.NewSource(5)))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if spec.Lengths[0] == 0 {
		t.Error("row 0 should produce frames")
	}
	if spec.Lengths[1] != 0 {
		t.Errorf("unencodable row produced %d frames, want 0", spec.Lengths[1])
	}
}

func TestGenerate_RequiresRNG(t *testing.T) {
	m := loadTestTaco(t)
	batch := encodeTexts(t, []string{"ab"})

	if _, err := m.Generate(context.Background(), batch, nil); err == nil {
		t.Error("nil rng should be rejected")
	}
}

func TestGenerate_ContextCancellation(t *testing.T) {
	m := loadTestTaco(t)
	batch := encodeTexts(t, []string{"hello"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := m.Generate(ctx, batch, rand.New(rand.NewSource(1))); err == nil {
		t.Error("cancelled context should abort decoding")
	}
}
