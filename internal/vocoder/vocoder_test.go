package vocoder

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/example/go-taco-tts/internal/dsp"
	"github.com/example/go-taco-tts/internal/native"
	"github.com/example/go-taco-tts/internal/pipeline"
	"github.com/example/go-taco-tts/internal/testutil"
)

// toneSpectrogram builds a one-row spectrogram batch by analyzing a pure
// tone with the same frame conventions the inverter will use.
func toneSpectrogram(t *testing.T, frames pipeline.FrameParams, nFrames int) *pipeline.Spectrogram {
	t.Helper()

	length := nFrames * frames.HopSize
	signal := make([]float64, length)
	for i := range signal {
		signal[i] = 0.6 * math.Sin(2*math.Pi*440*float64(i)/float64(frames.SampleRate))
	}

	spectra, err := dsp.STFT(signal, frames.FFTSize, frames.HopSize, frames.WinSize)
	if err != nil {
		t.Fatalf("STFT: %v", err)
	}

	bank, err := dsp.MelFilterbank(frames.Mels, frames.FFTSize, float64(frames.SampleRate), 0, 0)
	if err != nil {
		t.Fatalf("MelFilterbank: %v", err)
	}

	spec, err := pipeline.NewSpectrogram(1, frames.Mels, nFrames)
	if err != nil {
		t.Fatalf("NewSpectrogram: %v", err)
	}
	spec.Lengths[0] = nFrames

	for f := 0; f < nFrames; f++ {
		mel := make([]float32, frames.Mels)
		for m, row := range bank {
			var sum float64
			for b, w := range row {
				sum += w * math.Hypot(spectra[f].Re[b], spectra[f].Im[b])
			}
			mel[m] = float32(sum)
		}

		if err := spec.SetFrame(0, f, mel); err != nil {
			t.Fatalf("SetFrame: %v", err)
		}
	}

	return spec
}

func TestGriffinLim_ExactLengthAndDeterminism(t *testing.T) {
	frames := testutil.TestFrames
	frames.Mels = 20 // enough bands to carry a tone

	g, err := NewGriffinLim(frames, 8)
	if err != nil {
		t.Fatalf("NewGriffinLim: %v", err)
	}

	if !g.Deterministic() {
		t.Error("griffin-lim must report deterministic")
	}

	spec := toneSpectrogram(t, frames, 6)

	a, err := g.Vocode(context.Background(), spec, nil)
	if err != nil {
		t.Fatalf("Vocode: %v", err)
	}

	if want := 6 * frames.HopSize; len(a.Samples[0]) != want {
		t.Fatalf("sample count = %d, want %d", len(a.Samples[0]), want)
	}

	if a.SampleRate != frames.SampleRate {
		t.Errorf("sample rate = %d, want %d", a.SampleRate, frames.SampleRate)
	}

	// Bitwise identical on repeat, with or without an rng.
	b, err := g.Vocode(context.Background(), spec, rand.New(rand.NewSource(123)))
	if err != nil {
		t.Fatalf("Vocode: %v", err)
	}

	for i := range a.Samples[0] {
		if a.Samples[0][i] != b.Samples[0][i] {
			t.Fatal("griffin-lim output must not depend on the rng")
		}
	}

	// The inversion carries real energy, not silence.
	var energy float64
	for _, v := range a.Samples[0] {
		energy += float64(v) * float64(v)
	}
	if energy < 1e-3 {
		t.Errorf("reconstructed signal is nearly silent (energy %v)", energy)
	}
}

func TestGriffinLim_Validation(t *testing.T) {
	if _, err := NewGriffinLim(testutil.TestFrames, 0); err == nil {
		t.Error("zero iterations should be rejected")
	}

	bad := testutil.TestFrames
	bad.HopSize = 0
	if _, err := NewGriffinLim(bad, 10); err == nil {
		t.Error("invalid frame params should be rejected")
	}
}

func TestWaveRNNWrapper_EmptyRowsAndLengths(t *testing.T) {
	path := testutil.WriteWaveRNNCheckpoint(t, t.TempDir())

	model, err := native.LoadWaveRNNModel(path, native.WaveRNNConfig{Frames: testutil.TestFrames})
	if err != nil {
		t.Fatalf("LoadWaveRNNModel: %v", err)
	}

	v, err := NewWaveRNN(model)
	if err != nil {
		t.Fatalf("NewWaveRNN: %v", err)
	}

	if v.Deterministic() {
		t.Error("wavernn must report stochastic")
	}

	spec, err := pipeline.NewSpectrogram(2, testutil.TestFrames.Mels, 2)
	if err != nil {
		t.Fatalf("NewSpectrogram: %v", err)
	}
	spec.Lengths[0] = 2 // row 1 stays empty

	wave, err := v.Vocode(context.Background(), spec, rand.New(rand.NewSource(9)))
	if err != nil {
		t.Fatalf("Vocode: %v", err)
	}

	if want := 2 * testutil.TestFrames.HopSize; len(wave.Samples[0]) != want {
		t.Errorf("row 0 samples = %d, want %d", len(wave.Samples[0]), want)
	}
	if len(wave.Samples[1]) != 0 {
		t.Errorf("empty row produced %d samples, want 0", len(wave.Samples[1]))
	}

	if _, err := v.Vocode(context.Background(), spec, nil); err == nil {
		t.Error("nil rng should be rejected")
	}
}

func TestWaveGlowWrapper_Lengths(t *testing.T) {
	path := testutil.WriteWaveGlowCheckpoint(t, t.TempDir())

	cfg := native.DefaultWaveGlowConfig()
	cfg.Frames = testutil.TestFrames

	model, err := native.LoadWaveGlowModel(path, cfg)
	if err != nil {
		t.Fatalf("LoadWaveGlowModel: %v", err)
	}

	v, err := NewWaveGlow(model)
	if err != nil {
		t.Fatalf("NewWaveGlow: %v", err)
	}

	spec, err := pipeline.NewSpectrogram(1, testutil.TestFrames.Mels, 3)
	if err != nil {
		t.Fatalf("NewSpectrogram: %v", err)
	}
	spec.Lengths[0] = 3

	wave, err := v.Vocode(context.Background(), spec, rand.New(rand.NewSource(4)))
	if err != nil {
		t.Fatalf("Vocode: %v", err)
	}

	if want := 3 * testutil.TestFrames.HopSize; len(wave.Samples[0]) != want {
		t.Errorf("samples = %d, want %d", len(wave.Samples[0]), want)
	}
}
