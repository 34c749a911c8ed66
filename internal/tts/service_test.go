package tts

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/example/go-taco-tts/internal/audio"
	"github.com/example/go-taco-tts/internal/config"
	"github.com/example/go-taco-tts/internal/pipeline"
	"github.com/example/go-taco-tts/internal/testutil"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(t *testing.T) config.Config {
	t.Helper()

	dir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.Paths.GeneratorModel = testutil.WriteTacoCheckpoint(t, dir)
	cfg.Paths.WaveRNNModel = testutil.WriteWaveRNNCheckpoint(t, dir)
	cfg.Paths.WaveGlowModel = testutil.WriteWaveGlowCheckpoint(t, dir)
	cfg.Frames = config.FramesConfig{
		Mels:       testutil.TestFrames.Mels,
		FFTSize:    testutil.TestFrames.FFTSize,
		HopSize:    testutil.TestFrames.HopSize,
		WinSize:    testutil.TestFrames.WinSize,
		SampleRate: testutil.TestFrames.SampleRate,
	}
	cfg.TTS.MaxDecoderSteps = 30
	cfg.TTS.GriffinLimIters = 4
	cfg.Audio.FadeMs = 1

	return cfg
}

func TestNewService_UnknownNames(t *testing.T) {
	cfg := testConfig(t)
	cfg.Runtime.Backend = "metal"

	if _, err := NewService(cfg, quietLogger()); err == nil {
		t.Error("unknown backend should be rejected")
	}

	cfg = testConfig(t)
	cfg.TTS.Vocoder = "vocaloid"

	if _, err := NewService(cfg, quietLogger()); err == nil {
		t.Error("unknown vocoder should be rejected")
	}
}

func TestService_SynthesizeGriffinLim(t *testing.T) {
	svc, err := NewService(testConfig(t), quietLogger())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	defer svc.Close()

	if svc.SampleRate() != testutil.TestFrames.SampleRate {
		t.Errorf("SampleRate = %d, want %d", svc.SampleRate(), testutil.TestFrames.SampleRate)
	}

	wave, err := svc.Synthesize(context.Background(), []string{"hello", "world"}, 7)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}

	if len(wave.Samples) != 2 {
		t.Fatalf("rows = %d, want 2", len(wave.Samples))
	}

	for b, samples := range wave.Samples {
		if len(samples) == 0 {
			t.Fatalf("row %d is empty", b)
		}

		if len(samples)%testutil.TestFrames.HopSize != 0 {
			t.Errorf("row %d sample count %d is not a whole number of frames", b, len(samples))
		}
	}
}

func TestService_SeedReproducibility(t *testing.T) {
	svc, err := NewService(testConfig(t), quietLogger())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	defer svc.Close()

	a, err := svc.SynthesizeWAV(context.Background(), "hi there", 99)
	if err != nil {
		t.Fatalf("SynthesizeWAV: %v", err)
	}

	b, err := svc.SynthesizeWAV(context.Background(), "hi there", 99)
	if err != nil {
		t.Fatalf("SynthesizeWAV: %v", err)
	}

	if !bytes.Equal(a, b) {
		t.Error("same seed must produce byte-identical WAV output")
	}

	samples, rate, err := audio.DecodeWAV(a)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}

	if rate != testutil.TestFrames.SampleRate {
		t.Errorf("rate = %d, want %d", rate, testutil.TestFrames.SampleRate)
	}
	if len(samples) == 0 {
		t.Error("decoded WAV is empty")
	}
}

func TestService_WaveRNNVocoder(t *testing.T) {
	cfg := testConfig(t)
	cfg.TTS.Vocoder = "wavernn"

	svc, err := NewService(cfg, quietLogger())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	defer svc.Close()

	wave, err := svc.Synthesize(context.Background(), []string{"ok"}, 3)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}

	if len(wave.Samples[0]) == 0 {
		t.Error("wavernn produced no samples")
	}
}

func TestService_WaveGlowVocoder(t *testing.T) {
	cfg := testConfig(t)
	cfg.TTS.Vocoder = "waveglow"

	svc, err := NewService(cfg, quietLogger())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	defer svc.Close()

	wave, err := svc.Synthesize(context.Background(), []string{"ok"}, 3)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}

	if len(wave.Samples[0]) == 0 {
		t.Error("waveglow produced no samples")
	}
}

func TestService_RejectsUnusableInput(t *testing.T) {
	svc, err := NewService(testConfig(t), quietLogger())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	defer svc.Close()

	if _, err := svc.Synthesize(context.Background(), []string{"12345"}, 1); !errors.Is(err, pipeline.ErrNoInput) {
		t.Errorf("err = %v, want ErrNoInput", err)
	}
}

func TestService_MissingCheckpoint(t *testing.T) {
	cfg := testConfig(t)
	cfg.Paths.GeneratorModel = "/does/not/exist.safetensors"

	if _, err := NewService(cfg, quietLogger()); err == nil {
		t.Error("missing generator checkpoint should fail construction")
	}
}
