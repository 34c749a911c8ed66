package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
)

type fakeCmd struct {
	fs *pflag.FlagSet
}

func (f *fakeCmd) Flags() *pflag.FlagSet { return f.fs }

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(LoadOptions{Defaults: DefaultConfig()})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Runtime.Backend != "native" {
		t.Errorf("backend = %q, want native", cfg.Runtime.Backend)
	}
	if cfg.TTS.Vocoder != "griffinlim" {
		t.Errorf("vocoder = %q, want griffinlim", cfg.TTS.Vocoder)
	}
	if cfg.TTS.GriffinLimIters != 32 {
		t.Errorf("griffinlim iters = %d, want 32", cfg.TTS.GriffinLimIters)
	}
	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("listen addr = %q, want :8080", cfg.Server.ListenAddr)
	}
}

func TestLoad_FlagOverride(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs, DefaultConfig())

	if err := fs.Parse([]string{"--tts-vocoder=wavernn", "--tts-seed=42", "--runtime-backend=onnx"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}

	cfg, err := Load(LoadOptions{Cmd: &fakeCmd{fs: fs}, Defaults: DefaultConfig()})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.TTS.Vocoder != "wavernn" {
		t.Errorf("vocoder = %q, want wavernn", cfg.TTS.Vocoder)
	}
	if cfg.TTS.Seed != 42 {
		t.Errorf("seed = %d, want 42", cfg.TTS.Seed)
	}
	if cfg.Runtime.Backend != "onnx" {
		t.Errorf("backend = %q, want onnx", cfg.Runtime.Backend)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("TACOTTS_TTS_STRATEGY", "phoneme")
	t.Setenv("TACOTTS_ORT_LIB", "/opt/ort/libonnxruntime.so")

	cfg, err := Load(LoadOptions{Defaults: DefaultConfig()})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.TTS.Strategy != "phoneme" {
		t.Errorf("strategy = %q, want phoneme", cfg.TTS.Strategy)
	}
	if cfg.Runtime.ORTLibraryPath != "/opt/ort/libonnxruntime.so" {
		t.Errorf("ort library path = %q", cfg.Runtime.ORTLibraryPath)
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tacotts.yaml")

	content := "tts:\n  vocoder: waveglow\n  sigma: 0.75\npaths:\n  lexicon: /data/cmudict.txt\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(LoadOptions{ConfigFile: path, Defaults: DefaultConfig()})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.TTS.Vocoder != "waveglow" {
		t.Errorf("vocoder = %q, want waveglow", cfg.TTS.Vocoder)
	}
	if cfg.TTS.Sigma != 0.75 {
		t.Errorf("sigma = %v, want 0.75", cfg.TTS.Sigma)
	}
	if cfg.Paths.Lexicon != "/data/cmudict.txt" {
		t.Errorf("lexicon = %q", cfg.Paths.Lexicon)
	}
}

func TestLoad_MissingConfigFile(t *testing.T) {
	if _, err := Load(LoadOptions{ConfigFile: "/does/not/exist.yaml", Defaults: DefaultConfig()}); err == nil {
		t.Error("explicit missing config file should return error")
	}
}
