// Package testutil provides shared skip helpers and tiny random-weight
// checkpoint builders for tests.
//
// The checkpoint builders write structurally valid safetensors files with
// seeded random weights, small enough that model tests run in milliseconds.
// They exercise loading and inference mechanics, not audio quality.
package testutil

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/example/go-taco-tts/internal/pipeline"
	"github.com/example/go-taco-tts/internal/safetensors"
	"github.com/example/go-taco-tts/internal/symbols"
)

// TestFrames are the frame conventions every fixture checkpoint uses.
var TestFrames = pipeline.FrameParams{
	Mels:       4,
	FFTSize:    256,
	HopSize:    64,
	WinSize:    256,
	SampleRate: 16000,
}

// RequireONNXRuntime skips the test if no ONNX Runtime shared library can be
// located via the ORT_LIBRARY_PATH or TACOTTS_ORT_LIB env vars or common
// system paths.
func RequireONNXRuntime(tb testing.TB) {
	tb.Helper()

	for _, env := range []string{"ORT_LIBRARY_PATH", "TACOTTS_ORT_LIB"} {
		if p := os.Getenv(env); p != "" {
			if _, err := os.Stat(p); err == nil {
				return
			}

			tb.Skipf("ONNX Runtime library not found at %s=%q", env, p)
		}
	}

	candidates := []string{
		"/usr/lib/libonnxruntime.so",
		"/usr/local/lib/libonnxruntime.so",
		"/usr/lib/x86_64-linux-gnu/libonnxruntime.so",
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return
		}
	}

	tb.Skip("ONNX Runtime shared library not found; set ORT_LIBRARY_PATH or TACOTTS_ORT_LIB")
}

type fixtureWriter struct {
	tb  testing.TB
	w   *safetensors.Writer
	rng *rand.Rand
}

func newFixtureWriter(tb testing.TB, seed int64) *fixtureWriter {
	tb.Helper()

	return &fixtureWriter{tb: tb, w: safetensors.NewWriter(), rng: rand.New(rand.NewSource(seed))}
}

func (f *fixtureWriter) add(name string, shape ...int64) {
	f.tb.Helper()

	n := int64(1)
	for _, d := range shape {
		n *= d
	}

	data := make([]float32, n)
	for i := range data {
		data[i] = float32(f.rng.NormFloat64()) * 0.2
	}

	if err := f.w.Add(name, shape, data); err != nil {
		f.tb.Fatalf("fixture add %s: %v", name, err)
	}
}

// addIdentityMix writes a well-conditioned square mixing matrix: identity
// plus small noise, so inversion in the flow model stays stable.
func (f *fixtureWriter) addIdentityMix(name string, n int64) {
	f.tb.Helper()

	data := make([]float32, n*n)
	for i := int64(0); i < n; i++ {
		for j := int64(0); j < n; j++ {
			v := float32(f.rng.NormFloat64()) * 0.05
			if i == j {
				v += 1
			}
			data[i*n+j] = v
		}
	}

	if err := f.w.Add(name, []int64{n, n}, data); err != nil {
		f.tb.Fatalf("fixture add %s: %v", name, err)
	}
}

func (f *fixtureWriter) write(path string) {
	f.tb.Helper()

	if err := f.w.WriteFile(path); err != nil {
		f.tb.Fatalf("fixture write %s: %v", path, err)
	}
}

// WriteTacoCheckpoint builds a tiny random generator checkpoint for the
// character symbol table and returns its path. The checkpoint carries the
// table fingerprint in its metadata.
func WriteTacoCheckpoint(tb testing.TB, dir string) string {
	tb.Helper()

	const (
		emb     = int64(8)
		encHid  = int64(4) // encoder dim 8
		attnDim = int64(6)
		attnRNN = int64(8)
		decRNN  = int64(8)
		prenet  = int64(6)
		locF    = int64(4)
	)

	vocab := int64(symbols.CharacterTable().Size())
	mels := int64(TestFrames.Mels)
	encDim := 2 * encHid

	f := newFixtureWriter(tb, 42)
	f.w.SetMetadata("symbol_fingerprint", symbols.CharacterTable().Fingerprint())

	f.add("embedding.weight", vocab, emb)

	for i := 0; i < 2; i++ {
		base := "encoder.convs." + string(rune('0'+i))
		f.add(base+".weight", emb, emb, 3)
		f.add(base+".bias", emb)
	}

	for _, dir := range []string{"gru_fwd", "gru_bwd"} {
		f.add("encoder."+dir+".weight_ih", 3*encHid, emb)
		f.add("encoder."+dir+".weight_hh", 3*encHid, encHid)
		f.add("encoder."+dir+".bias_ih", 3*encHid)
		f.add("encoder."+dir+".bias_hh", 3*encHid)
	}

	f.add("decoder.prenet.0.weight", prenet, mels)
	f.add("decoder.prenet.0.bias", prenet)
	f.add("decoder.prenet.1.weight", prenet, prenet)
	f.add("decoder.prenet.1.bias", prenet)

	f.add("decoder.attention_rnn.weight_ih", 3*attnRNN, prenet+encDim)
	f.add("decoder.attention_rnn.weight_hh", 3*attnRNN, attnRNN)
	f.add("decoder.attention_rnn.bias_ih", 3*attnRNN)
	f.add("decoder.attention_rnn.bias_hh", 3*attnRNN)

	f.add("decoder.attention.query.weight", attnDim, attnRNN)
	f.add("decoder.attention.memory.weight", attnDim, encDim)
	f.add("decoder.attention.location_conv.weight", locF, 2, 3)
	f.add("decoder.attention.location_conv.bias", locF)
	f.add("decoder.attention.location_dense.weight", attnDim, locF)
	f.add("decoder.attention.score.weight", 1, attnDim)

	f.add("decoder.rnn.weight_ih", 3*decRNN, attnRNN+encDim)
	f.add("decoder.rnn.weight_hh", 3*decRNN, decRNN)
	f.add("decoder.rnn.bias_ih", 3*decRNN)
	f.add("decoder.rnn.bias_hh", 3*decRNN)

	f.add("decoder.frame.weight", mels, decRNN+encDim)
	f.add("decoder.frame.bias", mels)
	f.add("decoder.gate.weight", 1, decRNN+encDim)
	f.add("decoder.gate.bias", 1)

	path := filepath.Join(dir, "taco.safetensors")
	f.write(path)

	return path
}

// WriteWaveRNNCheckpoint builds a tiny random sample-model checkpoint and
// returns its path.
func WriteWaveRNNCheckpoint(tb testing.TB, dir string) string {
	tb.Helper()

	const (
		condDim = int64(6)
		hidden  = int64(8)
		fcDim   = int64(8)
		classes = int64(16)
	)

	mels := int64(TestFrames.Mels)

	f := newFixtureWriter(tb, 43)
	f.add("cond.weight", condDim, mels)
	f.add("cond.bias", condDim)
	f.add("gru.weight_ih", 3*hidden, 1+condDim)
	f.add("gru.weight_hh", 3*hidden, hidden)
	f.add("gru.bias_ih", 3*hidden)
	f.add("gru.bias_hh", 3*hidden)
	f.add("fc1.weight", fcDim, hidden)
	f.add("fc1.bias", fcDim)
	f.add("fc2.weight", classes, fcDim)
	f.add("fc2.bias", classes)

	path := filepath.Join(dir, "wavernn.safetensors")
	f.write(path)

	return path
}

// WriteWaveGlowCheckpoint builds a tiny random flow-model checkpoint with
// two flows and returns its path.
func WriteWaveGlowCheckpoint(tb testing.TB, dir string) string {
	tb.Helper()

	const groups = int64(8)

	mels := int64(TestFrames.Mels)
	half := groups / 2

	f := newFixtureWriter(tb, 44)
	for k := 0; k < 2; k++ {
		base := "flows." + string(rune('0'+k))
		f.add(base+".conv.weight", groups, half+mels, 3)
		f.add(base+".conv.bias", groups)
		f.addIdentityMix(base+".mix.weight", groups)
	}

	path := filepath.Join(dir, "waveglow.safetensors")
	f.write(path)

	return path
}
