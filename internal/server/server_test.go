package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/example/go-taco-tts/internal/pipeline"
	"github.com/example/go-taco-tts/internal/textenc"
)

type stubSynth struct {
	wav []byte
	err error
}

func (s *stubSynth) SynthesizeWAV(ctx context.Context, text string, seed int64) ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}

	return s.wav, nil
}

func (s *stubSynth) Encode(texts []string) (*textenc.Batch, error) {
	return textenc.EncodeBatch(textenc.NewCharacterEncoder(quietLogger()), texts)
}

func (s *stubSynth) VocoderKind() string { return "griffinlim" }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestHandler(synth Synthesizer, opts ...Option) http.Handler {
	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	return NewHandler(synth, opts...)
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"Warn", slog.LevelWarn, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", slog.LevelInfo, true},
	}

	for _, tt := range tests {
		got, err := ParseLogLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLogLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestHealth(t *testing.T) {
	h := newTestHandler(&stubSynth{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}

	if body["status"] != "ok" {
		t.Errorf("status field = %q, want ok", body["status"])
	}
	if body["version"] == "" {
		t.Error("version field is empty")
	}
}

func TestTTS_Success(t *testing.T) {
	wav := []byte("RIFFfakewav")
	h := newTestHandler(&stubSynth{wav: wav})

	req := httptest.NewRequest(http.MethodPost, "/tts", strings.NewReader(`{"text":"hello","seed":7,"vocoder":"GriffinLim"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "audio/wav" {
		t.Errorf("content type = %q, want audio/wav", ct)
	}
	if !bytes.Equal(rec.Body.Bytes(), wav) {
		t.Error("response body does not match synthesized WAV")
	}
}

func TestTTS_BadRequests(t *testing.T) {
	h := newTestHandler(&stubSynth{wav: []byte("x")}, WithMaxTextBytes(16))

	tests := []struct {
		name   string
		method string
		body   string
		want   int
	}{
		{"get not allowed", http.MethodGet, "", http.StatusMethodNotAllowed},
		{"invalid json", http.MethodPost, "{", http.StatusBadRequest},
		{"missing text", http.MethodPost, `{"seed":1}`, http.StatusBadRequest},
		{"oversize text", http.MethodPost, `{"text":"` + strings.Repeat("a", 32) + `"}`, http.StatusRequestEntityTooLarge},
		{"unloaded vocoder", http.MethodPost, `{"text":"hi","vocoder":"waveglow"}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/tts", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}

			var body map[string]string
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("error response is not JSON: %v", err)
			}
			if body["error"] == "" {
				t.Error("error field is empty")
			}
		})
	}
}

func TestTTS_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"no usable input", pipeline.ErrNoInput, http.StatusBadRequest},
		{"timeout", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"internal", errors.New("checkpoint corrupt"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(&stubSynth{err: tt.err})

			req := httptest.NewRequest(http.MethodPost, "/tts", strings.NewReader(`{"text":"hello"}`))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestEncode(t *testing.T) {
	h := newTestHandler(&stubSynth{})

	req := httptest.NewRequest(http.MethodPost, "/encode", strings.NewReader(`{"texts":["hi","ab1c"]}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var body encodeResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}

	if len(body.IDs) != 2 {
		t.Fatalf("rows = %d, want 2", len(body.IDs))
	}
	if body.Lengths[0] != 2 {
		t.Errorf("length of %q = %d, want 2", "hi", body.Lengths[0])
	}
	if body.Dropped[1] != 1 {
		t.Errorf("dropped for %q = %d, want 1", "ab1c", body.Dropped[1])
	}
}

func TestEncode_MethodNotAllowed(t *testing.T) {
	h := newTestHandler(&stubSynth{})

	req := httptest.NewRequest(http.MethodGet, "/encode", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestServer_GracefulShutdown(t *testing.T) {
	srv := New("127.0.0.1:0", newTestHandler(&stubSynth{wav: []byte("x")}), quietLogger()).
		WithShutdownTimeout(time.Second)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	// Give the listener a moment to come up, then stop it.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start returned %v, want nil after shutdown", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
