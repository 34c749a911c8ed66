// Package tts assembles the synthesis pipeline from configuration and
// exposes it as a service the CLI and the HTTP server share.
package tts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"

	"github.com/example/go-taco-tts/internal/audio"
	"github.com/example/go-taco-tts/internal/config"
	"github.com/example/go-taco-tts/internal/native"
	"github.com/example/go-taco-tts/internal/onnx"
	"github.com/example/go-taco-tts/internal/pipeline"
	"github.com/example/go-taco-tts/internal/textenc"
	"github.com/example/go-taco-tts/internal/vocoder"
)

// Backend names accepted by runtime.backend.
const (
	BackendNative = "native"
	BackendONNX   = "onnx"
)

// Service owns a fully assembled pipeline plus the audio post-processing
// configured for it. Construction fails fast on any stage mismatch.
type Service struct {
	cfg     config.Config
	log     *slog.Logger
	pipe    *pipeline.Pipeline
	closers []func()
}

// NewService builds the encoder, generator and vocoder named by cfg and
// validates them as a pipeline.
func NewService(cfg config.Config, log *slog.Logger) (*Service, error) {
	if log == nil {
		log = slog.Default()
	}

	s := &Service{cfg: cfg, log: log}

	enc, err := textenc.New(cfg.TTS.Strategy, cfg.Paths.Lexicon, log)
	if err != nil {
		return nil, err
	}

	frames := pipeline.FrameParams{
		Mels:       cfg.Frames.Mels,
		FFTSize:    cfg.Frames.FFTSize,
		HopSize:    cfg.Frames.HopSize,
		WinSize:    cfg.Frames.WinSize,
		SampleRate: cfg.Frames.SampleRate,
	}

	if err := frames.Validate(); err != nil {
		s.Close()
		return nil, err
	}

	gen, err := s.buildGenerator(enc, frames)
	if err != nil {
		s.Close()
		return nil, err
	}

	voc, err := s.buildVocoder(frames)
	if err != nil {
		s.Close()
		return nil, err
	}

	pipe, err := pipeline.New(enc, gen, voc, log)
	if err != nil {
		s.Close()
		return nil, err
	}

	s.pipe = pipe

	log.Info("pipeline ready",
		"backend", cfg.Runtime.Backend,
		"strategy", cfg.TTS.Strategy,
		"vocoder", cfg.TTS.Vocoder,
		"sample_rate", frames.SampleRate,
	)

	return s, nil
}

func (s *Service) buildGenerator(enc textenc.Encoder, frames pipeline.FrameParams) (pipeline.Generator, error) {
	switch strings.ToLower(s.cfg.Runtime.Backend) {
	case "", BackendNative:
		tacoCfg := native.DefaultTacoConfig()
		tacoCfg.Frames = frames
		tacoCfg.GateThreshold = float32(s.cfg.TTS.GateThreshold)
		tacoCfg.MaxDecoderSteps = s.cfg.TTS.MaxDecoderSteps

		return native.LoadTacoModel(s.cfg.Paths.GeneratorModel, tacoCfg, s.log)

	case BackendONNX:
		gen, err := onnx.NewGenerator(onnx.GeneratorConfig{
			ModelPath: s.cfg.Paths.ONNXGenerator,
			Runner:    s.runnerConfig(),
			Frames:    frames,
			// The graph was exported against the same frozen symbol
			// table the encoder uses.
			Vocab:             int64(enc.Table().Size()),
			SymbolFingerprint: enc.Table().Fingerprint(),
		})
		if err != nil {
			return nil, err
		}

		s.closers = append(s.closers, gen.Close)

		return gen, nil

	default:
		return nil, fmt.Errorf("tts: unknown backend %q (want %s|%s)", s.cfg.Runtime.Backend, BackendNative, BackendONNX)
	}
}

func (s *Service) buildVocoder(frames pipeline.FrameParams) (pipeline.Vocoder, error) {
	kind := strings.ToLower(s.cfg.TTS.Vocoder)
	onnxBackend := strings.ToLower(s.cfg.Runtime.Backend) == BackendONNX

	switch kind {
	case "", vocoder.KindGriffinLim:
		return vocoder.NewGriffinLim(frames, s.cfg.TTS.GriffinLimIters)

	case vocoder.KindWaveRNN:
		if onnxBackend {
			return nil, errors.New("tts: wavernn vocoder is not available with the onnx backend")
		}

		model, err := native.LoadWaveRNNModel(s.cfg.Paths.WaveRNNModel, native.WaveRNNConfig{Frames: frames})
		if err != nil {
			return nil, err
		}

		return vocoder.NewWaveRNN(model)

	case vocoder.KindWaveGlow:
		if onnxBackend {
			voc, err := onnx.NewVocoder(onnx.VocoderConfig{
				ModelPath: s.cfg.Paths.ONNXVocoder,
				Runner:    s.runnerConfig(),
				Frames:    frames,
				Groups:    native.DefaultWaveGlowConfig().Groups,
				Sigma:     s.cfg.TTS.Sigma,
			})
			if err != nil {
				return nil, err
			}

			s.closers = append(s.closers, voc.Close)

			return voc, nil
		}

		glowCfg := native.DefaultWaveGlowConfig()
		glowCfg.Sigma = s.cfg.TTS.Sigma
		glowCfg.Frames = frames

		model, err := native.LoadWaveGlowModel(s.cfg.Paths.WaveGlowModel, glowCfg)
		if err != nil {
			return nil, err
		}

		return vocoder.NewWaveGlow(model)

	default:
		return nil, fmt.Errorf("tts: unknown vocoder %q (want %s|%s|%s)",
			s.cfg.TTS.Vocoder, vocoder.KindGriffinLim, vocoder.KindWaveRNN, vocoder.KindWaveGlow)
	}
}

func (s *Service) runnerConfig() onnx.RunnerConfig {
	return onnx.RunnerConfig{
		LibraryPath: s.cfg.Runtime.ORTLibraryPath,
		APIVersion:  s.cfg.Runtime.ORTAPIVersion,
	}
}

// Frames reports the pipeline frame conventions.
func (s *Service) Frames() pipeline.FrameParams {
	return s.pipe.Frames()
}

// VocoderKind reports the vocoder bound at construction.
func (s *Service) VocoderKind() string {
	if s.cfg.TTS.Vocoder == "" {
		return vocoder.KindGriffinLim
	}

	return strings.ToLower(s.cfg.TTS.Vocoder)
}

// SampleRate reports the output audio sample rate.
func (s *Service) SampleRate() int {
	return s.pipe.Frames().SampleRate
}

// Encode runs only the text stage.
func (s *Service) Encode(texts []string) (*textenc.Batch, error) {
	return s.pipe.Encode(texts)
}

// Synthesize runs the full pipeline over texts. A seed of 0 falls back to
// the configured seed; if that is 0 too, output is non-reproducible.
// Post-processing (normalization, fades) is applied per configuration.
func (s *Service) Synthesize(ctx context.Context, texts []string, seed int64) (*pipeline.Waveform, error) {
	if seed == 0 {
		seed = s.cfg.TTS.Seed
	}

	var opts pipeline.Options
	if seed != 0 {
		opts.RNG = rand.New(rand.NewSource(seed))
	}

	wave, err := s.pipe.Synthesize(ctx, texts, opts)
	if err != nil {
		return nil, err
	}

	for _, samples := range wave.Samples {
		if len(samples) == 0 {
			continue
		}

		if s.cfg.Audio.Normalize {
			audio.PeakNormalize(samples, 1.0)
		}

		if s.cfg.Audio.FadeMs > 0 {
			audio.FadeIn(samples, wave.SampleRate, s.cfg.Audio.FadeMs)
			audio.FadeOut(samples, wave.SampleRate, s.cfg.Audio.FadeMs)
		}
	}

	return wave, nil
}

// SynthesizeWAV synthesizes a single text and returns WAV bytes.
func (s *Service) SynthesizeWAV(ctx context.Context, text string, seed int64) ([]byte, error) {
	wave, err := s.Synthesize(ctx, []string{text}, seed)
	if err != nil {
		return nil, err
	}

	return audio.EncodeWAV(wave.Samples[0], wave.SampleRate)
}

// Close releases backend resources. Safe to call multiple times.
func (s *Service) Close() {
	for _, fn := range s.closers {
		fn()
	}

	s.closers = nil
}
