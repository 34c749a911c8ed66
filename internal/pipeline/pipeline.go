package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/example/go-taco-tts/internal/textenc"
)

// Generator turns a padded symbol batch into mel spectrograms. Stochastic
// implementations draw exclusively from the rng handed to Generate.
type Generator interface {
	Generate(ctx context.Context, batch *textenc.Batch, rng *rand.Rand) (*Spectrogram, error)

	// Frames reports the frame conventions of the emitted spectrograms.
	Frames() FrameParams

	// VocabSize reports the symbol vocabulary the model was trained on.
	VocabSize() int64

	// SymbolFingerprint returns the fingerprint of the training symbol
	// table when the checkpoint carries one.
	SymbolFingerprint() (string, bool)
}

// Vocoder turns mel spectrograms into audio. Stochastic implementations draw
// exclusively from the rng handed to Vocode; deterministic ones ignore it.
type Vocoder interface {
	Vocode(ctx context.Context, spec *Spectrogram, rng *rand.Rand) (*Waveform, error)

	// Frames reports the frame conventions the vocoder expects.
	Frames() FrameParams

	// Deterministic reports whether identical input always yields
	// identical output regardless of rng.
	Deterministic() bool
}

// Options control one synthesis call.
type Options struct {
	// RNG drives every stochastic stage of the call. A nil RNG gets a
	// time-seeded source, making results non-reproducible; pass a seeded
	// rng for reproducible output.
	RNG *rand.Rand
}

// Pipeline runs encoder, generator and vocoder in sequence. Compatibility
// between the stages is checked once at construction, never per call.
type Pipeline struct {
	encoder   textenc.Encoder
	generator Generator
	vocoder   Vocoder
	log       *slog.Logger
}

// New validates that the three stages agree on vocabulary and frame
// conventions and returns the assembled pipeline. Mismatches are returned
// as ErrIncompatible instead of surfacing later as garbled audio.
func New(encoder textenc.Encoder, generator Generator, vocoder Vocoder, log *slog.Logger) (*Pipeline, error) {
	if encoder == nil || generator == nil || vocoder == nil {
		return nil, errors.New("pipeline: all three stages are required")
	}

	if log == nil {
		log = slog.Default()
	}

	table := encoder.Table()
	if table == nil {
		return nil, fmt.Errorf("%w: encoder has no symbol table", ErrIncompatible)
	}

	if vocab := generator.VocabSize(); vocab != int64(table.Size()) {
		return nil, fmt.Errorf("%w: generator vocabulary %d does not match encoder table size %d", ErrIncompatible, vocab, table.Size())
	}

	if fp, ok := generator.SymbolFingerprint(); ok && fp != table.Fingerprint() {
		return nil, fmt.Errorf("%w: generator symbol fingerprint %s does not match encoder table %s", ErrIncompatible, fp, table.Fingerprint())
	}

	gf, vf := generator.Frames(), vocoder.Frames()
	if err := gf.Validate(); err != nil {
		return nil, err
	}

	if gf != vf {
		return nil, fmt.Errorf("%w: generator frames %+v do not match vocoder frames %+v", ErrIncompatible, gf, vf)
	}

	return &Pipeline{encoder: encoder, generator: generator, vocoder: vocoder, log: log}, nil
}

// Frames reports the shared frame conventions of the pipeline.
func (p *Pipeline) Frames() FrameParams {
	return p.generator.Frames()
}

// Deterministic reports whether the whole pipeline is free of stochastic
// stages. The generator stage is always treated as stochastic.
func (p *Pipeline) Deterministic() bool {
	return false
}

// Encode runs only the text stage, for callers that want to inspect the
// symbol ids without synthesizing audio.
func (p *Pipeline) Encode(texts []string) (*textenc.Batch, error) {
	return textenc.EncodeBatch(p.encoder, texts)
}

// Synthesize runs the full pipeline over a batch of texts. Output row i
// always corresponds to texts[i]; rows whose text encoded to nothing come
// back as empty sample slices. A batch where every row encodes to nothing
// is rejected with ErrNoInput.
func (p *Pipeline) Synthesize(ctx context.Context, texts []string, opts Options) (*Waveform, error) {
	start := time.Now()

	batch, err := textenc.EncodeBatch(p.encoder, texts)
	if err != nil {
		if errors.Is(err, textenc.ErrNoTexts) {
			return nil, ErrNoInput
		}

		return nil, fmt.Errorf("pipeline: encode: %w", err)
	}

	if batch.Empty() {
		return nil, fmt.Errorf("%w: every text encoded to zero symbols", ErrNoInput)
	}

	rng := opts.RNG
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
		p.log.Debug("no rng supplied, output will not be reproducible")
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	spec, err := p.generator.Generate(ctx, batch, rng)
	if err != nil {
		return nil, fmt.Errorf("pipeline: generate: %w", err)
	}

	if spec.Batch != len(texts) {
		return nil, fmt.Errorf("pipeline: generator returned %d rows for %d texts", spec.Batch, len(texts))
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	wave, err := p.vocoder.Vocode(ctx, spec, rng)
	if err != nil {
		return nil, fmt.Errorf("pipeline: vocode: %w", err)
	}

	if len(wave.Samples) != len(texts) {
		return nil, fmt.Errorf("pipeline: vocoder returned %d rows for %d texts", len(wave.Samples), len(texts))
	}

	p.log.Info("synthesis complete",
		"texts", len(texts),
		"max_frames", spec.MaxFrames,
		"sample_rate", wave.SampleRate,
		"elapsed", time.Since(start),
	)

	return wave, nil
}
