package onnx

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"github.com/example/go-taco-tts/internal/pipeline"
	"github.com/example/go-taco-tts/internal/textenc"
)

// GeneratorConfig describes an exported spectrogram-generation graph.
//
// The graph contract: inputs "sequences" [B, L] int64 and
// "sequence_lengths" [B] int64; outputs "mel" [B, mels, T] float32 and
// "mel_lengths" [B] int64, optionally "gates" [B, T] float32.
type GeneratorConfig struct {
	ModelPath string
	Runner    RunnerConfig
	Frames    pipeline.FrameParams

	// Vocab is the symbol vocabulary the graph was exported with; the
	// graph itself cannot report it. SymbolFingerprint is optional.
	Vocab             int64
	SymbolFingerprint string
}

// Generator runs spectrogram generation through an ONNX graph. Sampling
// happens inside the graph, so the rng handed to Generate is not consulted;
// reproducibility across calls is only as good as the exported graph.
type Generator struct {
	cfg    GeneratorConfig
	runner *Runner
}

func NewGenerator(cfg GeneratorConfig) (*Generator, error) {
	if err := cfg.Frames.Validate(); err != nil {
		return nil, err
	}

	if cfg.Vocab <= 0 {
		return nil, fmt.Errorf("onnx: generator vocab %d must be positive", cfg.Vocab)
	}

	runner, err := NewRunner("generator", cfg.ModelPath, cfg.Runner)
	if err != nil {
		return nil, err
	}

	return &Generator{cfg: cfg, runner: runner}, nil
}

func (g *Generator) Frames() pipeline.FrameParams { return g.cfg.Frames }
func (g *Generator) VocabSize() int64             { return g.cfg.Vocab }

func (g *Generator) SymbolFingerprint() (string, bool) {
	return g.cfg.SymbolFingerprint, g.cfg.SymbolFingerprint != ""
}

// Close releases the underlying session.
func (g *Generator) Close() {
	if g != nil && g.runner != nil {
		g.runner.Close()
	}
}

func (g *Generator) Generate(ctx context.Context, batch *textenc.Batch, _ *rand.Rand) (*pipeline.Spectrogram, error) {
	if batch == nil || len(batch.IDs) == 0 {
		return nil, errors.New("onnx: generate on empty batch")
	}

	rows := int64(len(batch.IDs))
	width := int64(batch.MaxLength())

	flat := make([]int64, 0, rows*width)
	for _, row := range batch.IDs {
		flat = append(flat, row...)
	}

	sequences, err := NewTensor(flat, []int64{rows, width})
	if err != nil {
		return nil, err
	}

	lengths, err := NewTensor(batch.Lengths, []int64{rows})
	if err != nil {
		return nil, err
	}

	outputs, err := g.runner.Run(ctx, map[string]*Tensor{
		"sequences":        sequences,
		"sequence_lengths": lengths,
	})
	if err != nil {
		return nil, err
	}

	mel, ok := outputs["mel"]
	if !ok {
		return nil, errors.New("onnx: graph produced no \"mel\" output")
	}

	if mel.Dim(0) != rows || mel.Dim(1) != int64(g.cfg.Frames.Mels) {
		return nil, fmt.Errorf("onnx: mel shape %v does not match batch %d x %d mels", mel.Shape(), rows, g.cfg.Frames.Mels)
	}

	melData, err := mel.Float32s()
	if err != nil {
		return nil, err
	}

	melLengths, ok := outputs["mel_lengths"]
	if !ok {
		return nil, errors.New("onnx: graph produced no \"mel_lengths\" output")
	}

	lens, err := melLengths.Int64s()
	if err != nil {
		return nil, err
	}

	if int64(len(lens)) != rows {
		return nil, fmt.Errorf("onnx: mel_lengths has %d entries for %d rows", len(lens), rows)
	}

	maxFrames := int(mel.Dim(2))

	spec, err := pipeline.NewSpectrogram(int(rows), g.cfg.Frames.Mels, maxFrames)
	if err != nil {
		return nil, err
	}

	copy(spec.Data, melData)

	for b, n := range lens {
		if n < 0 || int(n) > maxFrames {
			return nil, fmt.Errorf("onnx: mel_lengths[%d] = %d out of range [0, %d]", b, n, maxFrames)
		}

		spec.Lengths[b] = int(n)
	}

	if gates, ok := outputs["gates"]; ok {
		if data, err := gates.Float32s(); err == nil && gates.Dim(0) == rows {
			spec.Gates = make([][]float32, rows)
			stride := int(gates.Dim(1))

			for b := 0; b < int(rows); b++ {
				end := spec.Lengths[b]
				if end > stride {
					end = stride
				}

				spec.Gates[b] = append([]float32(nil), data[b*stride:b*stride+end]...)
			}
		}
	}

	return spec, nil
}
