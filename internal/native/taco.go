package native

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/example/go-taco-tts/internal/pipeline"
	"github.com/example/go-taco-tts/internal/runtime/ops"
	"github.com/example/go-taco-tts/internal/runtime/tensor"
	"github.com/example/go-taco-tts/internal/textenc"
)

// Checkpoint metadata key carrying the fingerprint of the symbol table the
// generator was trained against.
const metaSymbolFingerprint = "symbol_fingerprint"

// TacoConfig holds the generator hyperparameters that cannot be derived from
// the checkpoint weights.
type TacoConfig struct {
	EncoderConvLayers int
	PrenetDropout     float64
	GateThreshold     float32
	MaxDecoderSteps   int
	Frames            pipeline.FrameParams
}

func DefaultTacoConfig() TacoConfig {
	return TacoConfig{
		EncoderConvLayers: 3,
		PrenetDropout:     0.5,
		GateThreshold:     0.5,
		MaxDecoderSteps:   1000,
		Frames: pipeline.FrameParams{
			Mels:       80,
			FFTSize:    1024,
			HopSize:    256,
			WinSize:    1024,
			SampleRate: 22050,
		},
	}
}

func (c TacoConfig) validate() error {
	if c.EncoderConvLayers <= 0 {
		return fmt.Errorf("native: generator needs at least one encoder conv layer, got %d", c.EncoderConvLayers)
	}

	if c.PrenetDropout < 0 || c.PrenetDropout >= 1 {
		return fmt.Errorf("native: prenet dropout %v out of range [0, 1)", c.PrenetDropout)
	}

	if c.GateThreshold <= 0 || c.GateThreshold >= 1 {
		return fmt.Errorf("native: gate threshold %v out of range (0, 1)", c.GateThreshold)
	}

	if c.MaxDecoderSteps <= 0 {
		return fmt.Errorf("native: max decoder steps must be positive, got %d", c.MaxDecoderSteps)
	}

	return nil
}

// TacoModel is the autoregressive attention-based spectrogram generator. It
// encodes the symbol sequence once, then decodes mel frames one at a time
// until the stop gate fires or the step cap is hit.
//
// The prenet applies dropout at synthesis time, so generation is stochastic:
// identical input with identical rng state yields identical output, anything
// else does not.
type TacoModel struct {
	cfg TacoConfig
	log *slog.Logger

	embedding *tensor.Tensor // [vocab, embDim]

	encoderConvs []*Conv
	encoderFwd   *GRU
	encoderBwd   *GRU

	prenet0 *Linear
	prenet1 *Linear

	attnRNN       *GRU
	attnQuery     *Linear
	attnMemory    *Linear
	locationConv  *Conv
	locationDense *Linear
	attnScore     *Linear

	decoderRNN *GRU
	frameProj  *Linear
	gateProj   *Linear

	fingerprint string
	encoderDim  int64
}

// LoadTacoModel reads the generator weights from a safetensors checkpoint.
func LoadTacoModel(path string, cfg TacoConfig, log *slog.Logger) (*TacoModel, error) {
	vb, err := OpenVarBuilder(path)
	if err != nil {
		return nil, err
	}

	return LoadTacoModelFromVars(vb, cfg, log)
}

// LoadTacoModelFromVars builds the generator from an already-open store.
func LoadTacoModelFromVars(vb *VarBuilder, cfg TacoConfig, log *slog.Logger) (*TacoModel, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if err := cfg.Frames.Validate(); err != nil {
		return nil, err
	}

	if log == nil {
		log = slog.Default()
	}

	m := &TacoModel{cfg: cfg, log: log}

	var err error

	if m.embedding, err = vb.Tensor("embedding.weight"); err != nil {
		return nil, err
	}

	if m.embedding.Rank() != 2 {
		return nil, fmt.Errorf("native: embedding must be rank-2, got %v", m.embedding.Shape())
	}

	embDim := m.embedding.Dim(1)

	enc := vb.Path("encoder")
	for i := 0; i < cfg.EncoderConvLayers; i++ {
		conv, err := loadConv(enc, fmt.Sprintf("convs.%d", i), 0)
		if err != nil {
			return nil, err
		}

		if conv.Weight.Dim(0) != embDim || conv.Weight.Dim(1) != embDim {
			return nil, fmt.Errorf("native: encoder conv %d shape %v does not preserve width %d", i, conv.Weight.Shape(), embDim)
		}

		// Symmetric padding keeps the sequence length.
		conv.Padding = (conv.Weight.Dim(2) - 1) / 2
		m.encoderConvs = append(m.encoderConvs, conv)
	}

	if m.encoderFwd, err = loadGRU(enc, "gru_fwd"); err != nil {
		return nil, err
	}

	if m.encoderBwd, err = loadGRU(enc, "gru_bwd"); err != nil {
		return nil, err
	}

	if m.encoderFwd.Hidden() != m.encoderBwd.Hidden() {
		return nil, fmt.Errorf("native: encoder gru hidden sizes differ: %d vs %d", m.encoderFwd.Hidden(), m.encoderBwd.Hidden())
	}

	m.encoderDim = 2 * m.encoderFwd.Hidden()

	dec := vb.Path("decoder")

	if m.prenet0, err = loadLinear(dec, "prenet.0", true); err != nil {
		return nil, err
	}

	if m.prenet1, err = loadLinear(dec, "prenet.1", true); err != nil {
		return nil, err
	}

	if m.attnRNN, err = loadGRU(dec, "attention_rnn"); err != nil {
		return nil, err
	}

	attn := dec.Path("attention")

	if m.attnQuery, err = loadLinear(attn, "query", false); err != nil {
		return nil, err
	}

	if m.attnMemory, err = loadLinear(attn, "memory", false); err != nil {
		return nil, err
	}

	if m.locationConv, err = loadConv(attn, "location_conv", 0); err != nil {
		return nil, err
	}

	if m.locationConv.Weight.Dim(1) != 2 {
		return nil, fmt.Errorf("native: location conv wants 2 input channels, got %v", m.locationConv.Weight.Shape())
	}

	m.locationConv.Padding = (m.locationConv.Weight.Dim(2) - 1) / 2

	if m.locationDense, err = loadLinear(attn, "location_dense", false); err != nil {
		return nil, err
	}

	if m.attnScore, err = loadLinear(attn, "score", false); err != nil {
		return nil, err
	}

	if m.attnScore.Weight.Dim(0) != 1 {
		return nil, fmt.Errorf("native: attention score must project to a scalar, got %v", m.attnScore.Weight.Shape())
	}

	if m.decoderRNN, err = loadGRU(dec, "rnn"); err != nil {
		return nil, err
	}

	if m.frameProj, err = loadLinear(dec, "frame", true); err != nil {
		return nil, err
	}

	if m.gateProj, err = loadLinear(dec, "gate", true); err != nil {
		return nil, err
	}

	if mels := m.frameProj.Weight.Dim(0); mels != int64(cfg.Frames.Mels) {
		return nil, fmt.Errorf("native: frame projection emits %d mels, config says %d", mels, cfg.Frames.Mels)
	}

	if m.gateProj.Weight.Dim(0) != 1 {
		return nil, fmt.Errorf("native: gate projection must emit a scalar, got %v", m.gateProj.Weight.Shape())
	}

	if fp, ok := vb.Metadata(metaSymbolFingerprint); ok {
		m.fingerprint = fp
	}

	return m, nil
}

// Frames reports the spectrogram frame conventions of the model.
func (m *TacoModel) Frames() pipeline.FrameParams { return m.cfg.Frames }

// VocabSize reports the symbol vocabulary of the embedding table.
func (m *TacoModel) VocabSize() int64 { return m.embedding.Dim(0) }

// SymbolFingerprint reports the training symbol table fingerprint when the
// checkpoint carries one.
func (m *TacoModel) SymbolFingerprint() (string, bool) {
	return m.fingerprint, m.fingerprint != ""
}

// Generate decodes every row of the batch independently and assembles the
// padded spectrogram. Zero-length rows stay zero-length.
func (m *TacoModel) Generate(ctx context.Context, batch *textenc.Batch, rng *rand.Rand) (*pipeline.Spectrogram, error) {
	if batch == nil || len(batch.IDs) == 0 {
		return nil, errors.New("native: generate on empty batch")
	}

	if rng == nil {
		return nil, errors.New("native: generate requires an explicit rng")
	}

	type rowResult struct {
		frames [][]float32
		gates  []float32
		aligns []float32
		inLen  int
	}

	results := make([]rowResult, len(batch.IDs))
	maxFrames := 0

	for b, row := range batch.IDs {
		n := int(batch.Lengths[b])
		if n == 0 {
			continue
		}

		frames, gates, aligns, err := m.decodeRow(ctx, row[:n], rng)
		if err != nil {
			return nil, fmt.Errorf("native: decode row %d: %w", b, err)
		}

		results[b] = rowResult{frames: frames, gates: gates, aligns: aligns, inLen: n}
		if len(frames) > maxFrames {
			maxFrames = len(frames)
		}
	}

	if maxFrames == 0 {
		return nil, errors.New("native: no row produced any frames")
	}

	spec, err := pipeline.NewSpectrogram(len(batch.IDs), m.cfg.Frames.Mels, maxFrames)
	if err != nil {
		return nil, err
	}

	spec.Gates = make([][]float32, len(batch.IDs))
	spec.Alignments = make([][]float32, len(batch.IDs))
	spec.InputLens = make([]int, len(batch.IDs))

	for b, res := range results {
		spec.Lengths[b] = len(res.frames)
		spec.Gates[b] = res.gates
		spec.Alignments[b] = res.aligns
		spec.InputLens[b] = res.inLen

		for t, frame := range res.frames {
			if err := spec.SetFrame(b, t, frame); err != nil {
				return nil, err
			}
		}
	}

	return spec, nil
}

// encodeRow runs the convolutional stack and the bidirectional GRU over one
// symbol row, producing the attention memory [T, encoderDim].
func (m *TacoModel) encodeRow(ids []int64) (*tensor.Tensor, error) {
	emb, err := ops.Embed(m.embedding, ids)
	if err != nil {
		return nil, err
	}

	x, err := emb.Transpose2D() // [embDim, T]
	if err != nil {
		return nil, err
	}

	for _, conv := range m.encoderConvs {
		y, err := conv.Forward(x)
		if err != nil {
			return nil, err
		}

		x = tensor.ReLU(y)
	}

	seq, err := x.Transpose2D() // [T, embDim]
	if err != nil {
		return nil, err
	}

	steps := int(seq.Dim(0))
	hidden := m.encoderFwd.Hidden()

	fwd := make([]*tensor.Tensor, steps)
	h, err := tensor.Zeros(hidden)
	if err != nil {
		return nil, err
	}

	for t := 0; t < steps; t++ {
		row, err := seq.Row(int64(t))
		if err != nil {
			return nil, err
		}

		xt, err := tensor.New(row, int64(len(row)))
		if err != nil {
			return nil, err
		}

		if h, err = m.encoderFwd.Step(xt, h); err != nil {
			return nil, err
		}

		fwd[t] = h
	}

	bwd := make([]*tensor.Tensor, steps)
	if h, err = tensor.Zeros(hidden); err != nil {
		return nil, err
	}

	for t := steps - 1; t >= 0; t-- {
		row, err := seq.Row(int64(t))
		if err != nil {
			return nil, err
		}

		xt, err := tensor.New(row, int64(len(row)))
		if err != nil {
			return nil, err
		}

		if h, err = m.encoderBwd.Step(xt, h); err != nil {
			return nil, err
		}

		bwd[t] = h
	}

	memory := make([]float32, 0, steps*int(m.encoderDim))
	for t := 0; t < steps; t++ {
		memory = append(memory, fwd[t].RawData()...)
		memory = append(memory, bwd[t].RawData()...)
	}

	return tensor.New(memory, int64(steps), m.encoderDim)
}

func (m *TacoModel) decodeRow(ctx context.Context, ids []int64, rng *rand.Rand) ([][]float32, []float32, []float32, error) {
	memory, err := m.encodeRow(ids)
	if err != nil {
		return nil, nil, nil, err
	}

	memProj, err := m.attnMemory.Forward(memory) // [T, attnDim]
	if err != nil {
		return nil, nil, nil, err
	}

	steps := memory.Dim(0)

	prevFrame, err := tensor.Zeros(int64(m.cfg.Frames.Mels))
	if err != nil {
		return nil, nil, nil, err
	}

	attnH, _ := tensor.Zeros(m.attnRNN.Hidden())
	decH, _ := tensor.Zeros(m.decoderRNN.Hidden())
	context_, _ := tensor.Zeros(m.encoderDim)
	attnW, _ := tensor.Zeros(steps)
	cumW, _ := tensor.Zeros(steps)

	var (
		frames [][]float32
		gates  []float32
		aligns []float32
	)

	stopped := false

	for step := 0; step < m.cfg.MaxDecoderSteps; step++ {
		if err := ctx.Err(); err != nil {
			return nil, nil, nil, err
		}

		pre, err := m.prenet(prevFrame, rng)
		if err != nil {
			return nil, nil, nil, err
		}

		attnIn, err := concatVec(pre, context_)
		if err != nil {
			return nil, nil, nil, err
		}

		if attnH, err = m.attnRNN.Step(attnIn, attnH); err != nil {
			return nil, nil, nil, err
		}

		if attnW, context_, err = m.attend(attnH, memory, memProj, attnW, cumW); err != nil {
			return nil, nil, nil, err
		}

		if err := tensor.AddInPlace(cumW, attnW); err != nil {
			return nil, nil, nil, err
		}

		decIn, err := concatVec(attnH, context_)
		if err != nil {
			return nil, nil, nil, err
		}

		if decH, err = m.decoderRNN.Step(decIn, decH); err != nil {
			return nil, nil, nil, err
		}

		projIn, err := concatVec(decH, context_)
		if err != nil {
			return nil, nil, nil, err
		}

		frame, err := m.frameProj.Forward(projIn)
		if err != nil {
			return nil, nil, nil, err
		}

		gateOut, err := m.gateProj.Forward(projIn)
		if err != nil {
			return nil, nil, nil, err
		}

		gate := tensor.SigmoidScalar(gateOut.RawData()[0])

		frames = append(frames, append([]float32(nil), frame.RawData()...))
		gates = append(gates, gate)
		aligns = append(aligns, attnW.RawData()...)

		prevFrame = frame

		if gate > m.cfg.GateThreshold {
			stopped = true
			break
		}
	}

	if !stopped {
		m.log.Warn("decoder hit the step cap without a stop gate, output is truncated",
			"steps", m.cfg.MaxDecoderSteps, "input_len", len(ids))
	}

	return frames, gates, aligns, nil
}

// prenet applies both bottleneck layers with always-on dropout.
func (m *TacoModel) prenet(frame *tensor.Tensor, rng *rand.Rand) (*tensor.Tensor, error) {
	h, err := m.prenet0.Forward(frame)
	if err != nil {
		return nil, err
	}

	h, err = ops.Dropout(tensor.ReLU(h), m.cfg.PrenetDropout, rng)
	if err != nil {
		return nil, err
	}

	h, err = m.prenet1.Forward(h)
	if err != nil {
		return nil, err
	}

	return ops.Dropout(tensor.ReLU(h), m.cfg.PrenetDropout, rng)
}

// attend computes location-sensitive attention weights and the new context.
func (m *TacoModel) attend(attnH, memory, memProj, attnW, cumW *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor, error) {
	steps := memory.Dim(0)

	query, err := m.attnQuery.Forward(attnH) // [attnDim]
	if err != nil {
		return nil, nil, err
	}

	locSignal, err := tensor.Concat(0, attnW.MustReshape(1, steps), cumW.MustReshape(1, steps))
	if err != nil {
		return nil, nil, err
	}

	loc, err := m.locationConv.Forward(locSignal) // [filters, T]
	if err != nil {
		return nil, nil, err
	}

	locT, err := loc.Transpose2D() // [T, filters]
	if err != nil {
		return nil, nil, err
	}

	locProj, err := m.locationDense.Forward(locT) // [T, attnDim]
	if err != nil {
		return nil, nil, err
	}

	combined, err := tensor.Add(memProj, locProj)
	if err != nil {
		return nil, nil, err
	}

	// Broadcast the query over every time step.
	attnDim := query.Dim(0)
	q := query.RawData()
	data := combined.RawData()

	for t := int64(0); t < steps; t++ {
		base := t * attnDim
		for i := int64(0); i < attnDim; i++ {
			data[base+i] += q[i]
		}
	}

	energies, err := m.attnScore.Forward(tensor.Tanh(combined)) // [T, 1]
	if err != nil {
		return nil, nil, err
	}

	weights, err := tensor.Softmax(energies.MustReshape(1, steps))
	if err != nil {
		return nil, nil, err
	}

	context_, err := tensor.MatMul(weights, memory) // [1, encDim]
	if err != nil {
		return nil, nil, err
	}

	return weights.MustReshape(steps), context_.MustReshape(m.encoderDim), nil
}
