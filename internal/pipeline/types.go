// Package pipeline wires the three synthesis stages together: a text encoder
// producing symbol ids, a spectrogram generator, and a vocoder producing
// audio samples. Stage implementations live in other packages; this package
// owns the data contracts between them and the end-to-end orchestration.
package pipeline

import (
	"errors"
	"fmt"

	"github.com/example/go-taco-tts/internal/runtime/tensor"
)

var (
	// ErrIncompatible reports stages whose static parameters cannot work
	// together, detected when the pipeline is constructed.
	ErrIncompatible = errors.New("pipeline: incompatible stages")

	// ErrNoInput reports a synthesis request with no usable text.
	ErrNoInput = errors.New("pipeline: no usable input text")
)

// FrameParams are the spectrogram frame conventions a generator emits and a
// vocoder consumes. Both stages must agree on all of them.
type FrameParams struct {
	Mels       int
	FFTSize    int
	HopSize    int
	WinSize    int
	SampleRate int
}

// Validate rejects frame parameter sets no stage could honor.
func (p FrameParams) Validate() error {
	if p.Mels <= 0 || p.FFTSize <= 0 || p.HopSize <= 0 || p.WinSize <= 0 || p.SampleRate <= 0 {
		return fmt.Errorf("%w: frame params %+v contain non-positive values", ErrIncompatible, p)
	}

	if p.WinSize > p.FFTSize {
		return fmt.Errorf("%w: window %d exceeds fft size %d", ErrIncompatible, p.WinSize, p.FFTSize)
	}

	return nil
}

// Spectrogram is a batch of mel spectrograms padded to the longest row.
// Data is row-major [batch, mels, maxFrames]; Lengths holds the number of
// valid frames per row, everything past that is padding.
type Spectrogram struct {
	Data      []float32
	Batch     int
	Mels      int
	MaxFrames int
	Lengths   []int

	// Gates holds the per-frame stop probability each decoder step emitted,
	// one slice per row. Alignments holds the attention weights per step
	// flattened as [steps * inputLen]. Both are diagnostic and may be nil.
	Gates      [][]float32
	Alignments [][]float32
	InputLens  []int
}

// NewSpectrogram allocates a zero-filled batch.
func NewSpectrogram(batch, mels, maxFrames int) (*Spectrogram, error) {
	if batch <= 0 || mels <= 0 || maxFrames < 0 {
		return nil, fmt.Errorf("pipeline: invalid spectrogram dims batch=%d mels=%d frames=%d", batch, mels, maxFrames)
	}

	return &Spectrogram{
		Data:      make([]float32, batch*mels*maxFrames),
		Batch:     batch,
		Mels:      mels,
		MaxFrames: maxFrames,
		Lengths:   make([]int, batch),
	}, nil
}

// SetFrame writes one mel frame into row b at frame index t.
func (s *Spectrogram) SetFrame(b, t int, frame []float32) error {
	if b < 0 || b >= s.Batch || t < 0 || t >= s.MaxFrames {
		return fmt.Errorf("pipeline: frame (%d, %d) out of range %dx%d", b, t, s.Batch, s.MaxFrames)
	}

	if len(frame) != s.Mels {
		return fmt.Errorf("pipeline: frame has %d mels, want %d", len(frame), s.Mels)
	}

	base := (b*s.Mels)*s.MaxFrames + t
	for m, v := range frame {
		s.Data[base+m*s.MaxFrames] = v
	}

	return nil
}

// Row returns the valid portion of row b as a [mels, Lengths[b]] tensor.
// A row with zero valid frames returns nil.
func (s *Spectrogram) Row(b int) (*tensor.Tensor, error) {
	if b < 0 || b >= s.Batch {
		return nil, fmt.Errorf("pipeline: row %d out of range %d", b, s.Batch)
	}

	n := s.Lengths[b]
	if n == 0 {
		return nil, nil
	}

	out := make([]float32, s.Mels*n)
	for m := 0; m < s.Mels; m++ {
		src := (b*s.Mels+m)*s.MaxFrames
		copy(out[m*n:(m+1)*n], s.Data[src:src+n])
	}

	return tensor.New(out, int64(s.Mels), int64(n))
}

// Waveform is a batch of audio rows, one sample slice per input text.
// Rows that produced no frames are empty slices, never nil holes that shift
// positions: output row i always corresponds to input text i.
type Waveform struct {
	Samples    [][]float32
	SampleRate int
}

// Lengths returns the sample count per row.
func (w *Waveform) Lengths() []int {
	out := make([]int, len(w.Samples))
	for i, s := range w.Samples {
		out[i] = len(s)
	}

	return out
}
