// Package ops provides the deterministic CPU kernels the native model graphs
// are assembled from. Every kernel validates its input shapes and returns a
// wrapped error; none of them keeps state.
package ops

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/example/go-taco-tts/internal/runtime/tensor"
)

// Embed gathers rows of table [vocab, dim] for each id, producing [len(ids), dim].
func Embed(table *tensor.Tensor, ids []int64) (*tensor.Tensor, error) {
	if table == nil || table.Rank() != 2 {
		return nil, errors.New("ops: embed requires a rank-2 table")
	}

	if len(ids) == 0 {
		return nil, errors.New("ops: embed requires at least one id")
	}

	vocab, dim := table.Dim(0), table.Dim(1)
	src := table.RawData()
	out := make([]float32, int64(len(ids))*dim)

	for i, id := range ids {
		if id < 0 || id >= vocab {
			return nil, fmt.Errorf("ops: embed id %d out of range [0, %d)", id, vocab)
		}

		copy(out[int64(i)*dim:(int64(i)+1)*dim], src[id*dim:(id+1)*dim])
	}

	return tensor.New(out, int64(len(ids)), dim)
}

// Conv1D convolves input [channels, length] with kernel
// [outChannels, channels, kernelSize]. Padding is zero padding on both ends.
func Conv1D(input, kernel, bias *tensor.Tensor, stride, padding, dilation int64) (*tensor.Tensor, error) {
	if input == nil || kernel == nil {
		return nil, errors.New("ops: conv1d requires non-nil input/kernel")
	}

	if stride <= 0 || dilation <= 0 {
		return nil, errors.New("ops: conv1d stride/dilation must be > 0")
	}

	if input.Rank() != 2 || kernel.Rank() != 3 {
		return nil, fmt.Errorf("ops: conv1d expects input rank 2 and kernel rank 3, got %d and %d", input.Rank(), kernel.Rank())
	}

	channels, length := input.Dim(0), input.Dim(1)
	outChannels, kChannels, kernelSize := kernel.Dim(0), kernel.Dim(1), kernel.Dim(2)

	if kChannels != channels {
		return nil, fmt.Errorf("ops: conv1d kernel expects %d input channels, input has %d", kChannels, channels)
	}

	if bias != nil {
		if bias.Rank() != 1 || bias.Dim(0) != outChannels {
			return nil, fmt.Errorf("ops: conv1d bias shape %v does not match out channels %d", bias.Shape(), outChannels)
		}
	}

	outLength := (length+2*padding-dilation*(kernelSize-1)-1)/stride + 1
	if outLength <= 0 {
		return nil, fmt.Errorf("ops: conv1d produced non-positive output length %d", outLength)
	}

	in := input.RawData()
	k := kernel.RawData()
	out := make([]float32, outChannels*outLength)

	var b []float32
	if bias != nil {
		b = bias.RawData()
	}

	for oc := int64(0); oc < outChannels; oc++ {
		for ox := int64(0); ox < outLength; ox++ {
			var sum float32
			if b != nil {
				sum = b[oc]
			}

			for ic := int64(0); ic < channels; ic++ {
				kBase := (oc*channels + ic) * kernelSize
				inBase := ic * length

				for kx := int64(0); kx < kernelSize; kx++ {
					pos := ox*stride - padding + kx*dilation
					if pos < 0 || pos >= length {
						continue
					}

					sum += in[inBase+pos] * k[kBase+kx]
				}
			}

			out[oc*outLength+ox] = sum
		}
	}

	return tensor.New(out, outChannels, outLength)
}

// GRUStep advances a GRU cell one step. Weights follow the usual stacked
// layout: wih [3h, in], whh [3h, h], biases [3h], gate order reset, update,
// candidate. x is [in], h is [hidden]; the new hidden state is returned.
func GRUStep(x, h, wih, whh, bih, bhh *tensor.Tensor) (*tensor.Tensor, error) {
	if x == nil || h == nil || wih == nil || whh == nil {
		return nil, errors.New("ops: gru step requires non-nil x/h/weights")
	}

	if x.Rank() != 1 || h.Rank() != 1 {
		return nil, fmt.Errorf("ops: gru step expects rank-1 x and h, got %d and %d", x.Rank(), h.Rank())
	}

	hidden := h.Dim(0)
	if wih.Rank() != 2 || wih.Dim(0) != 3*hidden || wih.Dim(1) != x.Dim(0) {
		return nil, fmt.Errorf("ops: gru wih shape %v does not match in=%d hidden=%d", wih.Shape(), x.Dim(0), hidden)
	}

	if whh.Rank() != 2 || whh.Dim(0) != 3*hidden || whh.Dim(1) != hidden {
		return nil, fmt.Errorf("ops: gru whh shape %v does not match hidden=%d", whh.Shape(), hidden)
	}

	gi, err := tensor.Linear(x, wih, bih)
	if err != nil {
		return nil, fmt.Errorf("ops: gru input projection: %w", err)
	}

	gh, err := tensor.Linear(h, whh, bhh)
	if err != nil {
		return nil, fmt.Errorf("ops: gru hidden projection: %w", err)
	}

	giData := gi.RawData()
	ghData := gh.RawData()
	hData := h.RawData()
	out := make([]float32, hidden)

	for i := int64(0); i < hidden; i++ {
		r := tensor.SigmoidScalar(giData[i] + ghData[i])
		z := tensor.SigmoidScalar(giData[hidden+i] + ghData[hidden+i])
		n := float32(math.Tanh(float64(giData[2*hidden+i] + r*ghData[2*hidden+i])))

		out[i] = (1-z)*n + z*hData[i]
	}

	return tensor.New(out, hidden)
}

// Dropout zeroes each element with probability p and scales survivors by
// 1/(1-p), drawing from rng. This is the inference-time sampling used by the
// spectrogram decoder prenet: it stays active at synthesis time and is the
// stochastic choice point that makes generation non-deterministic unless the
// caller fixes rng.
func Dropout(x *tensor.Tensor, p float64, rng *rand.Rand) (*tensor.Tensor, error) {
	if x == nil {
		return nil, errors.New("ops: dropout input is nil")
	}

	if p < 0 || p >= 1 {
		return nil, fmt.Errorf("ops: dropout probability %v out of range [0, 1)", p)
	}

	if p == 0 {
		return x.Clone(), nil
	}

	if rng == nil {
		return nil, errors.New("ops: dropout requires an explicit rng")
	}

	scale := float32(1.0 / (1.0 - p))
	out := x.Clone()
	data := out.RawData()

	for i := range data {
		if rng.Float64() < p {
			data[i] = 0
		} else {
			data[i] *= scale
		}
	}

	return out, nil
}

// SampleCategorical draws an index from an unnormalized probability row.
// probs must already be non-negative (typically a softmax output).
func SampleCategorical(probs []float32, rng *rand.Rand) (int, error) {
	if len(probs) == 0 {
		return 0, errors.New("ops: sample from empty distribution")
	}

	if rng == nil {
		return 0, errors.New("ops: sample requires an explicit rng")
	}

	var total float64
	for _, p := range probs {
		if p < 0 {
			return 0, fmt.Errorf("ops: negative probability %v", p)
		}
		total += float64(p)
	}

	if total == 0 {
		return 0, errors.New("ops: sample distribution sums to zero")
	}

	u := rng.Float64() * total

	var acc float64
	for i, p := range probs {
		acc += float64(p)
		if u < acc {
			return i, nil
		}
	}

	return len(probs) - 1, nil
}
