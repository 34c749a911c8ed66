// Package textenc turns raw UTF-8 text into padded integer symbol batches
// for the spectrogram-generation stage.
//
// Two interchangeable strategies exist: character lookup and dictionary
// grapheme-to-phoneme conversion. Both share the same contract: every input
// unit found in the frozen symbol table contributes exactly one index, units
// absent from the table are dropped (never substituted), and dropped units
// are counted so callers can surface the loss instead of shipping silently
// truncated speech.
package textenc

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/example/go-taco-tts/internal/symbols"
)

// Strategy names accepted by New.
const (
	StrategyCharacter = "char"
	StrategyPhoneme   = "phoneme"
)

// ErrNoTexts is returned when EncodeBatch is called with no input strings.
var ErrNoTexts = errors.New("textenc: no input texts")

// Batch is one encoded request: padded index rows plus per-row bookkeeping.
type Batch struct {
	// IDs holds one row per input text, right-padded with symbols.PadIndex
	// to the maximum encoded length in the batch.
	IDs [][]int64

	// Lengths records the true (pre-padding) content length of each row.
	Lengths []int64

	// Dropped counts the input units of each row that were absent from the
	// symbol table and therefore vanished from the encoding.
	Dropped []int
}

// MaxLength returns the padded row width of the batch.
func (b *Batch) MaxLength() int {
	if b == nil || len(b.IDs) == 0 {
		return 0
	}

	return len(b.IDs[0])
}

// Empty reports whether every row of the batch encoded to zero length.
func (b *Batch) Empty() bool {
	if b == nil {
		return true
	}

	for _, n := range b.Lengths {
		if n > 0 {
			return false
		}
	}

	return true
}

// Encoder maps text to symbol index batches. The strategy and its table are
// bound at construction, never per call.
type Encoder interface {
	// Encode encodes a single text and returns its index sequence plus the
	// number of dropped input units. A zero-length result is not an error.
	Encode(text string) ([]int64, int)

	// Table returns the frozen symbol table backing this encoder.
	Table() *symbols.Table
}

// New constructs the encoder for the named strategy. The phoneme strategy
// requires a lexicon path; the character strategy ignores it.
func New(strategy, lexiconPath string, log *slog.Logger) (Encoder, error) {
	switch strings.ToLower(strings.TrimSpace(strategy)) {
	case "", StrategyCharacter:
		return NewCharacterEncoder(log), nil
	case StrategyPhoneme:
		return NewPhonemeEncoder(lexiconPath, log)
	default:
		return nil, fmt.Errorf("textenc: unknown strategy %q (want %s|%s)", strategy, StrategyCharacter, StrategyPhoneme)
	}
}

// CharacterEncoder encodes lower-cased characters against the frozen
// character table.
type CharacterEncoder struct {
	table *symbols.Table
	log   *slog.Logger
}

// NewCharacterEncoder returns a character-strategy encoder. A nil logger
// falls back to slog.Default.
func NewCharacterEncoder(log *slog.Logger) *CharacterEncoder {
	if log == nil {
		log = slog.Default()
	}

	return &CharacterEncoder{table: symbols.CharacterTable(), log: log}
}

// Encode lower-cases text and looks each character up in the table.
// Characters absent from the table are dropped and counted.
func (e *CharacterEncoder) Encode(text string) ([]int64, int) {
	lowered := strings.ToLower(text)

	ids := make([]int64, 0, len(lowered))
	dropped := 0

	for _, r := range lowered {
		idx, ok := e.table.Index(string(r))
		if !ok {
			dropped++
			continue
		}

		ids = append(ids, idx)
	}

	if dropped > 0 {
		e.log.Warn("encoder dropped unknown characters", "dropped", dropped, "kept", len(ids))
	}

	return ids, dropped
}

// Table returns the character table.
func (e *CharacterEncoder) Table() *symbols.Table { return e.table }

// EncodeBatch encodes texts with enc and right-pads every row to the batch
// maximum with the reserved pad index. Lengths carries the true per-row
// content length; positions at or past Lengths[i] hold symbols.PadIndex.
func EncodeBatch(enc Encoder, texts []string) (*Batch, error) {
	if enc == nil {
		return nil, errors.New("textenc: encoder is nil")
	}

	if len(texts) == 0 {
		return nil, ErrNoTexts
	}

	rows := make([][]int64, len(texts))
	lengths := make([]int64, len(texts))
	droppedCounts := make([]int, len(texts))

	maxLen := 0
	for i, text := range texts {
		ids, dropped := enc.Encode(text)
		rows[i] = ids
		lengths[i] = int64(len(ids))
		droppedCounts[i] = dropped

		if len(ids) > maxLen {
			maxLen = len(ids)
		}
	}

	padded := make([][]int64, len(rows))
	for i, ids := range rows {
		row := make([]int64, maxLen)
		copy(row, ids)

		for j := len(ids); j < maxLen; j++ {
			row[j] = symbols.PadIndex
		}

		padded[i] = row
	}

	return &Batch{IDs: padded, Lengths: lengths, Dropped: droppedCounts}, nil
}
