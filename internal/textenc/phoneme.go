package textenc

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"unicode"

	"github.com/example/go-taco-tts/internal/symbols"
)

// PhonemeEncoder converts words to ARPAbet phones through a pronunciation
// lexicon bound at construction, then looks the phones up in the frozen
// phoneme table. Words missing from the lexicon are dropped, matching the
// table-miss behavior of the character strategy.
type PhonemeEncoder struct {
	table   *symbols.Table
	lexicon map[string][]string
	log     *slog.Logger
}

// NewPhonemeEncoder loads a CMUdict-format lexicon from path. Each line is
// "WORD PH1 PH2 ..."; lines starting with ";;;" are comments. Stress digits
// on vowel phones (AH0, EY1) are stripped because the phoneme table is
// stress-free.
func NewPhonemeEncoder(path string, log *slog.Logger) (*PhonemeEncoder, error) {
	if path == "" {
		return nil, fmt.Errorf("textenc: phoneme strategy requires a lexicon path")
	}

	if log == nil {
		log = slog.Default()
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("textenc: open lexicon: %w", err)
	}
	defer func() { _ = f.Close() }()

	lexicon := make(map[string][]string)

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ";;;") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}

		word := strings.ToLower(fields[0])
		// CMUdict marks alternate pronunciations as WORD(2); keep the first.
		if i := strings.IndexByte(word, '('); i >= 0 {
			continue
		}

		phones := make([]string, 0, len(fields)-1)
		for _, p := range fields[1:] {
			phones = append(phones, strings.TrimRightFunc(p, unicode.IsDigit))
		}

		if _, exists := lexicon[word]; !exists {
			lexicon[word] = phones
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("textenc: read lexicon: %w", err)
	}

	if len(lexicon) == 0 {
		return nil, fmt.Errorf("textenc: lexicon %q contains no entries", path)
	}

	return &PhonemeEncoder{
		table:   symbols.PhonemeTable(),
		lexicon: lexicon,
		log:     log,
	}, nil
}

// newPhonemeEncoderFromLexicon builds an encoder from an in-memory lexicon.
// Test seam; production construction goes through NewPhonemeEncoder.
func newPhonemeEncoderFromLexicon(lexicon map[string][]string, log *slog.Logger) *PhonemeEncoder {
	if log == nil {
		log = slog.Default()
	}

	return &PhonemeEncoder{table: symbols.PhonemeTable(), lexicon: lexicon, log: log}
}

// Encode splits text into words, converts each through the lexicon, and
// joins word pronunciations with the word-boundary unit. A word missing from
// the lexicon, or a phone missing from the table, is dropped and counted.
func (e *PhonemeEncoder) Encode(text string) ([]int64, int) {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	})

	space, _ := e.table.Index(" ")

	var ids []int64
	dropped := 0
	emitted := false

	for _, word := range words {
		phones, ok := e.lexicon[word]
		if !ok {
			dropped++
			continue
		}

		if emitted {
			ids = append(ids, space)
		}

		for _, p := range phones {
			idx, ok := e.table.Index(p)
			if !ok {
				dropped++
				continue
			}

			ids = append(ids, idx)
		}

		emitted = true
	}

	if dropped > 0 {
		e.log.Warn("encoder dropped out-of-lexicon units", "dropped", dropped, "kept", len(ids))
	}

	return ids, dropped
}

// Table returns the phoneme table.
func (e *PhonemeEncoder) Table() *symbols.Table { return e.table }
