// Package symbols defines the frozen symbol tables shared by the text
// encoder and the spectrogram-generation models.
//
// A table is an ordered set of indivisible output units (characters or
// phonemes), each assigned a unique integer index. The table is frozen per
// encoding strategy: it must exactly match the table the downstream
// spectrogram model was trained with, or synthesis silently degrades. The
// Fingerprint method exists so the pipeline can assert that match at
// construction time instead of discovering it as garbage audio.
package symbols

import (
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
)

// PadIndex is the reserved index used to right-pad batched sequences.
// By convention it is always index 0 of every table.
const PadIndex = 0

// Characters is the frozen character-strategy unit list. Index 0 is the
// underscore pad unit. The order is load-bearing: changing it invalidates
// every character-trained spectrogram model.
const Characters = "_-!'(),.:;? abcdefghijklmnopqrstuvwxyz"

// arpabet lists the phoneme-strategy units: the pad unit, word boundary,
// and the ARPAbet phone set without stress markers.
var arpabet = []string{
	"_", " ",
	"AA", "AE", "AH", "AO", "AW", "AY",
	"B", "CH", "D", "DH",
	"EH", "ER", "EY",
	"F", "G", "HH",
	"IH", "IY", "JH", "K", "L", "M", "N", "NG",
	"OW", "OY", "P", "R", "S", "SH", "T", "TH",
	"UH", "UW", "V", "W", "Y", "Z", "ZH",
}

// ErrEmptyTable is returned when a table is built from no units.
var ErrEmptyTable = errors.New("symbols: table must contain at least one unit")

// Table is a frozen, ordered unit-to-index mapping.
type Table struct {
	units   []string
	indices map[string]int64
}

// NewTable builds a table from an ordered unit list. Unit 0 becomes the pad
// unit. Duplicate units are rejected because a double assignment would make
// the index mapping ambiguous.
func NewTable(units []string) (*Table, error) {
	if len(units) == 0 {
		return nil, ErrEmptyTable
	}

	indices := make(map[string]int64, len(units))
	for i, u := range units {
		if u == "" {
			return nil, fmt.Errorf("symbols: unit %d is empty", i)
		}

		if _, dup := indices[u]; dup {
			return nil, fmt.Errorf("symbols: duplicate unit %q at index %d", u, i)
		}

		indices[u] = int64(i)
	}

	return &Table{
		units:   append([]string(nil), units...),
		indices: indices,
	}, nil
}

// CharacterTable returns the frozen character-strategy table.
func CharacterTable() *Table {
	units := make([]string, 0, len(Characters))
	for _, r := range Characters {
		units = append(units, string(r))
	}

	t, err := NewTable(units)
	if err != nil {
		// The builtin unit list is a compile-time constant; failure here is a
		// programming error, not a runtime condition.
		panic(err)
	}

	return t
}

// PhonemeTable returns the frozen ARPAbet phoneme-strategy table.
func PhonemeTable() *Table {
	t, err := NewTable(arpabet)
	if err != nil {
		panic(err)
	}

	return t
}

// Size returns the number of units in the table.
func (t *Table) Size() int {
	if t == nil {
		return 0
	}

	return len(t.units)
}

// Units returns a copy of the ordered unit list.
func (t *Table) Units() []string {
	if t == nil {
		return nil
	}

	return append([]string(nil), t.units...)
}

// Index returns the index assigned to unit and whether the unit is present.
func (t *Table) Index(unit string) (int64, bool) {
	if t == nil {
		return 0, false
	}

	idx, ok := t.indices[unit]

	return idx, ok
}

// Unit returns the unit at idx.
func (t *Table) Unit(idx int64) (string, error) {
	if t == nil || idx < 0 || idx >= int64(len(t.units)) {
		return "", fmt.Errorf("symbols: index %d out of range [0, %d)", idx, t.Size())
	}

	return t.units[idx], nil
}

// Fingerprint returns a hex-encoded FNV-1a hash over the ordered unit list.
// Two tables with the same fingerprint encode identically; the pipeline
// compares this value against the fingerprint stored in checkpoint metadata.
func (t *Table) Fingerprint() string {
	if t == nil {
		return ""
	}

	h := fnv.New64a()
	_, _ = h.Write([]byte(strings.Join(t.units, "\x1f")))

	return fmt.Sprintf("%016x", h.Sum64())
}
