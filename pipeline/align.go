package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aluiziolira/go-scrape-mobiles/models"
)

// ErrLengthMismatch is returned by the strict policy when sequences differ in length.
var ErrLengthMismatch = errors.New("pipeline: sequence length mismatch")

// AlignPolicy decides how sequences of unequal length become rows.
type AlignPolicy string

const (
	// AlignTruncate keeps min(len) rows.
	AlignTruncate AlignPolicy = "truncate"
	// AlignPad keeps max(len) rows; missing cells are empty.
	AlignPad AlignPolicy = "pad"
	// AlignStrict fails unless all sequences have the same length.
	AlignStrict AlignPolicy = "strict"
)

// ParseAlignPolicy maps a config string to a policy.
func ParseAlignPolicy(s string) (AlignPolicy, error) {
	switch AlignPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case AlignTruncate, "":
		return AlignTruncate, nil
	case AlignPad:
		return AlignPad, nil
	case AlignStrict:
		return AlignStrict, nil
	default:
		return "", fmt.Errorf("unknown align policy %q", s)
	}
}

// Assemble zips sequences by position into a table. Row i holds the i-th
// value of each sequence; no key ties values of one row together.
func Assemble(seqs []models.Sequence, policy AlignPolicy) (*models.Table, error) {
	table := &models.Table{Columns: make([]string, len(seqs))}
	if len(seqs) == 0 {
		return table, nil
	}

	minLen, maxLen := seqs[0].Len(), seqs[0].Len()
	for i, seq := range seqs {
		table.Columns[i] = seq.Name
		if seq.Len() < minLen {
			minLen = seq.Len()
		}
		if seq.Len() > maxLen {
			maxLen = seq.Len()
		}
	}

	rows := minLen
	switch policy {
	case AlignTruncate, "":
	case AlignPad:
		rows = maxLen
	case AlignStrict:
		if minLen != maxLen {
			return nil, fmt.Errorf("%w: %s", ErrLengthMismatch, describeLengths(seqs))
		}
	default:
		return nil, fmt.Errorf("unknown align policy %q", policy)
	}

	table.Rows = make([][]models.Value, rows)
	for r := 0; r < rows; r++ {
		row := make([]models.Value, len(seqs))
		for c, seq := range seqs {
			if r < seq.Len() {
				row[c] = seq.Values[r]
			}
		}
		table.Rows[r] = row
	}
	return table, nil
}

func describeLengths(seqs []models.Sequence) string {
	parts := make([]string, len(seqs))
	for i, seq := range seqs {
		parts[i] = fmt.Sprintf("%s=%d", seq.Name, seq.Len())
	}
	return strings.Join(parts, " ")
}
