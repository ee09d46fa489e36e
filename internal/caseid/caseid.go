// Package caseid formats and allocates year-scoped verification case numbers
// of the form VR-2025-001.
package caseid

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/stwalsh4118/verrify/internal/apperr"
)

const prefix = "VR"

var ErrMalformed = apperr.Validation("MALFORMED_CASE_ID", "case id is not of the form VR-YYYY-NNN")

// Format renders a case id. Sequences below 1000 are zero padded to three
// digits; larger ones keep all their digits.
func Format(year, seq int) string {
	return fmt.Sprintf("%s-%04d-%03d", prefix, year, seq)
}

// YearPattern returns the SQL LIKE pattern matching every case id of year.
func YearPattern(year int) string {
	return fmt.Sprintf("%s-%04d-%%", prefix, year)
}

// Parse splits a case id into its year and sequence.
func Parse(id string) (year, seq int, err error) {
	parts := strings.Split(id, "-")
	if len(parts) != 3 || parts[0] != prefix || len(parts[1]) != 4 || len(parts[2]) < 3 {
		return 0, 0, ErrMalformed.WithDetail("caseId", id)
	}
	year, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, ErrMalformed.WithDetail("caseId", id)
	}
	seq, err = strconv.Atoi(parts[2])
	if err != nil || seq < 1 {
		return 0, 0, ErrMalformed.WithDetail("caseId", id)
	}
	return year, seq, nil
}

// Next returns the case id following maxExisting in year. maxExisting is the
// highest id already issued for that year, or empty when none exists. An id
// from another year is ignored.
func Next(maxExisting string, year int) (string, error) {
	if maxExisting == "" {
		return Format(year, 1), nil
	}
	y, seq, err := Parse(maxExisting)
	if err != nil {
		return "", err
	}
	if y != year {
		return Format(year, 1), nil
	}
	return Format(year, seq+1), nil
}

// Max returns the highest-sequence id of year among ids. It compares
// numerically so that VR-2025-1000 ranks above VR-2025-999.
func Max(ids []string, year int) string {
	best, bestSeq := "", 0
	for _, id := range ids {
		y, seq, err := Parse(id)
		if err != nil || y != year {
			continue
		}
		if seq > bestSeq {
			best, bestSeq = id, seq
		}
	}
	return best
}
