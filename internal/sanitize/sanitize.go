// Package sanitize turns raw cell text into typed row values.
package sanitize

import (
	"math"
	"strconv"
	"strings"

	"taxrollsync/pkg/domain"
)

// Row cleans raw cells for a schema of expectedLen columns. Blank cells become
// nil, numeric columns keep only digits, '.' and '-' and parse to float64 (nil
// when nothing parseable remains), and text columns are trimmed. The result is
// padded with nil up to expectedLen and is never truncated.
func Row(raw []string, expectedLen int, numeric map[int]bool) domain.Row {
	n := len(raw)
	if expectedLen > n {
		n = expectedLen
	}
	out := make(domain.Row, n)
	for i := 0; i < len(raw); i++ {
		out[i] = Cell(raw[i], numeric[i])
	}
	return out
}

// ForSchema sanitizes raw against the schema's length and numeric columns.
func ForSchema(schema domain.Schema, raw []string) domain.Row {
	return Row(raw, schema.Len(), schema.NumericColumns())
}

// Cell cleans a single value.
func Cell(raw string, numeric bool) any {
	v := strings.TrimSpace(raw)
	if v == "" {
		return nil
	}
	if !numeric {
		return v
	}
	return Number(v)
}

// Number strips every character except digits, '.', and '-' and parses the
// remainder. It returns nil for empty, unparsable, or non-finite input.
func Number(raw string) any {
	digits := strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '.' || r == '-' {
			return r
		}
		return -1
	}, raw)
	if digits == "" {
		return nil
	}
	f, err := strconv.ParseFloat(digits, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return nil
	}
	return f
}

// IsEmpty reports whether every value in the row is nil.
func IsEmpty(row domain.Row) bool {
	for _, v := range row {
		if v != nil {
			return false
		}
	}
	return true
}

// IsBlank reports whether every raw cell is empty or whitespace.
func IsBlank(raw []string) bool {
	for _, v := range raw {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
