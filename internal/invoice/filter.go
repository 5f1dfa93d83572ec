package invoice

import (
	"strconv"
	"strings"

	"dmscheck/internal"
)

// FilterRule is the configuration-defined eligibility gate applied to raw
// rows before any remote checking. Both conditions default to on; either can
// be disabled independently because the business rule has shifted between
// report versions.
type FilterRule struct {
	RequireISANonZero bool
	RequireSFAEmpty   bool
}

// Eligible reports whether a raw row passes the gate. A non-numeric ISA cell
// is treated as non-zero: only an explicit zero (or a blank cell) excludes
// the row.
func (r FilterRule) Eligible(row internal.RawRow) bool {
	if r.RequireSFAEmpty && !isBlank(row.SFAAmount) {
		return false
	}
	if r.RequireISANonZero {
		if isBlank(row.ISAAmount) {
			return false
		}
		if v, err := strconv.ParseFloat(normalizeNumber(*row.ISAAmount), 64); err == nil && v == 0 {
			return false
		}
	}
	return true
}

// Filter keeps the rows that pass the gate.
func (r FilterRule) Filter(rows []internal.RawRow) []internal.RawRow {
	out := make([]internal.RawRow, 0, len(rows))
	for _, row := range rows {
		if r.Eligible(row) {
			out = append(out, row)
		}
	}
	return out
}

func isBlank(cell *string) bool {
	return cell == nil || strings.TrimSpace(*cell) == ""
}
