// Package invoice builds domain records from raw workbook rows and applies
// the business eligibility gate that runs before any remote check.
package invoice

import (
	"strconv"
	"strings"

	"dmscheck/internal"
	"dmscheck/internal/directory"
)

// FromRow derives a full Invoice from a raw workbook row. Rows with an
// unrecognized prefix are kept, with RegionUnknown and an empty delivery
// city, so they still reach the report as unknown_prefix.
func FromRow(row internal.RawRow) internal.Invoice {
	number := strings.TrimSpace(row.Number)

	inv := internal.Invoice{
		Number:    number,
		CRMID:     strings.TrimSpace(row.CRMID),
		Address:   strings.TrimSpace(row.Address),
		ISAAmount: parseAmount(row.ISAAmount),
		SFAAmount: parseOptionalAmount(row.SFAAmount),
		Region:    internal.RegionUnknown,
	}

	entry, ok := directory.Resolve(number)
	if !ok {
		return inv
	}

	inv.Prefix = entry.Prefix
	inv.Region = entry.Region
	inv.DeliveryCity = deliveryCity(entry, inv.Address)
	return inv
}

// FromRows converts a batch, dropping rows without an invoice number.
func FromRows(rows []internal.RawRow) []internal.Invoice {
	out := make([]internal.Invoice, 0, len(rows))
	for _, row := range rows {
		if strings.TrimSpace(row.Number) == "" {
			continue
		}
		out = append(out, FromRow(row))
	}
	return out
}

// deliveryCity picks between the primary and alternate city for prefixes
// that span two locations: the alternate wins when the delivery address
// mentions it. Addresses in the Томск area are served from the alternate
// warehouse as well.
func deliveryCity(entry directory.Entry, address string) string {
	if entry.AlternateCity == "" {
		return entry.City
	}
	if strings.Contains(address, entry.AlternateCity) || strings.Contains(address, "Томск") {
		return entry.AlternateCity
	}
	return entry.City
}

func parseAmount(cell *string) float64 {
	if cell == nil {
		return 0
	}
	v, err := strconv.ParseFloat(normalizeNumber(*cell), 64)
	if err != nil {
		return 0
	}
	return v
}

func parseOptionalAmount(cell *string) *float64 {
	if cell == nil || strings.TrimSpace(*cell) == "" {
		return nil
	}
	v, err := strconv.ParseFloat(normalizeNumber(*cell), 64)
	if err != nil {
		return nil
	}
	return &v
}

func normalizeNumber(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, ",", ".")
	return s
}
