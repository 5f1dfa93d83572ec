// Package directory holds the static mapping from invoice-number prefix to
// region and delivery city. Pure data, loaded once, never mutated.
package directory

import (
	"sort"
	"strings"
	"unicode/utf8"

	"dmscheck/internal"
)

// Entry describes one known invoice prefix.
type Entry struct {
	Prefix        string
	City          string
	Region        internal.Region
	AlternateCity string
}

var entries = []Entry{
	{Prefix: "01/", City: "Красноярск", Region: internal.RegionSiberia},
	{Prefix: "02/", City: "Абакан", Region: internal.RegionSiberia},
	{Prefix: "04/", City: "Новокузнецк", Region: internal.RegionSiberia, AlternateCity: "Новосибирск"},
	{Prefix: "05/", City: "Новосибирск", Region: internal.RegionSiberia},
	{Prefix: "06/", City: "Омск", Region: internal.RegionSiberia},
	{Prefix: "Е-", City: "Омск", Region: internal.RegionSiberia},
	{Prefix: "Б-", City: "Абакан", Region: internal.RegionSiberia},
	{Prefix: "К-", City: "Новосибирск", Region: internal.RegionSiberia},
	{Prefix: "И-", City: "Новокузнецк", Region: internal.RegionSiberia},
	{Prefix: "У-", City: "Красноярск", Region: internal.RegionSiberia},
	{Prefix: "07/", City: "Челябинск", Region: internal.RegionUral, AlternateCity: "Курган"},
	{Prefix: "Ч-", City: "Челябинск", Region: internal.RegionUral},
}

// byLength is entries sorted longest prefix first, so resolution is
// deterministic even if a number could match both a 3-rune "NN/" form and a
// 2-rune "X-" form.
var byLength = func() []Entry {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return utf8.RuneCountInString(sorted[i].Prefix) > utf8.RuneCountInString(sorted[j].Prefix)
	})
	return sorted
}()

// Resolve finds the directory entry for an invoice number, preferring the
// longest matching prefix. The second return is false when no prefix
// matches; callers classify that as unknown_prefix without touching the
// remote system.
func Resolve(number string) (Entry, bool) {
	number = strings.TrimSpace(number)
	for _, e := range byLength {
		if strings.HasPrefix(number, e.Prefix) {
			return e, true
		}
	}
	return Entry{}, false
}

// Entries returns a copy of the full directory.
func Entries() []Entry {
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out
}
