// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package owned

import (
	"github.com/ManuGH/pex/internal/manifest"
	"github.com/ManuGH/pex/internal/normalize"
)

// Match is an ownership hit for a guide title.
type Match struct {
	Record     manifest.OwnershipRecord
	Confidence normalize.Confidence
}

// Matcher answers ownership lookups for guide rows.
type Matcher struct {
	byTitle *normalize.Index[manifest.OwnershipRecord]
}

// NewMatcher indexes the owned records.
func NewMatcher(records map[string]manifest.OwnershipRecord) *Matcher {
	m := &Matcher{byTitle: normalize.NewIndex[manifest.OwnershipRecord]()}
	for _, k := range sortedKeys(records) {
		rec := records[k]
		if !rec.Owned {
			continue
		}
		if key, ok := normalize.ParseKey(k); ok {
			m.byTitle.Add(key, rec)
		}
	}
	return m
}

// Lookup tries each title variant in order under the index year policy:
// exact year, then the single nearest year within normalize.NearYears
// (equidistant years match nothing), then a yearless record. A guide row
// without a year only matches a yearless record or a single candidate year.
func (m *Matcher) Lookup(title string, year int) (Match, bool) {
	base := normalize.Title(title, year)
	if base.IsZero() {
		return Match{}, false
	}
	for _, k := range normalize.Variants(base.Display, 0) {
		hit, ok := m.byTitle.Lookup(k.WithYear(base.Year))
		if !ok || len(hit.Values) != 1 {
			continue
		}
		return Match{Record: hit.Values[0], Confidence: hit.Confidence}, true
	}
	return Match{}, false
}
