// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package normalize

import "sort"

// Confidence grades how a lookup matched.
type Confidence int

const (
	ConfidenceNone Confidence = iota
	// ConfidenceTitleOnly: one side has no year, titles agree.
	ConfidenceTitleOnly
	// ConfidenceNear: years differ by at most NearYears.
	ConfidenceNear
	// ConfidenceExact: title and year agree.
	ConfidenceExact
)

func (c Confidence) String() string {
	switch c {
	case ConfidenceExact:
		return "exact"
	case ConfidenceNear:
		return "near"
	case ConfidenceTitleOnly:
		return "title_only"
	default:
		return "none"
	}
}

// NearYears bounds the year distance accepted as a near match. Release
// years differ between sources by one year around New Year and between
// festival and theatrical dates.
const NearYears = 1

// Match is the result of an Index lookup.
type Match[T any] struct {
	Key        Key
	Values     []T
	Confidence Confidence
}

// Index groups values by normalized title and resolves year ambiguity:
// exact year first, then the closest year within NearYears, then a yearless
// entry. Anything else is treated as a distinct title.
type Index[T any] struct {
	byTitle map[string]map[int][]T
	size    int
}

// NewIndex returns an empty index.
func NewIndex[T any]() *Index[T] {
	return &Index[T]{byTitle: make(map[string]map[int][]T)}
}

// Add files v under k.
func (ix *Index[T]) Add(k Key, v T) {
	if k.IsZero() {
		return
	}
	years, ok := ix.byTitle[k.Compare]
	if !ok {
		years = make(map[int][]T)
		ix.byTitle[k.Compare] = years
	}
	years[k.Year] = append(years[k.Year], v)
	ix.size++
}

// Len returns the number of values added.
func (ix *Index[T]) Len() int { return ix.size }

// Lookup resolves k against the index.
func (ix *Index[T]) Lookup(k Key) (Match[T], bool) {
	years, ok := ix.byTitle[k.Compare]
	if !ok || k.IsZero() {
		return Match[T]{}, false
	}

	if k.Year > 0 {
		if vs, ok := years[k.Year]; ok {
			return Match[T]{Key: k, Values: vs, Confidence: ConfidenceExact}, true
		}
		if y, ok := closestYear(years, k.Year); ok {
			return Match[T]{Key: k.WithYear(y), Values: years[y], Confidence: ConfidenceNear}, true
		}
		if vs, ok := years[0]; ok {
			return Match[T]{Key: k.WithYear(0), Values: vs, Confidence: ConfidenceTitleOnly}, true
		}
		return Match[T]{}, false
	}

	if vs, ok := years[0]; ok {
		return Match[T]{Key: k, Values: vs, Confidence: ConfidenceTitleOnly}, true
	}
	if len(years) == 1 {
		for y, vs := range years {
			return Match[T]{Key: k.WithYear(y), Values: vs, Confidence: ConfidenceTitleOnly}, true
		}
	}
	// Several different years and no year to choose with: distinct titles.
	return Match[T]{}, false
}

// closestYear picks the unique closest known year within NearYears.
// Equidistant candidates on both sides are ambiguous.
func closestYear[T any](years map[int][]T, want int) (int, bool) {
	known := make([]int, 0, len(years))
	for y := range years {
		if y > 0 {
			known = append(known, y)
		}
	}
	sort.Ints(known)

	best, bestDist, tie := 0, NearYears+1, false
	for _, y := range known {
		d := y - want
		if d < 0 {
			d = -d
		}
		switch {
		case d < bestDist:
			best, bestDist, tie = y, d, false
		case d == bestDist:
			tie = true
		}
	}
	if bestDist > NearYears || tie {
		return 0, false
	}
	return best, true
}
