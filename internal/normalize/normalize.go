// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package normalize turns raw titles from file names, guide rows and library
// rows into one canonical matching key.
//
// Two entry points share the same compare form:
//   - Filename applies the full noise rule list (scene separators, release
//     tags, bare years) to a file name stem.
//   - Title applies only the rules that are safe for curated metadata.
//
// Both are pure: the same input always yields the same Key, and feeding a
// Key's Display and Year back in yields the same Key again.
package normalize

import (
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Key is the canonical form of a title.
type Key struct {
	// Display keeps the original casing and punctuation, noise removed.
	Display string
	// Compare is lowercased, accent-folded, punctuation-free.
	Compare string
	// Year is 0 when unknown.
	Year int
}

// String renders the persisted key form "<compare>:<year>"; unknown years render as 0.
func (k Key) String() string {
	return k.Compare + ":" + strconv.Itoa(k.Year)
}

// IsZero reports whether the key has no comparable text.
func (k Key) IsZero() bool { return k.Compare == "" }

// WithYear returns a copy of k with a different year.
func (k Key) WithYear(year int) Key {
	k.Year = year
	return k
}

// ParseKey parses the String form back into a Key. Display is set to Compare.
func ParseKey(s string) (Key, bool) {
	i := strings.LastIndexByte(s, ':')
	if i <= 0 {
		return Key{}, false
	}
	year, err := strconv.Atoi(s[i+1:])
	if err != nil || year < 0 {
		return Key{}, false
	}
	return Key{Display: s[:i], Compare: s[:i], Year: year}, true
}

type mode int

const (
	modeTitle mode = iota
	modeFilename
)

// Filename normalizes a media file name stem (extension already removed).
// yearHint, when non-zero, wins over any year found in the name.
func Filename(stem string, yearHint int) Key {
	return normalize(stem, yearHint, modeFilename)
}

// Title normalizes a metadata title. Bracketed "(YYYY)" tokens are split
// off; bare numbers and dash tails stay part of the title ("Blade Runner
// 2049", "Rocky - IV").
func Title(title string, year int) Key {
	return normalize(title, year, modeTitle)
}

func normalize(raw string, yearHint int, m mode) Key {
	s := trimInvisible(raw)
	s = providerTagRx.ReplaceAllString(s, " ")
	if m == modeFilename {
		s = sceneSeparators(s)
	}

	s, year := extractBracketYear(s)
	if year == 0 && yearHint == 0 && m == modeFilename {
		s, year = extractBareYear(s)
	}
	if yearHint > 0 {
		year = yearHint
	}

	if m == modeFilename {
		s = cutAtNoise(s)
		s = squareGroupRx.ReplaceAllString(s, " ")
	}
	s = parenNoiseRx.ReplaceAllString(s, " ")
	display := trimTails(s, m)

	if display == "" {
		// "(2009)" or a name made only of noise: fall back to the raw text.
		display = collapseSpaces(trimInvisible(raw))
	}
	return Key{Display: display, Compare: Compare(display), Year: year}
}

// Compare produces the comparison form: accents folded, apostrophes dropped,
// "&" spelled "and", every other non-alphanumeric rune a separator,
// lowercased and whitespace-collapsed.
func Compare(s string) string {
	folded, _, err := transform.String(transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), s)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		switch {
		case r == '\'' || r == '’' || r == '‘' || r == '`':
		case r == '&':
			b.WriteString(" and ")
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(unicode.ToLower(r))
		default:
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
