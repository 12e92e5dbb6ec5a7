// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package normalize

import "strings"

var leadingArticles = []string{"the ", "a ", "an "}

// TitleVariants returns the alternative spellings a library may use for a
// guide title, most specific first:
//   - the full title
//   - the head before a colon ("Alien: Covenant" -> "Alien")
//   - the remainder after a possessive whose prefix has several words
//     ("Lemony Snicket's A Series of ..." -> "A Series of ...")
//   - the title without a leading English article
func TitleVariants(title string) []string {
	trimmed := strings.TrimSpace(title)
	if trimmed == "" {
		return nil
	}
	out := []string{trimmed}
	add := func(v string) {
		v = strings.TrimSpace(v)
		if v == "" || v == trimmed {
			return
		}
		for _, have := range out {
			if have == v {
				return
			}
		}
		out = append(out, v)
	}

	if idx := strings.IndexByte(trimmed, ':'); idx >= 0 {
		add(trimmed[:idx])
	}
	for _, needle := range []string{"'s ", "’s "} {
		if pos := strings.Index(trimmed, needle); pos >= 0 {
			if strings.ContainsRune(trimmed[:pos], ' ') {
				add(trimmed[pos+len(needle):])
			}
		}
	}
	lower := strings.ToLower(trimmed)
	for _, article := range leadingArticles {
		if strings.HasPrefix(lower, article) && len(trimmed) > len(article) {
			add(trimmed[len(article):])
		}
	}
	return out
}

// Variants returns candidate Keys for title in match order: every title
// variant with the exact year, then year-1, year+1, then no year.
// Keys are unique by String form.
func Variants(title string, year int) []Key {
	base := Title(title, year)
	if base.IsZero() {
		return nil
	}
	years := []int{0}
	if base.Year > 0 {
		years = []int{base.Year, base.Year - 1, base.Year + 1, 0}
	}

	seen := make(map[string]struct{})
	var out []Key
	for _, v := range TitleVariants(base.Display) {
		k := Title(v, 0)
		if k.IsZero() {
			continue
		}
		for _, y := range years {
			cand := k.WithYear(y)
			if _, dup := seen[cand.String()]; dup {
				continue
			}
			seen[cand.String()] = struct{}{}
			out = append(out, cand)
		}
	}
	return out
}
