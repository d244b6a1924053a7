// Package similarity ranks destination options against one origin value.
//
// The scorer is deliberately simple and deterministic. It is only used to
// order suggestions while an operator builds value mappings; exports never
// call it.
//
// Scoring precedence (first rule that applies wins):
//
//  1. exact case-insensitive match              -> 1.0
//  2. one string contains the other             -> 0.8
//  3. shared whitespace tokens                  -> 0.5 + 0.3 * shared/max(tokens)
//  4. index-aligned equal runes / longer length -> [0, 1)
//
// Rule 2 only fires when the shorter string covers at least
// MinContainmentCoverage of the longer one, so a short word buried in a long
// label ("Red" in "Crimson Red") is scored by token overlap instead.
package similarity

import (
	"strings"

	"golang.org/x/text/cases"
)

const (
	ExactScore       = 1.0
	ContainmentScore = 0.8

	tokenBase   = 0.5
	tokenWeight = 0.3

	// MinContainmentCoverage is the minimum rune length ratio shorter/longer
	// for rule 2.
	MinContainmentCoverage = 0.3
)

// Score returns the similarity of a and b in [0, 1].
func Score(a, b string) float64 {
	x, y := normalize(a), normalize(b)

	if x == y {
		return ExactScore
	}
	if contains(x, y) {
		return ContainmentScore
	}
	if s, ok := tokenOverlap(x, y); ok {
		return s
	}
	return positional(x, y)
}

// normalize trims and case-folds s. A fresh Caser is used per call since
// Casers are stateful and must not be shared across goroutines.
func normalize(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}

func contains(x, y string) bool {
	shorter, longer := x, y
	if runeLen(shorter) > runeLen(longer) {
		shorter, longer = longer, shorter
	}
	ls, ll := runeLen(shorter), runeLen(longer)
	if ls == 0 || ll == 0 {
		return false
	}
	if float64(ls)/float64(ll) < MinContainmentCoverage {
		return false
	}
	return strings.Contains(longer, shorter)
}

func tokenOverlap(x, y string) (float64, bool) {
	tx, ty := tokenSet(x), tokenSet(y)
	if len(tx) == 0 || len(ty) == 0 {
		return 0, false
	}

	shared := 0
	for t := range tx {
		if _, ok := ty[t]; ok {
			shared++
		}
	}
	if shared == 0 {
		return 0, false
	}

	denom := len(tx)
	if len(ty) > denom {
		denom = len(ty)
	}
	return tokenBase + tokenWeight*float64(shared)/float64(denom), true
}

func tokenSet(s string) map[string]struct{} {
	fields := strings.Fields(s)
	out := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		out[f] = struct{}{}
	}
	return out
}

// positional counts runes that are equal at the same index, divided by the
// longer string's rune length. This is not an edit distance.
func positional(x, y string) float64 {
	rx, ry := []rune(x), []rune(y)
	n := len(rx)
	if len(ry) > n {
		n = len(ry)
	}
	if n == 0 {
		return 0
	}

	m := len(rx)
	if len(ry) < m {
		m = len(ry)
	}
	same := 0
	for i := 0; i < m; i++ {
		if rx[i] == ry[i] {
			same++
		}
	}
	return float64(same) / float64(n)
}

func runeLen(s string) int { return len([]rune(s)) }
