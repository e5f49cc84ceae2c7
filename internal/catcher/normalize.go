package catcher

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Normalize canonicalizes a guess or species name for comparison:
// Unicode NFKC, case folding, whitespace collapsed to single spaces.
// Matching is exact after normalization, no fuzzy matching. A fresh
// Caser per call: cases.Caser is stateful and not concurrency-safe.
func Normalize(s string) string {
	s = norm.NFKC.String(s)
	s = cases.Fold().String(s)
	return strings.Join(strings.Fields(s), " ")
}
