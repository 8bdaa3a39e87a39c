package domain

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Evaluate reports whether submitted matches one of the level's accepted answers.
// Both sides are trimmed, NFC-normalized and case-folded. An empty submission is
// simply incorrect.
func Evaluate(level Level, submitted string) bool {
	got := normalizeAnswer(submitted)
	if got == "" {
		return false
	}
	for _, accepted := range level.Answers {
		if want := normalizeAnswer(accepted); want != "" && want == got {
			return true
		}
	}
	return false
}

func normalizeAnswer(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	// Casers keep state, so each call gets its own.
	return cases.Fold().String(norm.NFC.String(s))
}
