package grading

import (
	"strings"
	"unicode"
)

// normalize trims, collapses runs of whitespace to one space and case-folds.
// Punctuation is kept: "3.5" and "35" are different options.
func normalize(s string) string {
	out := make([]rune, 0, len(s))
	space := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			space = true
			continue
		}
		if space && len(out) > 0 {
			out = append(out, ' ')
		}
		space = false
		out = append(out, unicode.ToLower(r))
	}
	return string(out)
}

// Equivalent is the one answer comparison policy: live scoring, partial
// scores, review highlighting and correct-option validation all go through it.
func Equivalent(selected, correct string) bool {
	return strings.EqualFold(normalize(selected), normalize(correct))
}

// Canonical returns the member of options equivalent to s, so a key that
// differs from its option only by case or spacing can be pinned to the
// option's exact text.
func Canonical(options []string, s string) (string, bool) {
	for _, o := range options {
		if Equivalent(o, s) {
			return o, true
		}
	}
	return "", false
}
