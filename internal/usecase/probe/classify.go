// Package probe drives streaming trials against a model and classifies what
// comes back.
package probe

import (
	"strings"
	"unicode/utf8"

	"streamprobe/internal/domain"
)

// Classify reports EMPTY when text is empty after trimming whitespace and OK
// otherwise. Whitespace-only answers are the failure being hunted, so they
// never count as OK.
func Classify(text string) domain.Status {
	if strings.TrimSpace(text) == "" {
		return domain.StatusEmpty
	}
	return domain.StatusOK
}

// excerpt flattens whitespace in s and keeps at most n runes so a trial
// always renders on one line.
func excerpt(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
