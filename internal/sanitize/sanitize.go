// Package sanitize strips markup from user-controlled strings before they
// are stored or placed in outgoing email. Uses bluemonday's strict policy,
// which removes every tag and keeps only text content.
package sanitize

import (
	"html"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

var (
	policy     *bluemonday.Policy
	policyOnce sync.Once
)

// getPolicy returns the shared strict policy, initializing it on first call.
func getPolicy() *bluemonday.Policy {
	policyOnce.Do(func() {
		policy = bluemonday.StrictPolicy()
	})
	return policy
}

// PlainText removes all HTML tags from input and collapses surrounding
// whitespace. Entities produced by the sanitizer are decoded again so the
// result is plain text, not HTML; callers that render it must still escape.
func PlainText(input string) string {
	if input == "" {
		return ""
	}
	cleaned := html.UnescapeString(getPolicy().Sanitize(input))
	return strings.Join(strings.Fields(cleaned), " ")
}

// Truncate shortens s to at most maxRunes runes without splitting a
// multi-byte character.
func Truncate(s string, maxRunes int) string {
	if utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxRunes])
}

// Field is PlainText followed by Truncate. Used for values bound for
// fixed-width columns such as user agents.
func Field(input string, maxRunes int) string {
	return Truncate(PlainText(input), maxRunes)
}
