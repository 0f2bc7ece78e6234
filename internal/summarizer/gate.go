package summarizer

import (
	"regexp"
	"strings"

	"github.com/bryan-buckman/pulse/internal/markup"
)

// Sentinel is the phrase every accepted summary must carry.
const Sentinel = "Why it matters:"

const minInformativeWords = 10

var sentinelRe = regexp.MustCompile(`(?i)\s*why it matters:\s*`)

var placeholders = map[string]bool{
	"comments":  true,
	"comment":   true,
	"read more": true,
	"n/a":       true,
	"na":        true,
}

// Normalize strips markup, collapses whitespace and starts a new line at
// every "Why it matters:" marker, rewritten to canonical casing.
func Normalize(text string) string {
	s := markup.Strip(text)
	s = sentinelRe.ReplaceAllString(s, "\n"+Sentinel+" ")
	return strings.TrimSpace(s)
}

// IsInformative reports whether text is good enough to publish.
func IsInformative(text string) bool {
	s := markup.Strip(text)
	if s == "" {
		return false
	}
	if len(strings.Fields(s)) < minInformativeWords {
		return false
	}
	lower := strings.ToLower(s)
	if !strings.Contains(lower, "why it matters") {
		return false
	}
	return !placeholders[strings.TrimSpace(lower)]
}

// FallbackSummary builds a generic summary around headline. The result
// always passes IsInformative.
func FallbackSummary(headline string) string {
	h := plainHeadline(headline)
	if h == "" {
		h = "This story"
	}
	return h + " is one of today's notable developments.\n" +
		Sentinel + " It signals a shift worth tracking for readers following this space."
}

// plainHeadline reduces headline to prose that survives another pass
// through the markup stripper unchanged.
func plainHeadline(headline string) string {
	h := markup.Strip(headline)
	h = strings.NewReplacer("<", "", ">", "").Replace(h)
	return markup.Collapse(h)
}

// AlternateSource joins the non-blank parts with single spaces.
func AlternateSource(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, " ")
}
