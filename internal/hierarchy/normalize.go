package hierarchy

import (
	"strings"
	"unicode"
)

// MaxNormalizedLength is the fixed maximum length (in runes) a normalized
// string is trimmed to.
const MaxNormalizedLength = 200

// ClockSkewTolerance is the fixed chronological tolerance allowed between a
// parent's createdAt and a child's createdAt. Not configurable: the spec
// this was calibrated from treats the 0s/1s split as a defect in the
// source, not a feature, so one value is used everywhere.
const ClockSkewTolerance = 1 // seconds

var replyPrefixes = []string{
	"re:",
	"réponse:",
	"reponse:",
	"fwd:",
}

// Normalize is the single authoritative text-normalization function used by
// both Pass 1 indexing and Pass 2 query construction in the hierarchy
// engine. It must never be reimplemented elsewhere: lowercases, collapses
// whitespace, unifies quotation styles, strips one leading reply-style
// prefix, and trims to MaxNormalizedLength runes.
func Normalize(s string) string {
	s = strings.ToLower(s)
	s = unifyQuotes(s)
	s = collapseWhitespace(s)
	s = stripReplyPrefix(s)
	s = strings.TrimSpace(s)
	return truncateRunes(s, MaxNormalizedLength)
}

func unifyQuotes(s string) string {
	replacer := strings.NewReplacer(
		"‘", "'", "’", "'",
		"“", "\"", "”", "\"",
		"`", "'",
	)
	return replacer.Replace(s)
}

func collapseWhitespace(s string) string {
	var b strings.Builder
	inSpace := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			if !inSpace {
				b.WriteRune(' ')
				inSpace = true
			}
			continue
		}
		inSpace = false
		b.WriteRune(r)
	}
	return b.String()
}

func stripReplyPrefix(s string) string {
	trimmed := strings.TrimSpace(s)
	for _, prefix := range replyPrefixes {
		if strings.HasPrefix(trimmed, prefix) {
			return strings.TrimSpace(trimmed[len(prefix):])
		}
	}
	return s
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
