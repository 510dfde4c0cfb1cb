package assistant

import (
	"regexp"
	"strings"
)

// Assistant replies carry retrieval citation markers and markdown emphasis
// that neither Telegram plain-text messages nor the website widget render.
// CleanReply strips them before the text reaches a user.
var (
	citationPattern   = regexp.MustCompile(`【[^】]*】`)
	bracketRefPattern = regexp.MustCompile(`\[[^\]]*†[^\]]*\]`)
	boldPattern       = regexp.MustCompile(`\*\*(.*?)\*\*`)
	italicPattern     = regexp.MustCompile(`\*(.*?)\*`)
	daggerPattern     = regexp.MustCompile(`[†‡]`)
	spacePattern      = regexp.MustCompile(`\s+`)
)

// CleanReply removes citation markers (【...】 and [...†...]), stray dagger
// characters, and markdown bold/italic emphasis (keeping the inner text),
// then collapses all whitespace runs to single spaces and trims the result.
func CleanReply(text string) string {
	text = citationPattern.ReplaceAllString(text, "")
	text = bracketRefPattern.ReplaceAllString(text, "")
	text = boldPattern.ReplaceAllString(text, "$1")
	text = italicPattern.ReplaceAllString(text, "$1")
	text = daggerPattern.ReplaceAllString(text, "")
	text = spacePattern.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}
