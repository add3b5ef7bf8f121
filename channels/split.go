// Package channels delivers assistant replies to Telegram and LINE and
// parses their webhooks.
package channels

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	TelegramMessageLimit = 4096
	LineMessageLimit     = 5000
)

// SplitMessage breaks text into chunks of at most limit characters,
// preferring paragraph, then line, then word boundaries.
func SplitMessage(text string, limit int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}

	var chunks []string
	for utf8.RuneCountInString(text) > limit {
		cut := cutPoint(text, limit)
		chunk := strings.TrimSpace(text[:cut])
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		text = strings.TrimSpace(text[cut:])
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}

// cutPoint returns a byte offset no further than limit runes into text.
func cutPoint(text string, limit int) int {
	end := len(text)
	n := 0
	for i := range text {
		if n == limit {
			end = i
			break
		}
		n++
	}
	head := text[:end]
	for _, sep := range []string{"\n\n", "\n", " "} {
		// Ignore separators in the first half so chunks don't get tiny.
		if i := strings.LastIndex(head, sep); i > len(head)/2 {
			return i + len(sep)
		}
	}
	return end
}

var (
	mdLink     = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
	mdHeading  = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	mdBullet   = regexp.MustCompile(`(?m)^[ \t]*[-*+][ \t]+`)
	mdEmphasis = regexp.MustCompile("\\*\\*|__|\\*|`+|~~")
)

// StripMarkdown turns a markdown reply into plain text for chat apps that
// don't render it. Links keep their URL.
func StripMarkdown(text string) string {
	text = mdLink.ReplaceAllString(text, "$1 ($2)")
	text = mdHeading.ReplaceAllString(text, "")
	text = mdBullet.ReplaceAllString(text, "• ")
	text = mdEmphasis.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}
