package messaging

import (
	"strings"
	"unicode"
)

// Per-message text limits, in characters, of the supported transports.
const (
	TelegramMaxTextLength = 4096
	TwilioMaxTextLength   = 1600
	WhatsAppMaxTextLength = 65536
)

// SplitText breaks text into pieces of at most limit runes, preferring paragraph breaks,
// then line breaks, then spaces. A limit of zero or less returns text unchanged.
func SplitText(text string, limit int) []string {
	runes := []rune(text)
	if limit <= 0 || len(runes) <= limit {
		return []string{text}
	}

	var chunks []string
	for len(runes) > limit {
		cut := splitPoint(runes[:limit+1])
		if chunk := strings.TrimRightFunc(string(runes[:cut]), unicode.IsSpace); chunk != "" {
			chunks = append(chunks, chunk)
		}
		runes = []rune(strings.TrimLeftFunc(string(runes[cut:]), unicode.IsSpace))
	}
	if len(runes) > 0 {
		chunks = append(chunks, string(runes))
	}
	return chunks
}

// splitPoint returns where window should be cut. window is one rune longer than the limit
// so a separator right after the limit still counts.
func splitPoint(window []rune) int {
	limit := len(window) - 1
	s := string(window)
	for _, sep := range []string{"\n\n", "\n", " "} {
		if i := strings.LastIndex(s, sep); i > 0 {
			if cut := len([]rune(s[:i])); cut > limit/2 {
				return cut
			}
		}
	}
	return limit
}
