package channel

import (
	"strings"
	"unicode/utf8"

	"voicebridge/internal/domain"
)

// splitMessage splits a message into chunks of at most maxLen bytes, trying
// to split on newlines when possible and never inside a UTF-8 sequence.
func splitMessage(msg string, maxLen int) []string {
	if len(msg) <= maxLen {
		return []string{msg}
	}

	var chunks []string
	for len(msg) > 0 {
		if len(msg) <= maxLen {
			chunks = append(chunks, msg)
			break
		}

		cut := maxLen
		if idx := strings.LastIndex(msg[:maxLen], "\n"); idx > maxLen/2 {
			cut = idx + 1
		}
		for cut > 0 && !utf8.RuneStart(msg[cut]) {
			cut--
		}
		if cut == 0 {
			_, cut = utf8.DecodeRuneInString(msg)
		}

		chunks = append(chunks, msg[:cut])
		msg = msg[cut:]
	}
	return chunks
}

// plainText flattens a message and its blocks into one text body for
// platforms that render buttons outside the text.
func plainText(text string, blocks []domain.Block) string {
	parts := make([]string, 0, len(blocks)+1)
	if text != "" {
		parts = append(parts, text)
	}
	for _, b := range blocks {
		if b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n\n")
}

// isAudio reports whether a MIME type or file name denotes audio.
func isAudio(mimeType, name string) bool {
	if strings.HasPrefix(strings.ToLower(mimeType), "audio/") {
		return true
	}
	switch ext := strings.ToLower(name); {
	case strings.HasSuffix(ext, ".mp3"), strings.HasSuffix(ext, ".wav"),
		strings.HasSuffix(ext, ".ogg"), strings.HasSuffix(ext, ".oga"),
		strings.HasSuffix(ext, ".m4a"), strings.HasSuffix(ext, ".webm"):
		return true
	}
	return false
}
