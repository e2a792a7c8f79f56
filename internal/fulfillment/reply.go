package fulfillment

import (
	"fmt"
	"strings"
)

const (
	TranscriptionFailedText = "❌ Transcription failed."
	TranslationFailedText   = "❌ Translation failed."
	CachedNotice            = "♻️ _Served from cache._"
	internalErrorText       = "❌ Something went wrong while processing this audio message."
)

// ComposeReply renders the final reply. An empty translation is shown as
// TranslationFailedText; the transcription is always included.
func ComposeReply(transcription, translation, lang string, cached bool) string {
	if translation == "" {
		translation = TranslationFailedText
	}
	var sb strings.Builder
	if cached {
		sb.WriteString(CachedNotice)
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "*Transcription:* %s\n*Translation (%s):* %s", transcription, strings.ToUpper(lang), translation)
	return sb.String()
}
