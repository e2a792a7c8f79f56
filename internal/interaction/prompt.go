package interaction

import (
	"strings"

	"voicebridge/internal/domain"
)

const (
	audioDetectedText  = "*🎧 Audio Message Detected!* Click below to transcribe and translate."
	chooseLanguageText = "🌍 *Choose the language you want to translate into:*"
	invalidRequestText = "⚠️ This request has expired or is invalid. Please send the audio again."
	unsupportedLangFmt = "⚠️ Unsupported language %q. Choose one of: %s."

	transcribeButtonLabel = "Transcribe & Translate"
)

// audioPrompt is posted once per audio attachment.
func audioPrompt(actionID string, payload domain.ButtonPayload) []domain.Block {
	return []domain.Block{
		{Text: audioDetectedText},
		{Buttons: []domain.Button{{
			ActionID: actionID,
			Label:    transcribeButtonLabel,
			Value:    payload.Encode(),
		}}},
	}
}

// languagePrompt offers one button per supported target language.
func languagePrompt(p domain.ButtonPayload) []domain.Block {
	buttons := make([]domain.Button, 0, len(domain.SupportedLanguages))
	for _, lang := range domain.SupportedLanguages {
		buttons = append(buttons, domain.Button{
			ActionID: domain.ActionTranscribeTranslate,
			Label:    strings.ToUpper(lang),
			Value: domain.ButtonPayload{
				AudioURL:       p.AudioURL,
				OriginalMsgID:  p.OriginalMsgID,
				TargetLanguage: lang,
			}.Encode(),
		})
	}
	return []domain.Block{
		{Text: chooseLanguageText},
		{Buttons: buttons},
	}
}
