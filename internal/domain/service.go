package domain

import "context"

// Transcriber converts the audio behind a URL into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audioURL string) (string, error)
}

// Translator translates text into the target language code.
type Translator interface {
	Translate(ctx context.Context, text, targetLanguage string) (string, error)
}
