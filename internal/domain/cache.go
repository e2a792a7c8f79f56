package domain

import (
	"context"
	"time"
)

// Operation is the kind of result stored in the cache.
type Operation string

const (
	OpTranscription Operation = "transcription"
	OpTranslation   Operation = "translation"
)

// CacheKey identifies one cached text result. Language is empty for transcriptions.
type CacheKey struct {
	MessageID string
	Operation Operation
	Language  string
}

func TranscriptionKey(messageID string) CacheKey {
	return CacheKey{MessageID: messageID, Operation: OpTranscription}
}

func TranslationKey(messageID, language string) CacheKey {
	return CacheKey{MessageID: messageID, Operation: OpTranslation, Language: language}
}

// String renders the key as "<message>:<operation>[:<language>]".
func (k CacheKey) String() string {
	s := k.MessageID + ":" + string(k.Operation)
	if k.Language != "" {
		s += ":" + k.Language
	}
	return s
}

type CacheRecord struct {
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// ResultCache stores transcription and translation results. Store is
// write-if-absent: once a key holds a value it is never replaced.
type ResultCache interface {
	// Lookup returns found == false with a nil error on a miss.
	Lookup(ctx context.Context, key CacheKey) (rec CacheRecord, found bool, err error)
	Store(ctx context.Context, key CacheKey, text string) error
	Close() error
}
