package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingEntity means a room, user or app identity could not be resolved.
	ErrMissingEntity = errors.New("missing entity")

	// ErrInvalidPayload means a button value failed validation.
	ErrInvalidPayload = errors.New("invalid button payload")

	// ErrNoCandidate means the translation call succeeded but carried no text.
	ErrNoCandidate = errors.New("no translation candidate")
)

// TranscriptionError covers network failures, non-200 statuses and
// responses without text. StatusCode is 0 when no response was received.
type TranscriptionError struct {
	StatusCode int
	Err        error
}

func (e *TranscriptionError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transcription: status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transcription: %v", e.Err)
}

func (e *TranscriptionError) Unwrap() error { return e.Err }

// TranslationError covers network failures, non-200 statuses and missing
// candidates (Err is ErrNoCandidate in the last case).
type TranslationError struct {
	StatusCode int
	Err        error
}

func (e *TranslationError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("translation: status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("translation: %v", e.Err)
}

func (e *TranslationError) Unwrap() error { return e.Err }
