package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ButtonPayload is the state a button carries between steps of the flow.
// Field names are part of the wire format and must not change.
type ButtonPayload struct {
	AudioURL       string `json:"audioUrl"`
	OriginalMsgID  string `json:"originalMsgId"`
	TargetLanguage string `json:"targetLanguage,omitempty"`
}

// Encode serializes the payload to its JSON wire form.
func (p ButtonPayload) Encode() string {
	data, err := json.Marshal(p)
	if err != nil {
		// Only string fields; Marshal cannot fail.
		return "{}"
	}
	return string(data)
}

// DecodePayload parses and validates a button value. Unknown fields are
// ignored; audioUrl and originalMsgId are required.
func DecodePayload(value string) (ButtonPayload, error) {
	var p ButtonPayload
	if strings.TrimSpace(value) == "" {
		return p, fmt.Errorf("%w: empty value", ErrInvalidPayload)
	}
	if err := json.Unmarshal([]byte(value), &p); err != nil {
		return p, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	p.AudioURL = strings.TrimSpace(p.AudioURL)
	p.OriginalMsgID = strings.TrimSpace(p.OriginalMsgID)
	p.TargetLanguage = strings.ToLower(strings.TrimSpace(p.TargetLanguage))
	if p.AudioURL == "" {
		return p, fmt.Errorf("%w: missing audioUrl", ErrInvalidPayload)
	}
	if p.OriginalMsgID == "" {
		return p, fmt.Errorf("%w: missing originalMsgId", ErrInvalidPayload)
	}
	return p, nil
}
