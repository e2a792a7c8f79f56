package domain

import "time"

// Action IDs carried by prompt buttons.
const (
	ActionSelectLanguage      = "select_language"
	ActionTranscribeTranslate = "transcribe_translate"
)

// Attachment is a file reference on a chat message. Only attachments that
// expose an AudioURL take part in the flow.
type Attachment struct {
	AudioURL string `json:"audioUrl,omitempty"`
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// InboundMessageEvent is a message posted in a room, as reported by the host platform.
type InboundMessageEvent struct {
	Channel     string       `json:"channel,omitempty"` // slack | telegram | discord | webhook
	MessageID   string       `json:"messageId"`
	RoomID      string       `json:"roomId"`
	SenderID    string       `json:"senderId"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Timestamp   time.Time    `json:"timestamp,omitempty"`
}

// ButtonInteractionEvent is a click on a prompt button. Value is the raw
// payload the button was created with.
type ButtonInteractionEvent struct {
	Channel  string `json:"channel,omitempty"`
	UserID   string `json:"userId"`
	RoomID   string `json:"roomId"`
	ActionID string `json:"actionId"`
	Value    string `json:"value"`
}

// Ack is returned to the host platform for every interaction event.
type Ack struct {
	OK   bool   `json:"ok"`
	Text string `json:"text,omitempty"`
}

// FulfillmentRequest drives one worker execution.
type FulfillmentRequest struct {
	AudioURL          string
	OriginalMessageID string
	TargetLanguage    string
	UserID            string
	RoomID            string
	Channel           string
}
