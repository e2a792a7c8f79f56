package domain

import "context"

// Button is an actionable element of a prompt. Value is opaque to the platform.
type Button struct {
	ActionID string `json:"actionId"`
	Label    string `json:"label"`
	Value    string `json:"value"`
}

// Block is a section of structured UI content: markdown text plus an
// optional row of buttons.
type Block struct {
	Text    string   `json:"text,omitempty"`
	Buttons []Button `json:"buttons,omitempty"`
}

// OutgoingMessage is a message posted to a room. ThreadID, when set, is the
// id of the message to reply under.
type OutgoingMessage struct {
	RoomID   string  `json:"roomId"`
	SenderID string  `json:"senderId,omitempty"`
	Text     string  `json:"text,omitempty"`
	Blocks   []Block `json:"blocks,omitempty"`
	ThreadID string  `json:"threadId,omitempty"`
}

// Notification is shown only to UserID inside RoomID.
type Notification struct {
	UserID string  `json:"userId"`
	RoomID string  `json:"roomId"`
	Text   string  `json:"text,omitempty"`
	Blocks []Block `json:"blocks,omitempty"`
}

// Gateway is the conversation surface of a host platform. Implementations
// return an error wrapping ErrMissingEntity when the room or user cannot be
// resolved.
type Gateway interface {
	SendMessage(ctx context.Context, msg OutgoingMessage) error
	NotifyUser(ctx context.Context, n Notification) error
}

// EventHandler consumes host platform events. Channels pass themselves as
// the Gateway the handler answers through.
type EventHandler interface {
	HandleMessage(ctx context.Context, gw Gateway, ev InboundMessageEvent) (prompts int, err error)
	// HandleAction must return quickly; the platform acknowledges the click
	// with the returned Ack.
	HandleAction(ctx context.Context, gw Gateway, ev ButtonInteractionEvent) Ack
}
