package model

import "time"

// MessageKind distinguishes participant messages from broker notices.
type MessageKind string

const (
	MessageKindUser   MessageKind = "message"
	MessageKindSystem MessageKind = "system"
)

// ClockLayout is the timestamp layout chat clients display.
const ClockLayout = "15:04:05"

// ChatMessage is a single entry of a room's history. It is never modified
// after being appended.
type ChatMessage struct {
	ID        string      `json:"id"`
	Kind      MessageKind `json:"type"`
	Sender    string      `json:"user,omitempty"`
	Text      string      `json:"text"`
	Timestamp time.Time   `json:"-"`
}

// Clock returns the message timestamp formatted for the wire.
func (m ChatMessage) Clock() string {
	return m.Timestamp.Format(ClockLayout)
}
