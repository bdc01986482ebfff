package domain

import "time"

// SenderRole indicates who authored a chat message.
type SenderRole string

const (
	SenderCustomer SenderRole = "customer"
	SenderAgent    SenderRole = "agent"
	SenderSystem   SenderRole = "system"
)

// MessageType differentiates chat message payloads.
type MessageType string

const (
	MessageTypeText   MessageType = "text"
	MessageTypeFile   MessageType = "file"
	MessageTypeSystem MessageType = "system"
)

// ChatMessage is one entry in a session transcript. Messages are append-only;
// after persistence only the read marker is ever stamped.
type ChatMessage struct {
	ID          string
	SessionID   string
	SenderID    *string
	SenderRole  SenderRole
	MessageType MessageType
	Body        string
	FileRef     *string
	ReadAt      *time.Time
	CreatedAt   time.Time
}
