package events

import (
	"time"

	"github.com/kzinvogon/apoyar-chat/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventSessionStarted     EventType = "session_started"
	EventSessionClaimed     EventType = "session_claimed"
	EventSessionTransferred EventType = "session_transferred"
	EventSessionClosed      EventType = "session_closed"
	EventSessionRated       EventType = "session_rated"
	EventMessageAdded       EventType = "message_added"
)

// Actor encapsulates actor metadata for an event. A nil UserID marks an
// action taken by the engine itself (auto-assignment, sweeps).
type Actor struct {
	UserID *string     `json:"user_id,omitempty"`
	Role   domain.Role `json:"role,omitempty"`
}

// SystemActor is the actor for engine-initiated transitions.
func SystemActor() Actor {
	return Actor{}
}

// UserActor builds an actor for a caller identity.
func UserActor(identity domain.Identity) Actor {
	id := identity.UserID
	return Actor{UserID: &id, Role: identity.Role}
}

// Event represents a session lifecycle event emitted by services.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	TenantID  string      `json:"tenant_id"`
	SessionID string      `json:"session_id"`
	Actor     Actor       `json:"actor"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// SessionStartedPayload payload.
type SessionStartedPayload struct {
	CustomerID    string             `json:"customer_id"`
	Kind          domain.SessionKind `json:"kind"`
	QueuePosition int                `json:"queue_position"`
}

// SessionClaimedPayload payload.
type SessionClaimedPayload struct {
	AgentID string `json:"agent_id"`
	Auto    bool   `json:"auto"`
}

// SessionTransferredPayload payload.
type SessionTransferredPayload struct {
	FromAgentID string `json:"from_agent_id"`
	ToAgentID   string `json:"to_agent_id"`
	Reason      string `json:"reason,omitempty"`
}

// SessionClosedPayload payload.
type SessionClosedPayload struct {
	ClosedBy *string `json:"closed_by,omitempty"`
}

// SessionRatedPayload payload.
type SessionRatedPayload struct {
	Rating int `json:"rating"`
}

// MessageAddedPayload payload.
type MessageAddedPayload struct {
	MessageID   string             `json:"message_id"`
	MessageType domain.MessageType `json:"message_type"`
	SenderRole  domain.SenderRole  `json:"sender_role"`
	BodyPreview string             `json:"body_preview"`
}
