package domain

import "time"

// SessionStatus enumerates lifecycle states for chat sessions.
// Transitions are monotonic forward: WAITING -> ACTIVE -> CLOSED. A transfer
// re-enters ACTIVE with a different agent; a session never returns to WAITING.
type SessionStatus string

const (
	SessionStatusWaiting SessionStatus = "WAITING"
	SessionStatusActive  SessionStatus = "ACTIVE"
	SessionStatusClosed  SessionStatus = "CLOSED"
)

// SessionKind separates customer support sessions, which queue for an agent,
// from agent-to-agent direct sessions, which are born ACTIVE.
type SessionKind string

const (
	SessionKindSupport SessionKind = "SUPPORT"
	SessionKindDirect  SessionKind = "DIRECT"
)

// ChatSession is the aggregate for one live-chat conversation.
type ChatSession struct {
	ID             string
	TenantID       string
	Kind           SessionKind
	CustomerID     string
	AgentID        *string
	Status         SessionStatus
	QueuePosition  int
	PriorAgentID   *string
	TransferReason *string
	Rating         *int
	CreatedAt      time.Time
	ActivatedAt    *time.Time
	ClosedAt       *time.Time
}

// IsParticipant reports whether the user takes part in the session as the
// customer side or the currently assigned agent.
func (s *ChatSession) IsParticipant(userID string) bool {
	if s.CustomerID == userID {
		return true
	}
	return s.AgentID != nil && *s.AgentID == userID
}

// Open reports whether the session still accepts chat traffic.
func (s *ChatSession) Open() bool {
	return s.Status == SessionStatusWaiting || s.Status == SessionStatusActive
}
