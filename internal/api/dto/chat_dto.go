package dto

import (
	"time"

	"github.com/kzinvogon/apoyar-chat/internal/domain"
)

// SessionSummary response.
type SessionSummary struct {
	ID            string               `json:"id"`
	Kind          domain.SessionKind   `json:"kind"`
	CustomerID    string               `json:"customer_id"`
	AgentID       *string              `json:"agent_id"`
	Status        domain.SessionStatus `json:"status"`
	QueuePosition int                  `json:"queue_position"`
	Rating        *int                 `json:"rating,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
	ActivatedAt   *time.Time           `json:"activated_at,omitempty"`
	ClosedAt      *time.Time           `json:"closed_at,omitempty"`
}

// SessionDetailResponse provides full session info including transcript.
type SessionDetailResponse struct {
	ID             string                `json:"id"`
	Kind           domain.SessionKind    `json:"kind"`
	CustomerID     string                `json:"customer_id"`
	AgentID        *string               `json:"agent_id"`
	Status         domain.SessionStatus  `json:"status"`
	QueuePosition  int                   `json:"queue_position"`
	PriorAgentID   *string               `json:"prior_agent_id,omitempty"`
	TransferReason *string               `json:"transfer_reason,omitempty"`
	Rating         *int                  `json:"rating,omitempty"`
	CreatedAt      time.Time             `json:"created_at"`
	ActivatedAt    *time.Time            `json:"activated_at,omitempty"`
	ClosedAt       *time.Time            `json:"closed_at,omitempty"`
	Messages       []ChatMessageResponse `json:"messages"`
}

// ChatMessageResponse represents a transcript entry.
type ChatMessageResponse struct {
	ID         string             `json:"id"`
	SessionID  string             `json:"session_id"`
	SenderID   *string            `json:"sender_id"`
	SenderRole domain.SenderRole  `json:"sender_role"`
	Type       domain.MessageType `json:"type"`
	Body       string             `json:"body"`
	FileRef    *string            `json:"file_ref,omitempty"`
	ReadAt     *time.Time         `json:"read_at,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
}

// OnlineAgentResponse describes a connected staff member.
type OnlineAgentResponse struct {
	UserID      string      `json:"user_id"`
	Role        domain.Role `json:"role"`
	ConnectedAt time.Time   `json:"connected_at"`
	Connections int         `json:"connections"`
}
