package ws

import (
	"encoding/json"
	"errors"
	"time"
)

// FrameType identifies a websocket frame on the wire.
type FrameType string

// Client-initiated frame types.
const (
	FrameStart    FrameType = "start"
	FrameMessage  FrameType = "message"
	FrameTyping   FrameType = "typing"
	FrameRead     FrameType = "read"
	FrameClaim    FrameType = "claim"
	FrameTransfer FrameType = "transfer"
	FrameClose    FrameType = "close"
	FrameRate     FrameType = "rate"
	FrameJoin     FrameType = "join"
	FrameDirect   FrameType = "direct"
)

// Reply frame types. Replies carry the ref of the frame they answer.
const (
	FrameAck   FrameType = "ack"
	FrameError FrameType = "error"
)

// Server-push frame types.
const (
	FramePresence         FrameType = "presence"
	FrameChatRequest      FrameType = "chat_request"
	FrameAgentJoined      FrameType = "agent_joined"
	FrameTransferred      FrameType = "transferred"
	FrameTransferIncoming FrameType = "transfer_incoming"
	FrameClosed           FrameType = "closed"
	FrameQueuePosition    FrameType = "queue_position"
	FrameRequestClaimed   FrameType = "request_claimed"
	FrameAutoAssigned     FrameType = "auto_assigned"
)

// Frame is the JSON envelope for everything sent to a client.
type Frame struct {
	Type    FrameType `json:"type"`
	Ref     string    `json:"ref,omitempty"`
	Payload any       `json:"payload,omitempty"`
}

// InboundFrame is the envelope read from a client. Payload decoding is
// deferred until the type is known.
type InboundFrame struct {
	Type    FrameType       `json:"type"`
	Ref     string          `json:"ref,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Decode unmarshals the frame payload into v.
func (f *InboundFrame) Decode(v any) error {
	if len(f.Payload) == 0 {
		return errors.New("missing payload")
	}
	return json.Unmarshal(f.Payload, v)
}

// Ack builds a success reply for the given ref.
func Ack(ref string, payload any) Frame {
	return Frame{Type: FrameAck, Ref: ref, Payload: payload}
}

// ErrorReply builds an error reply for the given ref.
func ErrorReply(ref, code, message string) Frame {
	return Frame{Type: FrameError, Ref: ref, Payload: ErrorPayload{Code: code, Message: message}}
}

// Push builds a server-initiated frame.
func Push(frameType FrameType, payload any) Frame {
	return Frame{Type: frameType, Payload: payload}
}

// Inbound payloads. Field names follow the widget wire contract.

type MessagePayload struct {
	SessionID string `json:"sessionId"`
	Content   string `json:"content"`
	Type      string `json:"type,omitempty"`
	FileRef   string `json:"fileRef,omitempty"`
}

// SessionRefPayload serves typing, read, claim, close and join frames.
type SessionRefPayload struct {
	SessionID string `json:"sessionId"`
}

type TransferPayload struct {
	SessionID     string `json:"sessionId"`
	TargetAgentID string `json:"targetAgentId"`
	Reason        string `json:"reason,omitempty"`
}

type RatePayload struct {
	SessionID string `json:"sessionId"`
	Rating    int    `json:"rating"`
}

type DirectPayload struct {
	TargetUserID string `json:"targetUserId"`
	Content      string `json:"content"`
}

// Reply payloads.

type StartAck struct {
	SessionID     string `json:"sessionId"`
	QueuePosition int    `json:"queuePosition"`
}

type MessageAck struct {
	MessageID string `json:"messageId"`
}

type SuccessAck struct {
	Success bool `json:"success"`
}

type SessionAck struct {
	SessionID string `json:"sessionId"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Server-push payloads.

type PresenceUser struct {
	UserID      string    `json:"userId"`
	Role        string    `json:"role"`
	ConnectedAt time.Time `json:"connectedAt"`
}

type PresencePayload struct {
	Users []PresenceUser `json:"users"`
}

type ChatRequestPayload struct {
	SessionID     string    `json:"sessionId"`
	CustomerID    string    `json:"customerId"`
	QueuePosition int       `json:"queuePosition"`
	CreatedAt     time.Time `json:"createdAt"`
}

type MessageEvent struct {
	MessageID  string    `json:"messageId"`
	SessionID  string    `json:"sessionId"`
	SenderID   *string   `json:"senderId"`
	SenderRole string    `json:"senderRole"`
	Type       string    `json:"type"`
	Content    string    `json:"content"`
	FileRef    *string   `json:"fileRef,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

type TypingEvent struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
}

type ReadReceiptEvent struct {
	SessionID string    `json:"sessionId"`
	ReaderID  string    `json:"readerId"`
	Count     int64     `json:"count"`
	ReadAt    time.Time `json:"readAt"`
}

type AgentJoinedEvent struct {
	SessionID string `json:"sessionId"`
	AgentID   string `json:"agentId"`
	Auto      bool   `json:"auto"`
}

type TransferredEvent struct {
	SessionID   string `json:"sessionId"`
	FromAgentID string `json:"fromAgentId"`
	ToAgentID   string `json:"toAgentId"`
	Reason      string `json:"reason,omitempty"`
}

type TransferIncomingEvent struct {
	SessionID   string `json:"sessionId"`
	FromAgentID string `json:"fromAgentId"`
	CustomerID  string `json:"customerId"`
	Reason      string `json:"reason,omitempty"`
}

type ClosedEvent struct {
	SessionID string  `json:"sessionId"`
	ClosedBy  *string `json:"closedBy,omitempty"`
}

type QueuePositionEvent struct {
	SessionID     string `json:"sessionId"`
	QueuePosition int    `json:"queuePosition"`
}

type RequestClaimedEvent struct {
	SessionID string `json:"sessionId"`
	AgentID   string `json:"agentId"`
}

type AutoAssignedEvent struct {
	SessionID  string `json:"sessionId"`
	CustomerID string `json:"customerId"`
}
