package service

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kzinvogon/apoyar-chat/internal/domain"
	"github.com/kzinvogon/apoyar-chat/internal/events"
	"github.com/kzinvogon/apoyar-chat/internal/observability"
	"github.com/kzinvogon/apoyar-chat/internal/repository"
	"github.com/kzinvogon/apoyar-chat/internal/ws"
	apperrors "github.com/kzinvogon/apoyar-chat/pkg/util"
)

// MessageService routes chat traffic within a session channel. The rule for
// every message is persist first, broadcast second: a message that failed to
// commit is an error to its sender and reaches nobody.
type MessageService struct {
	sessions   repository.SessionRepository
	messages   repository.MessageRepository
	broadcast  Broadcaster
	dispatcher events.Dispatcher
	metrics    *observability.Metrics
	logger     *zap.Logger
}

// MessageDependencies bundles collaborators for the message service.
type MessageDependencies struct {
	SessionRepo repository.SessionRepository
	MessageRepo repository.MessageRepository
	Broadcast   Broadcaster
	Dispatcher  events.Dispatcher
	Metrics     *observability.Metrics
	Logger      *zap.Logger
}

// MessageInput describes an inbound chat message.
type MessageInput struct {
	SessionID string
	Content   string
	Type      string
	FileRef   string
}

// NewMessageService constructs the service.
func NewMessageService(deps MessageDependencies) *MessageService {
	return &MessageService{
		sessions:   deps.SessionRepo,
		messages:   deps.MessageRepo,
		broadcast:  deps.Broadcast,
		dispatcher: deps.Dispatcher,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
	}
}

// Append persists a participant's message and broadcasts it to the session
// channel.
func (s *MessageService) Append(ctx context.Context, identity domain.Identity, input MessageInput) (*domain.ChatMessage, error) {
	session, err := sessionForTenant(ctx, s.sessions, identity.TenantID, input.SessionID)
	if err != nil {
		return nil, err
	}
	if !session.Open() {
		return nil, apperrors.NewConflict("session is closed", map[string]any{"session_id": session.ID})
	}
	if !session.IsParticipant(identity.UserID) {
		return nil, apperrors.NewNotParticipant(session.ID)
	}

	messageType := domain.MessageType(input.Type)
	if messageType == "" {
		messageType = domain.MessageTypeText
	}
	switch messageType {
	case domain.MessageTypeText:
		if strings.TrimSpace(input.Content) == "" {
			return nil, apperrors.NewValidationError("message content required", nil)
		}
	case domain.MessageTypeFile:
		if input.FileRef == "" {
			return nil, apperrors.NewValidationError("file reference required", nil)
		}
	default:
		return nil, apperrors.NewValidationError("unsupported message type", map[string]any{"type": input.Type})
	}

	senderID := identity.UserID
	message := &domain.ChatMessage{
		ID:          uuid.NewString(),
		SessionID:   session.ID,
		SenderID:    &senderID,
		SenderRole:  senderRoleFor(identity.Role),
		MessageType: messageType,
		Body:        strings.TrimSpace(input.Content),
	}
	if input.FileRef != "" {
		fileRef := input.FileRef
		message.FileRef = &fileRef
	}

	if err := s.messages.Create(ctx, message); err != nil {
		return nil, err
	}

	s.broadcastMessage(session.ID, message)
	publishEvent(ctx, s.dispatcher, s.metrics, events.Event{
		Type:      events.EventMessageAdded,
		TenantID:  session.TenantID,
		SessionID: session.ID,
		Actor:     events.UserActor(identity),
		Payload: events.MessageAddedPayload{
			MessageID:   message.ID,
			MessageType: message.MessageType,
			SenderRole:  message.SenderRole,
			BodyPreview: bodyPreview(message.Body, 120),
		},
	})
	return message, nil
}

// AppendSystem records an engine annotation in the transcript. Claim,
// transfer and close hand-offs use it so history reflects who held the
// session when.
func (s *MessageService) AppendSystem(ctx context.Context, tenantID, sessionID, body string) (*domain.ChatMessage, error) {
	message := &domain.ChatMessage{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		SenderRole:  domain.SenderSystem,
		MessageType: domain.MessageTypeSystem,
		Body:        body,
	}
	if err := s.messages.Create(ctx, message); err != nil {
		return nil, err
	}

	s.broadcastMessage(sessionID, message)
	publishEvent(ctx, s.dispatcher, s.metrics, events.Event{
		Type:      events.EventMessageAdded,
		TenantID:  tenantID,
		SessionID: sessionID,
		Actor:     events.SystemActor(),
		Payload: events.MessageAddedPayload{
			MessageID:   message.ID,
			MessageType: message.MessageType,
			SenderRole:  message.SenderRole,
			BodyPreview: bodyPreview(message.Body, 120),
		},
	})
	return message, nil
}

// Typing relays a typing signal to the other session participants. Never
// persisted.
func (s *MessageService) Typing(ctx context.Context, identity domain.Identity, sessionID string) error {
	session, err := sessionForTenant(ctx, s.sessions, identity.TenantID, sessionID)
	if err != nil {
		return err
	}
	if !session.Open() {
		return apperrors.NewConflict("session is closed", map[string]any{"session_id": sessionID})
	}
	if !session.IsParticipant(identity.UserID) {
		return apperrors.NewNotParticipant(sessionID)
	}

	if s.broadcast != nil {
		s.broadcast.ToSessionExceptUser(session.ID, identity.UserID, ws.Push(ws.FrameTyping, ws.TypingEvent{
			SessionID: session.ID,
			UserID:    identity.UserID,
		}))
	}
	return nil
}

// MarkRead stamps the messages the reader had not seen and broadcasts a read
// receipt when anything changed. Works on closed sessions too; reading a
// finished transcript is legitimate.
func (s *MessageService) MarkRead(ctx context.Context, identity domain.Identity, sessionID string) (int64, error) {
	session, err := sessionForTenant(ctx, s.sessions, identity.TenantID, sessionID)
	if err != nil {
		return 0, err
	}
	if !session.IsParticipant(identity.UserID) {
		return 0, apperrors.NewNotParticipant(sessionID)
	}

	now := time.Now()
	count, err := s.messages.MarkRead(ctx, session.ID, identity.UserID, now)
	if err != nil {
		return 0, err
	}

	if count > 0 && s.broadcast != nil {
		s.broadcast.ToSession(session.ID, ws.Push(ws.FrameRead, ws.ReadReceiptEvent{
			SessionID: session.ID,
			ReaderID:  identity.UserID,
			Count:     count,
			ReadAt:    now,
		}))
	}
	return count, nil
}

// History returns the session transcript for a participant or an admin.
func (s *MessageService) History(ctx context.Context, identity domain.Identity, sessionID string, limit, offset int) ([]domain.ChatMessage, error) {
	session, err := sessionForTenant(ctx, s.sessions, identity.TenantID, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.IsParticipant(identity.UserID) && identity.Role != domain.RoleAdmin {
		return nil, apperrors.NewNotParticipant(sessionID)
	}
	return s.messages.ListBySession(ctx, session.ID, limit, offset)
}

func (s *MessageService) broadcastMessage(sessionID string, message *domain.ChatMessage) {
	if s.broadcast == nil {
		return
	}
	s.broadcast.ToSession(sessionID, ws.Push(ws.FrameMessage, ws.MessageEvent{
		MessageID:  message.ID,
		SessionID:  sessionID,
		SenderID:   message.SenderID,
		SenderRole: string(message.SenderRole),
		Type:       string(message.MessageType),
		Content:    message.Body,
		FileRef:    message.FileRef,
		CreatedAt:  message.CreatedAt,
	}))
}

func senderRoleFor(role domain.Role) domain.SenderRole {
	if role.Staff() {
		return domain.SenderAgent
	}
	return domain.SenderCustomer
}

func bodyPreview(body string, max int) string {
	body = strings.TrimSpace(body)
	if len(body) <= max {
		return body
	}
	if max <= 3 {
		return body[:max]
	}
	// Never cut inside a multi-byte rune.
	cut := max - 3
	for cut > 0 && !utf8.RuneStart(body[cut]) {
		cut--
	}
	return body[:cut] + "..."
}
