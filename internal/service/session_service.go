package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/kzinvogon/apoyar-chat/internal/domain"
	"github.com/kzinvogon/apoyar-chat/internal/events"
	"github.com/kzinvogon/apoyar-chat/internal/observability"
	"github.com/kzinvogon/apoyar-chat/internal/repository"
	"github.com/kzinvogon/apoyar-chat/internal/ws"
	apperrors "github.com/kzinvogon/apoyar-chat/pkg/util"
)

// SessionService owns the chat session lifecycle: start, claim, transfer,
// close, rate, plus rejoin and agent-to-agent direct sessions. Lifecycle
// transitions are serialized by the store's conditional updates; everything
// in-process (timer cancellation, presence lookups) is advisory.
type SessionService struct {
	sessions   repository.SessionRepository
	queue      *QueueService
	messenger  *MessageService
	timers     *TimerRegistry
	agents     AgentDirectory
	broadcast  Broadcaster
	dispatcher events.Dispatcher
	metrics    *observability.Metrics
	logger     *zap.Logger

	assignDelay time.Duration
}

// SessionDependencies bundles collaborators for the session service.
type SessionDependencies struct {
	SessionRepo repository.SessionRepository
	Queue       *QueueService
	Messenger   *MessageService
	Timers      *TimerRegistry
	Agents      AgentDirectory
	Broadcast   Broadcaster
	Dispatcher  events.Dispatcher
	Metrics     *observability.Metrics
	Logger      *zap.Logger
	AssignDelay time.Duration
}

// NewSessionService constructs the service.
func NewSessionService(deps SessionDependencies) *SessionService {
	if deps.AssignDelay <= 0 {
		deps.AssignDelay = 30 * time.Second
	}
	return &SessionService{
		sessions:    deps.SessionRepo,
		queue:       deps.Queue,
		messenger:   deps.Messenger,
		timers:      deps.Timers,
		agents:      deps.Agents,
		broadcast:   deps.Broadcast,
		dispatcher:  deps.Dispatcher,
		metrics:     deps.Metrics,
		logger:      deps.Logger,
		assignDelay: deps.AssignDelay,
	}
}

// Start opens a support session for a customer, or returns the customer's
// existing open session so a reconnecting widget lands in the same
// conversation. New sessions queue as WAITING, get an auto-assign timer and
// are announced to the tenant's agents.
func (s *SessionService) Start(ctx context.Context, identity domain.Identity) (*domain.ChatSession, error) {
	if identity.Role != domain.RoleCustomer {
		return nil, apperrors.NewForbidden("only customers start support sessions")
	}

	existing, err := s.sessions.FindOpenSupport(ctx, identity.TenantID, identity.UserID)
	if err == nil {
		if s.broadcast != nil {
			s.broadcast.SubscribeUser(identity.TenantID, identity.UserID, existing.ID)
		}
		return existing, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	session := &domain.ChatSession{
		ID:         uuid.NewString(),
		TenantID:   identity.TenantID,
		Kind:       domain.SessionKindSupport,
		CustomerID: identity.UserID,
		Status:     domain.SessionStatusWaiting,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, err
	}
	if err := s.queue.Enqueue(ctx, session); err != nil {
		return nil, err
	}

	s.ArmAutoAssign(session.ID)

	if s.broadcast != nil {
		s.broadcast.SubscribeUser(identity.TenantID, identity.UserID, session.ID)
		s.broadcast.ToTenantAgents(identity.TenantID, ws.Push(ws.FrameChatRequest, ws.ChatRequestPayload{
			SessionID:     session.ID,
			CustomerID:    identity.UserID,
			QueuePosition: session.QueuePosition,
			CreatedAt:     session.CreatedAt,
		}))
	}

	s.publishEvent(ctx, events.Event{
		Type:      events.EventSessionStarted,
		TenantID:  session.TenantID,
		SessionID: session.ID,
		Actor:     events.UserActor(identity),
		Payload: events.SessionStartedPayload{
			CustomerID:    session.CustomerID,
			Kind:          session.Kind,
			QueuePosition: session.QueuePosition,
		},
	})
	return session, nil
}

// Claim assigns a waiting session to the calling agent. Exactly one claimer
// wins a contested session; losers get ALREADY_CLAIMED, stale references get
// NOT_CLAIMABLE.
func (s *SessionService) Claim(ctx context.Context, identity domain.Identity, sessionID string) error {
	if !identity.Role.Staff() {
		return apperrors.NewForbidden("only agents claim sessions")
	}

	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NewNotClaimable(sessionID)
		}
		return err
	}
	if session.TenantID != identity.TenantID {
		return apperrors.NewNotClaimable(sessionID)
	}
	switch session.Status {
	case domain.SessionStatusClosed:
		return apperrors.NewNotClaimable(sessionID)
	case domain.SessionStatusActive:
		return apperrors.NewAlreadyClaimed(sessionID)
	}

	won, err := s.sessions.Claim(ctx, sessionID, identity.UserID, time.Now())
	if err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.RecordClaim(won)
	}
	if !won {
		current, err := s.sessions.GetByID(ctx, sessionID)
		if err == nil && current.Status == domain.SessionStatusActive {
			return apperrors.NewAlreadyClaimed(sessionID)
		}
		return apperrors.NewNotClaimable(sessionID)
	}

	s.afterClaim(ctx, session, identity.UserID, false, events.UserActor(identity))
	return nil
}

// Transfer hands an active session from its current agent to another agent.
func (s *SessionService) Transfer(ctx context.Context, identity domain.Identity, sessionID, targetAgentID, reason string) error {
	if !identity.Role.Staff() {
		return apperrors.NewForbidden("only agents transfer sessions")
	}
	if targetAgentID == "" {
		return apperrors.NewValidationError("target agent required", nil)
	}
	if targetAgentID == identity.UserID {
		return apperrors.NewValidationError("cannot transfer to yourself", nil)
	}

	session, err := sessionForTenant(ctx, s.sessions, identity.TenantID, sessionID)
	if err != nil {
		return err
	}
	if session.Status != domain.SessionStatusActive {
		return apperrors.NewConflict("session is not active", map[string]any{"session_id": sessionID})
	}
	if session.AgentID == nil || *session.AgentID != identity.UserID {
		return apperrors.NewForbidden("only the assigned agent can transfer")
	}

	var reasonPtr *string
	if reason != "" {
		reasonPtr = &reason
	}
	ok, err := s.sessions.Transfer(ctx, sessionID, identity.UserID, targetAgentID, reasonPtr)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.NewConflict("session changed hands", map[string]any{"session_id": sessionID})
	}

	s.systemNote(ctx, session.TenantID, sessionID,
		fmt.Sprintf("Session transferred to agent %s", targetAgentID))

	if s.broadcast != nil {
		s.broadcast.ToSession(sessionID, ws.Push(ws.FrameTransferred, ws.TransferredEvent{
			SessionID:   sessionID,
			FromAgentID: identity.UserID,
			ToAgentID:   targetAgentID,
			Reason:      reason,
		}))
		s.broadcast.UnsubscribeUser(session.TenantID, identity.UserID, sessionID)
		s.broadcast.SubscribeUser(session.TenantID, targetAgentID, sessionID)
		s.broadcast.ToUser(session.TenantID, targetAgentID, ws.Push(ws.FrameTransferIncoming, ws.TransferIncomingEvent{
			SessionID:   sessionID,
			FromAgentID: identity.UserID,
			CustomerID:  session.CustomerID,
			Reason:      reason,
		}))
	}

	s.publishEvent(ctx, events.Event{
		Type:      events.EventSessionTransferred,
		TenantID:  session.TenantID,
		SessionID: sessionID,
		Actor:     events.UserActor(identity),
		Payload: events.SessionTransferredPayload{
			FromAgentID: identity.UserID,
			ToAgentID:   targetAgentID,
			Reason:      reason,
		},
	})
	return nil
}

// Close finishes a session. Closing an already-closed session is a success
// no-op; nothing is re-broadcast or re-published.
func (s *SessionService) Close(ctx context.Context, identity domain.Identity, sessionID string) error {
	session, err := sessionForTenant(ctx, s.sessions, identity.TenantID, sessionID)
	if err != nil {
		return err
	}
	if !session.IsParticipant(identity.UserID) && identity.Role != domain.RoleAdmin {
		return apperrors.NewNotParticipant(sessionID)
	}

	ok, err := s.sessions.Close(ctx, sessionID, time.Now())
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	if s.timers != nil {
		s.timers.Cancel(sessionID)
	}
	s.systemNote(ctx, session.TenantID, sessionID, "Session closed")

	closedBy := identity.UserID
	if s.broadcast != nil {
		s.broadcast.ToSession(sessionID, ws.Push(ws.FrameClosed, ws.ClosedEvent{
			SessionID: sessionID,
			ClosedBy:  &closedBy,
		}))
		s.broadcast.DropChannel(sessionID)
	}

	if err := s.queue.Recompute(ctx, session.TenantID); err != nil {
		s.logger.Warn("queue recompute after close failed",
			zap.String("tenant", session.TenantID), zap.Error(err))
	}

	s.publishEvent(ctx, events.Event{
		Type:      events.EventSessionClosed,
		TenantID:  session.TenantID,
		SessionID: sessionID,
		Actor:     events.UserActor(identity),
		Payload:   events.SessionClosedPayload{ClosedBy: &closedBy},
	})
	return nil
}

// Rate records the customer's satisfaction rating. Status is untouched, so
// rating after close works.
func (s *SessionService) Rate(ctx context.Context, identity domain.Identity, sessionID string, rating int) error {
	if rating < 1 || rating > 5 {
		return apperrors.NewValidationError("rating must be between 1 and 5", map[string]any{"rating": rating})
	}

	session, err := sessionForTenant(ctx, s.sessions, identity.TenantID, sessionID)
	if err != nil {
		return err
	}
	if session.CustomerID != identity.UserID {
		return apperrors.NewNotParticipant(sessionID)
	}

	ok, err := s.sessions.Rate(ctx, sessionID, rating)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.NewNotFound("session", map[string]any{"session_id": sessionID})
	}

	s.publishEvent(ctx, events.Event{
		Type:      events.EventSessionRated,
		TenantID:  session.TenantID,
		SessionID: sessionID,
		Actor:     events.UserActor(identity),
		Payload:   events.SessionRatedPayload{Rating: rating},
	})
	return nil
}

// List returns session summaries visible to the caller. Staff browse the
// whole tenant, customers only their own sessions.
func (s *SessionService) List(ctx context.Context, identity domain.Identity, filter repository.SessionFilter) ([]domain.ChatSession, error) {
	filter.TenantID = identity.TenantID
	if !identity.Role.Staff() {
		filter.CustomerID = &identity.UserID
	}
	return s.sessions.ListWithFilter(ctx, filter)
}

// Get returns a single session. Transcript-level detail is restricted to
// participants and admins, same as History.
func (s *SessionService) Get(ctx context.Context, identity domain.Identity, sessionID string) (*domain.ChatSession, error) {
	session, err := sessionForTenant(ctx, s.sessions, identity.TenantID, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.IsParticipant(identity.UserID) && identity.Role != domain.RoleAdmin {
		return nil, apperrors.NewNotFound("session", map[string]any{"session_id": sessionID})
	}
	return session, nil
}

// Join re-subscribes a participant to an open session's channel after a
// reconnect.
func (s *SessionService) Join(ctx context.Context, identity domain.Identity, sessionID string) error {
	session, err := sessionForTenant(ctx, s.sessions, identity.TenantID, sessionID)
	if err != nil {
		return err
	}
	if !session.Open() {
		return apperrors.NewConflict("session is closed", map[string]any{"session_id": sessionID})
	}
	if !session.IsParticipant(identity.UserID) && identity.Role != domain.RoleAdmin {
		return apperrors.NewNotParticipant(sessionID)
	}

	if s.broadcast != nil {
		s.broadcast.SubscribeUser(identity.TenantID, identity.UserID, sessionID)
	}
	return nil
}

// Direct opens an agent-to-agent conversation, reusing the open one between
// the pair when it exists. Direct sessions are born ACTIVE and never queue.
func (s *SessionService) Direct(ctx context.Context, identity domain.Identity, targetUserID string) (*domain.ChatSession, error) {
	if !identity.Role.Staff() {
		return nil, apperrors.NewForbidden("direct sessions are staff only")
	}
	if targetUserID == "" || targetUserID == identity.UserID {
		return nil, apperrors.NewValidationError("invalid target user", nil)
	}

	existing, err := s.sessions.FindOpenDirect(ctx, identity.TenantID, identity.UserID, targetUserID)
	if err == nil {
		s.subscribePair(identity.TenantID, existing.ID, identity.UserID, targetUserID)
		return existing, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	now := time.Now()
	agentID := targetUserID
	session := &domain.ChatSession{
		ID:          uuid.NewString(),
		TenantID:    identity.TenantID,
		Kind:        domain.SessionKindDirect,
		CustomerID:  identity.UserID,
		AgentID:     &agentID,
		Status:      domain.SessionStatusActive,
		ActivatedAt: &now,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, err
	}
	s.subscribePair(identity.TenantID, session.ID, identity.UserID, targetUserID)

	s.publishEvent(ctx, events.Event{
		Type:      events.EventSessionStarted,
		TenantID:  session.TenantID,
		SessionID: session.ID,
		Actor:     events.UserActor(identity),
		Payload: events.SessionStartedPayload{
			CustomerID: session.CustomerID,
			Kind:       session.Kind,
		},
	})
	return session, nil
}

// afterClaim runs the side effects shared by manual claims and
// auto-assignment once the conditional update has been won.
func (s *SessionService) afterClaim(ctx context.Context, session *domain.ChatSession, agentID string, auto bool, actor events.Actor) {
	if s.timers != nil {
		s.timers.Cancel(session.ID)
	}
	s.systemNote(ctx, session.TenantID, session.ID,
		fmt.Sprintf("Agent %s joined the conversation", agentID))

	if s.broadcast != nil {
		s.broadcast.SubscribeUser(session.TenantID, agentID, session.ID)
		s.broadcast.ToSession(session.ID, ws.Push(ws.FrameAgentJoined, ws.AgentJoinedEvent{
			SessionID: session.ID,
			AgentID:   agentID,
			Auto:      auto,
		}))
		s.broadcast.ToTenantAgents(session.TenantID, ws.Push(ws.FrameRequestClaimed, ws.RequestClaimedEvent{
			SessionID: session.ID,
			AgentID:   agentID,
		}))
	}

	if err := s.queue.Recompute(ctx, session.TenantID); err != nil {
		s.logger.Warn("queue recompute after claim failed",
			zap.String("tenant", session.TenantID), zap.Error(err))
	}

	s.publishEvent(ctx, events.Event{
		Type:      events.EventSessionClaimed,
		TenantID:  session.TenantID,
		SessionID: session.ID,
		Actor:     actor,
		Payload:   events.SessionClaimedPayload{AgentID: agentID, Auto: auto},
	})
}

func (s *SessionService) subscribePair(tenantID, sessionID, userA, userB string) {
	if s.broadcast == nil {
		return
	}
	s.broadcast.SubscribeUser(tenantID, userA, sessionID)
	s.broadcast.SubscribeUser(tenantID, userB, sessionID)
}

// systemNote best-effort records a hand-off annotation. The lifecycle
// transition already committed, so a failed note only logs.
func (s *SessionService) systemNote(ctx context.Context, tenantID, sessionID, body string) {
	if s.messenger == nil {
		return
	}
	if _, err := s.messenger.AppendSystem(ctx, tenantID, sessionID, body); err != nil {
		s.logger.Warn("system note failed",
			zap.String("session", sessionID), zap.Error(err))
	}
}

func (s *SessionService) publishEvent(ctx context.Context, event events.Event) {
	publishEvent(ctx, s.dispatcher, s.metrics, event)
}

// sessionForTenant fetches a session and hides other tenants' sessions
// behind NOT_FOUND.
func sessionForTenant(ctx context.Context, sessions repository.SessionRepository, tenantID, sessionID string) (*domain.ChatSession, error) {
	session, err := sessions.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("session", map[string]any{"session_id": sessionID})
		}
		return nil, err
	}
	if session.TenantID != tenantID {
		return nil, apperrors.NewNotFound("session", map[string]any{"session_id": sessionID})
	}
	return session, nil
}

func publishEvent(ctx context.Context, dispatcher events.Dispatcher, metrics *observability.Metrics, event events.Event) {
	if dispatcher == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if metrics != nil {
		metrics.RecordEvent(string(event.Type))
	}
	_ = dispatcher.Publish(ctx, event)
}
