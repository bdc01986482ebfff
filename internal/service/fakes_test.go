package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/kzinvogon/apoyar-chat/internal/domain"
	"github.com/kzinvogon/apoyar-chat/internal/events"
	"github.com/kzinvogon/apoyar-chat/internal/observability"
	"github.com/kzinvogon/apoyar-chat/internal/presence"
	"github.com/kzinvogon/apoyar-chat/internal/repository"
	"github.com/kzinvogon/apoyar-chat/internal/ws"
)

var fakeEpoch = time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)

// memorySessionRepo mimics the Postgres repository, including the
// conditional-update semantics the services rely on: claim, transfer and
// close mutate only when the guarded state still holds.
type memorySessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*domain.ChatSession
	seq      int
}

func newMemorySessionRepo() *memorySessionRepo {
	return &memorySessionRepo{sessions: make(map[string]*domain.ChatSession)}
}

func (r *memorySessionRepo) Create(_ context.Context, session *domain.ChatSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	session.CreatedAt = fakeEpoch.Add(time.Duration(r.seq) * time.Second)
	stored := *session
	r.sessions[session.ID] = &stored
	return nil
}

func (r *memorySessionRepo) GetByID(_ context.Context, id string) (*domain.ChatSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := *session
	return &copied, nil
}

func (r *memorySessionRepo) FindOpenSupport(_ context.Context, tenantID, customerID string) (*domain.ChatSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var found *domain.ChatSession
	for _, session := range r.sessions {
		if session.TenantID != tenantID || session.CustomerID != customerID {
			continue
		}
		if session.Kind != domain.SessionKindSupport || !session.Open() {
			continue
		}
		if found == nil || session.CreatedAt.Before(found.CreatedAt) {
			found = session
		}
	}
	if found == nil {
		return nil, pgx.ErrNoRows
	}
	copied := *found
	return &copied, nil
}

func (r *memorySessionRepo) FindOpenDirect(_ context.Context, tenantID, userA, userB string) (*domain.ChatSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, session := range r.sessions {
		if session.TenantID != tenantID || session.Kind != domain.SessionKindDirect {
			continue
		}
		if session.Status != domain.SessionStatusActive || session.AgentID == nil {
			continue
		}
		pair := session.CustomerID == userA && *session.AgentID == userB ||
			session.CustomerID == userB && *session.AgentID == userA
		if pair {
			copied := *session
			return &copied, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *memorySessionRepo) ListWithFilter(_ context.Context, filter repository.SessionFilter) ([]domain.ChatSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.ChatSession
	for _, session := range r.sessions {
		if session.TenantID != filter.TenantID {
			continue
		}
		if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, session.Status) {
			continue
		}
		if filter.CustomerID != nil && session.CustomerID != *filter.CustomerID {
			continue
		}
		if filter.AgentID != nil && (session.AgentID == nil || *session.AgentID != *filter.AgentID) {
			continue
		}
		out = append(out, *session)
	}
	sortSessions(out)
	return out, nil
}

func (r *memorySessionRepo) ListWaiting(_ context.Context, tenantID string) ([]domain.ChatSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.ChatSession
	for _, session := range r.sessions {
		if session.TenantID == tenantID && session.Status == domain.SessionStatusWaiting {
			out = append(out, *session)
		}
	}
	sortSessions(out)
	return out, nil
}

func (r *memorySessionRepo) ListWaitingBefore(_ context.Context, cutoff time.Time) ([]domain.ChatSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.ChatSession
	for _, session := range r.sessions {
		if session.Status == domain.SessionStatusWaiting && session.CreatedAt.Before(cutoff) {
			out = append(out, *session)
		}
	}
	sortSessions(out)
	return out, nil
}

func (r *memorySessionRepo) Claim(_ context.Context, sessionID, agentID string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[sessionID]
	if !ok || session.Status != domain.SessionStatusWaiting {
		return false, nil
	}
	agent := agentID
	activated := at
	session.AgentID = &agent
	session.Status = domain.SessionStatusActive
	session.ActivatedAt = &activated
	session.QueuePosition = 0
	return true, nil
}

func (r *memorySessionRepo) Transfer(_ context.Context, sessionID, fromAgentID, toAgentID string, reason *string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[sessionID]
	if !ok || session.Status != domain.SessionStatusActive {
		return false, nil
	}
	if session.AgentID == nil || *session.AgentID != fromAgentID {
		return false, nil
	}
	prior := *session.AgentID
	target := toAgentID
	session.PriorAgentID = &prior
	session.AgentID = &target
	session.TransferReason = reason
	return true, nil
}

func (r *memorySessionRepo) Close(_ context.Context, sessionID string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[sessionID]
	if !ok || !session.Open() {
		return false, nil
	}
	closed := at
	session.Status = domain.SessionStatusClosed
	session.ClosedAt = &closed
	return true, nil
}

func (r *memorySessionRepo) Rate(_ context.Context, sessionID string, rating int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[sessionID]
	if !ok {
		return false, nil
	}
	value := rating
	session.Rating = &value
	return true, nil
}

func (r *memorySessionRepo) UpdateQueuePosition(_ context.Context, sessionID string, position int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[sessionID]
	if ok && session.Status == domain.SessionStatusWaiting {
		session.QueuePosition = position
	}
	return nil
}

func (r *memorySessionRepo) ActiveCounts(_ context.Context, tenantID string, agentIDs []string) (map[string]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	wanted := make(map[string]struct{}, len(agentIDs))
	for _, id := range agentIDs {
		wanted[id] = struct{}{}
	}
	counts := make(map[string]int)
	for _, session := range r.sessions {
		if session.TenantID != tenantID || session.Status != domain.SessionStatusActive {
			continue
		}
		if session.AgentID == nil {
			continue
		}
		if _, ok := wanted[*session.AgentID]; ok {
			counts[*session.AgentID]++
		}
	}
	return counts, nil
}

func containsStatus(statuses []domain.SessionStatus, status domain.SessionStatus) bool {
	for _, candidate := range statuses {
		if candidate == status {
			return true
		}
	}
	return false
}

func sortSessions(sessions []domain.ChatSession) {
	sort.Slice(sessions, func(i, j int) bool {
		if !sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
		}
		return sessions[i].ID < sessions[j].ID
	})
}

// memoryMessageRepo is an append-only transcript store. createErr, when set,
// simulates a persistence failure.
type memoryMessageRepo struct {
	mu        sync.Mutex
	messages  []domain.ChatMessage
	seq       int
	createErr error
}

func newMemoryMessageRepo() *memoryMessageRepo {
	return &memoryMessageRepo{}
}

func (r *memoryMessageRepo) Create(_ context.Context, message *domain.ChatMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	r.seq++
	message.CreatedAt = fakeEpoch.Add(time.Duration(r.seq) * time.Millisecond)
	r.messages = append(r.messages, *message)
	return nil
}

func (r *memoryMessageRepo) ListBySession(_ context.Context, sessionID string, limit, offset int) ([]domain.ChatMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.ChatMessage
	for _, message := range r.messages {
		if message.SessionID == sessionID {
			out = append(out, message)
		}
	}
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (r *memoryMessageRepo) MarkRead(_ context.Context, sessionID, readerID string, at time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for i := range r.messages {
		message := &r.messages[i]
		if message.SessionID != sessionID || message.ReadAt != nil {
			continue
		}
		if message.SenderID != nil && *message.SenderID == readerID {
			continue
		}
		stamp := at
		message.ReadAt = &stamp
		count++
	}
	return count, nil
}

func (r *memoryMessageRepo) bySession(sessionID string) []domain.ChatMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.ChatMessage
	for _, message := range r.messages {
		if message.SessionID == sessionID {
			out = append(out, message)
		}
	}
	return out
}

// broadcastCall records one Broadcaster invocation.
type broadcastCall struct {
	op        string
	tenantID  string
	userID    string
	sessionID string
	frame     ws.Frame
}

type recordingBroadcaster struct {
	mu    sync.Mutex
	calls []broadcastCall
}

func (b *recordingBroadcaster) record(call broadcastCall) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, call)
}

func (b *recordingBroadcaster) ToTenant(tenantID string, frame ws.Frame) {
	b.record(broadcastCall{op: "tenant", tenantID: tenantID, frame: frame})
}

func (b *recordingBroadcaster) ToTenantAgents(tenantID string, frame ws.Frame) {
	b.record(broadcastCall{op: "tenant_agents", tenantID: tenantID, frame: frame})
}

func (b *recordingBroadcaster) ToSession(sessionID string, frame ws.Frame) {
	b.record(broadcastCall{op: "session", sessionID: sessionID, frame: frame})
}

func (b *recordingBroadcaster) ToSessionExceptUser(sessionID, userID string, frame ws.Frame) {
	b.record(broadcastCall{op: "session_except", sessionID: sessionID, userID: userID, frame: frame})
}

func (b *recordingBroadcaster) ToUser(tenantID, userID string, frame ws.Frame) {
	b.record(broadcastCall{op: "user", tenantID: tenantID, userID: userID, frame: frame})
}

func (b *recordingBroadcaster) SubscribeUser(tenantID, userID, sessionID string) {
	b.record(broadcastCall{op: "subscribe", tenantID: tenantID, userID: userID, sessionID: sessionID})
}

func (b *recordingBroadcaster) UnsubscribeUser(tenantID, userID, sessionID string) {
	b.record(broadcastCall{op: "unsubscribe", tenantID: tenantID, userID: userID, sessionID: sessionID})
}

func (b *recordingBroadcaster) DropChannel(sessionID string) {
	b.record(broadcastCall{op: "drop_channel", sessionID: sessionID})
}

func (b *recordingBroadcaster) framesOf(frameType ws.FrameType) []broadcastCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []broadcastCall
	for _, call := range b.calls {
		if call.frame.Type == frameType {
			out = append(out, call)
		}
	}
	return out
}

func (b *recordingBroadcaster) opsOf(op string) []broadcastCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []broadcastCall
	for _, call := range b.calls {
		if call.op == op {
			out = append(out, call)
		}
	}
	return out
}

// captureDispatcher records published lifecycle events.
type captureDispatcher struct {
	mu     sync.Mutex
	events []events.Event
}

func (d *captureDispatcher) Publish(_ context.Context, event events.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, event)
	return nil
}

func (d *captureDispatcher) Subscribe(events.EventType, events.EventHandler) {}

func (d *captureDispatcher) ofType(eventType events.EventType) []events.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []events.Event
	for _, event := range d.events {
		if event.Type == eventType {
			out = append(out, event)
		}
	}
	return out
}

type staticAgents struct {
	mu     sync.Mutex
	agents []presence.OnlineAgent
}

func (s *staticAgents) OnlineAgents(string) []presence.OnlineAgent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]presence.OnlineAgent{}, s.agents...)
}

func (s *staticAgents) set(agents ...presence.OnlineAgent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents = agents
}

type sessionFixture struct {
	repo     *memorySessionRepo
	messages *memoryMessageRepo
	cast     *recordingBroadcaster
	bus      *captureDispatcher
	timers   *TimerRegistry
	agents   *staticAgents
	metrics  *observability.Metrics
	queue    *QueueService
	msgSvc   *MessageService
	svc      *SessionService
}

func newSessionFixture(assignDelay time.Duration) *sessionFixture {
	repo := newMemorySessionRepo()
	messages := newMemoryMessageRepo()
	cast := &recordingBroadcaster{}
	bus := &captureDispatcher{}
	agents := &staticAgents{}
	metrics := observability.NewMetrics()
	logger := zap.NewNop()

	msgSvc := NewMessageService(MessageDependencies{
		SessionRepo: repo,
		MessageRepo: messages,
		Broadcast:   cast,
		Dispatcher:  bus,
		Metrics:     metrics,
		Logger:      logger,
	})
	queue := NewQueueService(repo, cast, logger)
	timers := NewTimerRegistry()

	svc := NewSessionService(SessionDependencies{
		SessionRepo: repo,
		Queue:       queue,
		Messenger:   msgSvc,
		Timers:      timers,
		Agents:      agents,
		Broadcast:   cast,
		Dispatcher:  bus,
		Metrics:     metrics,
		Logger:      logger,
		AssignDelay: assignDelay,
	})

	return &sessionFixture{
		repo:     repo,
		messages: messages,
		cast:     cast,
		bus:      bus,
		timers:   timers,
		agents:   agents,
		metrics:  metrics,
		queue:    queue,
		msgSvc:   msgSvc,
		svc:      svc,
	}
}

func customerIdentity(userID string) domain.Identity {
	return domain.Identity{TenantID: "acme", UserID: userID, Role: domain.RoleCustomer}
}

func agentIdentity(userID string) domain.Identity {
	return domain.Identity{TenantID: "acme", UserID: userID, Role: domain.RoleAgent}
}

func adminIdentity(userID string) domain.Identity {
	return domain.Identity{TenantID: "acme", UserID: userID, Role: domain.RoleAdmin}
}
