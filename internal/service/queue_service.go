package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/kzinvogon/apoyar-chat/internal/domain"
	"github.com/kzinvogon/apoyar-chat/internal/repository"
	"github.com/kzinvogon/apoyar-chat/internal/ws"
)

// QueueService keeps per-tenant queue positions contiguous. Positions are
// always derived from (created_at, id) order over the WAITING set, never
// counted incrementally, so concurrent starts settle deterministically.
type QueueService struct {
	sessions  repository.SessionRepository
	broadcast Broadcaster
	logger    *zap.Logger
}

// NewQueueService constructs the service.
func NewQueueService(sessions repository.SessionRepository, broadcast Broadcaster, logger *zap.Logger) *QueueService {
	return &QueueService{sessions: sessions, broadcast: broadcast, logger: logger}
}

// Enqueue stamps the session's 1-based rank among the tenant's waiting
// sessions and records it on the passed session.
func (q *QueueService) Enqueue(ctx context.Context, session *domain.ChatSession) error {
	waiting, err := q.sessions.ListWaiting(ctx, session.TenantID)
	if err != nil {
		return err
	}

	position := 0
	for i, candidate := range waiting {
		if candidate.ID == session.ID {
			position = i + 1
			break
		}
	}
	if position == 0 {
		// Claimed or closed between insert and listing; nothing to stamp.
		return nil
	}

	if err := q.sessions.UpdateQueuePosition(ctx, session.ID, position); err != nil {
		return err
	}
	session.QueuePosition = position
	return nil
}

// Recompute rewrites contiguous positions 1..N for the tenant's waiting
// sessions and pushes an update to each session that moved. Runs after every
// claim and close.
func (q *QueueService) Recompute(ctx context.Context, tenantID string) error {
	waiting, err := q.sessions.ListWaiting(ctx, tenantID)
	if err != nil {
		return err
	}

	for i, session := range waiting {
		want := i + 1
		if session.QueuePosition == want {
			continue
		}
		if err := q.sessions.UpdateQueuePosition(ctx, session.ID, want); err != nil {
			return err
		}
		if q.broadcast != nil {
			q.broadcast.ToSession(session.ID, ws.Push(ws.FrameQueuePosition, ws.QueuePositionEvent{
				SessionID:     session.ID,
				QueuePosition: want,
			}))
		}
	}
	return nil
}
