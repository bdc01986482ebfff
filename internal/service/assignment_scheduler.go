package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kzinvogon/apoyar-chat/internal/domain"
	"github.com/kzinvogon/apoyar-chat/internal/events"
	"github.com/kzinvogon/apoyar-chat/internal/presence"
	"github.com/kzinvogon/apoyar-chat/internal/ws"
)

// TimerRegistry owns the pending auto-assign timers, keyed by session id.
// Cancellation is best-effort: a timer that already entered its callback
// re-checks session state from the store before acting.
type TimerRegistry struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewTimerRegistry builds an empty registry.
func NewTimerRegistry() *TimerRegistry {
	return &TimerRegistry{timers: make(map[string]*time.Timer)}
}

// Arm schedules fire after delay, replacing any pending timer for the id.
func (r *TimerRegistry) Arm(sessionID string, delay time.Duration, fire func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.timers[sessionID]; ok {
		existing.Stop()
	}

	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		r.mu.Lock()
		if r.timers[sessionID] == timer {
			delete(r.timers, sessionID)
		}
		r.mu.Unlock()
		fire()
	})
	r.timers[sessionID] = timer
}

// Cancel stops the session's pending timer. Returns false when no timer was
// pending or its callback already started.
func (r *TimerRegistry) Cancel(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	timer, ok := r.timers[sessionID]
	if !ok {
		return false
	}
	delete(r.timers, sessionID)
	return timer.Stop()
}

// Armed reports whether the session has a pending timer.
func (r *TimerRegistry) Armed(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.timers[sessionID]
	return ok
}

// Pending returns the number of armed timers.
func (r *TimerRegistry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.timers)
}

// ArmAutoAssign schedules the auto-assignment attempt for a waiting session.
func (s *SessionService) ArmAutoAssign(sessionID string) {
	if s.timers == nil {
		return
	}
	s.timers.Arm(sessionID, s.assignDelay, func() {
		s.autoAssign(sessionID)
	})
}

// autoAssign is the timer fire path. No client waits on it, so every failure
// is logged and leaves the session WAITING for a manual claim or the next
// sweep.
func (s *SessionService) autoAssign(sessionID string) {
	ctx := context.Background()

	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		s.logger.Warn("auto-assign lookup failed",
			zap.String("session", sessionID), zap.Error(err))
		return
	}
	if session.Status != domain.SessionStatusWaiting {
		// A manual claim or close won while the timer was in flight.
		return
	}
	if s.agents == nil {
		return
	}

	agents := s.agents.OnlineAgents(session.TenantID)
	if len(agents) == 0 {
		s.logger.Info("no agents online for auto-assign",
			zap.String("tenant", session.TenantID), zap.String("session", sessionID))
		return
	}

	best, err := s.pickAgent(ctx, session.TenantID, agents)
	if err != nil {
		s.logger.Warn("auto-assign load lookup failed",
			zap.String("session", sessionID), zap.Error(err))
		return
	}

	won, err := s.sessions.Claim(ctx, sessionID, best.UserID, time.Now())
	if err != nil {
		s.logger.Warn("auto-assign claim failed",
			zap.String("session", sessionID), zap.Error(err))
		return
	}
	if s.metrics != nil {
		s.metrics.RecordClaim(won)
	}
	if !won {
		return
	}
	if s.metrics != nil {
		s.metrics.RecordAutoAssign()
	}

	s.afterClaim(ctx, session, best.UserID, true, events.SystemActor())
	if s.broadcast != nil {
		s.broadcast.ToUser(session.TenantID, best.UserID, ws.Push(ws.FrameAutoAssigned, ws.AutoAssignedEvent{
			SessionID:  sessionID,
			CustomerID: session.CustomerID,
		}))
	}
	s.logger.Info("session auto-assigned",
		zap.String("session", sessionID), zap.String("agent", best.UserID))
}

// pickAgent selects the online agent with the fewest active sessions. Ties
// go to the agent connected longest, then lowest user id; OnlineAgents
// already returns that order, so the first strict minimum wins.
func (s *SessionService) pickAgent(ctx context.Context, tenantID string, agents []presence.OnlineAgent) (presence.OnlineAgent, error) {
	ids := make([]string, len(agents))
	for i, agent := range agents {
		ids[i] = agent.UserID
	}
	counts, err := s.sessions.ActiveCounts(ctx, tenantID, ids)
	if err != nil {
		return presence.OnlineAgent{}, err
	}

	best := agents[0]
	bestCount := counts[best.UserID]
	for _, agent := range agents[1:] {
		if counts[agent.UserID] < bestCount {
			best = agent
			bestCount = counts[agent.UserID]
		}
	}
	return best, nil
}

// RearmStranded re-arms auto-assign timers for WAITING sessions that have
// none, which happens after a restart or when assignment fired with nobody
// online. Returns how many timers were armed.
func (s *SessionService) RearmStranded(ctx context.Context) (int, error) {
	if s.timers == nil {
		return 0, nil
	}

	waiting, err := s.sessions.ListWaitingBefore(ctx, time.Now())
	if err != nil {
		return 0, err
	}

	rearmed := 0
	for _, session := range waiting {
		if s.timers.Armed(session.ID) {
			continue
		}
		s.ArmAutoAssign(session.ID)
		rearmed++
	}
	return rearmed, nil
}
