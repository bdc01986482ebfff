package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/kzinvogon/apoyar-chat/internal/service"
)

// RequeueWorker periodically re-arms auto-assign timers for WAITING sessions
// that lost theirs. Sessions stranded by a restart or by assignment firing
// with nobody online get picked up on the next sweep instead of staying
// manual forever.
type RequeueWorker struct {
	sessions *service.SessionService
	interval time.Duration
	logger   *zap.Logger
}

// NewRequeueWorker constructs the sweeper.
func NewRequeueWorker(sessions *service.SessionService, interval time.Duration, logger *zap.Logger) *RequeueWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &RequeueWorker{sessions: sessions, interval: interval, logger: logger}
}

// Run sweeps until the context is cancelled. Blocks; start it in a
// goroutine.
func (w *RequeueWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *RequeueWorker) sweep(ctx context.Context) {
	rearmed, err := w.sessions.RearmStranded(ctx)
	if err != nil {
		w.logger.Warn("requeue sweep failed", zap.Error(err))
		return
	}
	if rearmed > 0 {
		w.logger.Info("requeue sweep re-armed timers", zap.Int("count", rearmed))
	}
}
