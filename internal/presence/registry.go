package presence

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kzinvogon/apoyar-chat/internal/domain"
)

// OnlineAgent is a staff user collapsed across their open connections.
// ConnectedAt is the earliest connection time and drives the assignment
// tie-break together with the user id.
type OnlineAgent struct {
	UserID      string
	Role        domain.Role
	ConnectedAt time.Time
	Connections int
}

// Registry tracks which users are connected per tenant, keyed by connection
// id so duplicate tabs coexist. Each tenant has its own critical section;
// operations on different tenants never contend.
type Registry struct {
	mu      sync.Mutex
	tenants map[string]*tenantPresence

	mirror *Mirror
	logger *zap.Logger
}

type tenantPresence struct {
	mu      sync.RWMutex
	entries map[string]domain.PresenceEntry
}

// NewRegistry builds a registry. The mirror may be nil when Redis is not
// configured; the registry alone stays authoritative either way.
func NewRegistry(mirror *Mirror, logger *zap.Logger) *Registry {
	return &Registry{
		tenants: make(map[string]*tenantPresence),
		mirror:  mirror,
		logger:  logger,
	}
}

func (r *Registry) tenant(tenantID string) *tenantPresence {
	r.mu.Lock()
	defer r.mu.Unlock()
	tp, ok := r.tenants[tenantID]
	if !ok {
		tp = &tenantPresence{entries: make(map[string]domain.PresenceEntry)}
		r.tenants[tenantID] = tp
	}
	return tp
}

// Register records a connection and returns the tenant's updated snapshot.
func (r *Registry) Register(ctx context.Context, entry domain.PresenceEntry) []domain.PresenceEntry {
	tp := r.tenant(entry.TenantID)

	tp.mu.Lock()
	tp.entries[entry.ConnectionID] = entry
	snapshot := snapshotLocked(tp)
	tp.mu.Unlock()

	if r.mirror != nil {
		if err := r.mirror.Add(ctx, entry); err != nil {
			r.logger.Warn("presence mirror add failed",
				zap.String("tenant", entry.TenantID),
				zap.String("user", entry.UserID),
				zap.Error(err))
		}
	}
	return snapshot
}

// Unregister drops a connection and returns the updated snapshot. The mirror
// entry is removed only when this was the user's last connection.
func (r *Registry) Unregister(ctx context.Context, tenantID, connectionID string) ([]domain.PresenceEntry, bool) {
	tp := r.tenant(tenantID)

	tp.mu.Lock()
	entry, ok := tp.entries[connectionID]
	if !ok {
		snapshot := snapshotLocked(tp)
		tp.mu.Unlock()
		return snapshot, false
	}
	delete(tp.entries, connectionID)

	lastOfUser := true
	for _, other := range tp.entries {
		if other.UserID == entry.UserID {
			lastOfUser = false
			break
		}
	}
	snapshot := snapshotLocked(tp)
	tp.mu.Unlock()

	if lastOfUser && r.mirror != nil {
		if err := r.mirror.Remove(ctx, tenantID, entry.UserID); err != nil {
			r.logger.Warn("presence mirror remove failed",
				zap.String("tenant", tenantID),
				zap.String("user", entry.UserID),
				zap.Error(err))
		}
	}
	return snapshot, true
}

// Snapshot returns the tenant's connections ordered by connect time.
func (r *Registry) Snapshot(tenantID string) []domain.PresenceEntry {
	tp := r.tenant(tenantID)
	tp.mu.RLock()
	defer tp.mu.RUnlock()
	return snapshotLocked(tp)
}

// OnlineAgents returns the tenant's staff collapsed per user, ordered by
// earliest connect time then user id. The stable order makes assignment
// tie-breaks deterministic.
func (r *Registry) OnlineAgents(tenantID string) []OnlineAgent {
	tp := r.tenant(tenantID)
	tp.mu.RLock()
	defer tp.mu.RUnlock()

	byUser := make(map[string]*OnlineAgent)
	for _, entry := range tp.entries {
		if !entry.Role.Staff() {
			continue
		}
		agent, ok := byUser[entry.UserID]
		if !ok {
			byUser[entry.UserID] = &OnlineAgent{
				UserID:      entry.UserID,
				Role:        entry.Role,
				ConnectedAt: entry.ConnectedAt,
				Connections: 1,
			}
			continue
		}
		agent.Connections++
		if entry.ConnectedAt.Before(agent.ConnectedAt) {
			agent.ConnectedAt = entry.ConnectedAt
		}
	}

	agents := make([]OnlineAgent, 0, len(byUser))
	for _, agent := range byUser {
		agents = append(agents, *agent)
	}
	sort.Slice(agents, func(i, j int) bool {
		if !agents[i].ConnectedAt.Equal(agents[j].ConnectedAt) {
			return agents[i].ConnectedAt.Before(agents[j].ConnectedAt)
		}
		return agents[i].UserID < agents[j].UserID
	})
	return agents
}

func snapshotLocked(tp *tenantPresence) []domain.PresenceEntry {
	entries := make([]domain.PresenceEntry, 0, len(tp.entries))
	for _, entry := range tp.entries {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].ConnectedAt.Equal(entries[j].ConnectedAt) {
			return entries[i].ConnectedAt.Before(entries[j].ConnectedAt)
		}
		if entries[i].UserID != entries[j].UserID {
			return entries[i].UserID < entries[j].UserID
		}
		return entries[i].ConnectionID < entries[j].ConnectionID
	})
	return entries
}
