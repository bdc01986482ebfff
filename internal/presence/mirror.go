package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kzinvogon/apoyar-chat/internal/domain"
)

const mirrorTTL = 24 * time.Hour

// MirrorEntry is the user-level record stored per tenant in Redis. The
// mirror carries one field per user regardless of open connection count.
type MirrorEntry struct {
	UserID      string      `json:"user_id"`
	Role        domain.Role `json:"role"`
	ConnectedAt time.Time   `json:"connected_at"`
}

// Mirror duplicates presence into a per-tenant Redis hash so sibling
// processes and support tooling can read who is online without asking this
// instance.
type Mirror struct {
	client *redis.Client
}

// NewMirror wraps a Redis client.
func NewMirror(client *redis.Client) *Mirror {
	return &Mirror{client: client}
}

func mirrorKey(tenantID string) string {
	return fmt.Sprintf("chat:tenant:%s:online", tenantID)
}

// Add upserts the user's field in the tenant hash.
func (m *Mirror) Add(ctx context.Context, entry domain.PresenceEntry) error {
	payload, err := json.Marshal(MirrorEntry{
		UserID:      entry.UserID,
		Role:        entry.Role,
		ConnectedAt: entry.ConnectedAt,
	})
	if err != nil {
		return err
	}

	key := mirrorKey(entry.TenantID)
	if err := m.client.HSet(ctx, key, entry.UserID, payload).Err(); err != nil {
		return err
	}
	return m.client.Expire(ctx, key, mirrorTTL).Err()
}

// Remove deletes the user's field from the tenant hash.
func (m *Mirror) Remove(ctx context.Context, tenantID, userID string) error {
	return m.client.HDel(ctx, mirrorKey(tenantID), userID).Err()
}

// Online reads the tenant hash. Fields that fail to decode are skipped.
func (m *Mirror) Online(ctx context.Context, tenantID string) ([]MirrorEntry, error) {
	raw, err := m.client.HGetAll(ctx, mirrorKey(tenantID)).Result()
	if err != nil {
		return nil, err
	}

	entries := make([]MirrorEntry, 0, len(raw))
	for _, value := range raw {
		var entry MirrorEntry
		if err := json.Unmarshal([]byte(value), &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
