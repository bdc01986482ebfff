package domain

import "time"

// PresenceEntry records one live connection. Entries are keyed by connection
// id, not user id: a user with two tabs open holds two entries, and closing
// one must not mark the user offline.
type PresenceEntry struct {
	TenantID     string
	UserID       string
	Role         Role
	ConnectionID string
	ConnectedAt  time.Time
}
