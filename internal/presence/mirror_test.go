package presence

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kzinvogon/apoyar-chat/internal/domain"
)

func mirrorPayload(t *testing.T, userID string, role domain.Role, connectedAt time.Time) []byte {
	t.Helper()
	payload, err := json.Marshal(MirrorEntry{
		UserID:      userID,
		Role:        role,
		ConnectedAt: connectedAt,
	})
	require.NoError(t, err)
	return payload
}

func TestMirrorAddUpsertsAndRefreshesTTL(t *testing.T) {
	client, mock := redismock.NewClientMock()
	mirror := NewMirror(client)
	connectedAt := connectEpoch

	mock.ExpectHSet("chat:tenant:acme:online", "a1", mirrorPayload(t, "a1", domain.RoleAgent, connectedAt)).SetVal(1)
	mock.ExpectExpire("chat:tenant:acme:online", 24*time.Hour).SetVal(true)

	err := mirror.Add(context.Background(), entry("acme", "a1", "conn-1", domain.RoleAgent, 0))
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMirrorRemove(t *testing.T) {
	client, mock := redismock.NewClientMock()
	mirror := NewMirror(client)

	mock.ExpectHDel("chat:tenant:acme:online", "a1").SetVal(1)

	err := mirror.Remove(context.Background(), "acme", "a1")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMirrorOnlineSkipsCorruptFields(t *testing.T) {
	client, mock := redismock.NewClientMock()
	mirror := NewMirror(client)

	mock.ExpectHGetAll("chat:tenant:acme:online").SetVal(map[string]string{
		"a1":   string(mirrorPayload(t, "a1", domain.RoleAgent, connectEpoch)),
		"junk": "{not-json",
	})

	entries, err := mirror.Online(context.Background(), "acme")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a1", entries[0].UserID)
	assert.Equal(t, domain.RoleAgent, entries[0].Role)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRegistryMirrorsLastConnectionOnly(t *testing.T) {
	client, mock := redismock.NewClientMock()
	registry := NewRegistry(NewMirror(client), zap.NewNop())
	ctx := context.Background()

	first := entry("acme", "a1", "conn-1", domain.RoleAgent, 0)
	second := entry("acme", "a1", "conn-2", domain.RoleAgent, time.Minute)

	mock.ExpectHSet("chat:tenant:acme:online", "a1", mirrorPayload(t, "a1", domain.RoleAgent, first.ConnectedAt)).SetVal(1)
	mock.ExpectExpire("chat:tenant:acme:online", 24*time.Hour).SetVal(true)
	mock.ExpectHSet("chat:tenant:acme:online", "a1", mirrorPayload(t, "a1", domain.RoleAgent, second.ConnectedAt)).SetVal(0)
	mock.ExpectExpire("chat:tenant:acme:online", 24*time.Hour).SetVal(true)
	// Only the second unregister, the user's last connection, touches Redis.
	mock.ExpectHDel("chat:tenant:acme:online", "a1").SetVal(1)

	registry.Register(ctx, first)
	registry.Register(ctx, second)
	registry.Unregister(ctx, "acme", "conn-1")
	registry.Unregister(ctx, "acme", "conn-2")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRegistryStaysAuthoritativeWhenMirrorFails(t *testing.T) {
	client, mock := redismock.NewClientMock()
	registry := NewRegistry(NewMirror(client), zap.NewNop())
	ctx := context.Background()

	mock.ExpectHSet("chat:tenant:acme:online", "a1", mirrorPayload(t, "a1", domain.RoleAgent, connectEpoch)).SetErr(assert.AnError)

	snapshot := registry.Register(ctx, entry("acme", "a1", "conn-1", domain.RoleAgent, 0))
	require.Len(t, snapshot, 1)
	assert.Len(t, registry.OnlineAgents("acme"), 1)
}
