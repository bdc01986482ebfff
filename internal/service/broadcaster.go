package service

import (
	"github.com/kzinvogon/apoyar-chat/internal/presence"
	"github.com/kzinvogon/apoyar-chat/internal/ws"
)

// Broadcaster fans frames out to connected clients. Satisfied by *ws.Hub;
// tests substitute a recording fake.
type Broadcaster interface {
	ToTenant(tenantID string, frame ws.Frame)
	ToTenantAgents(tenantID string, frame ws.Frame)
	ToSession(sessionID string, frame ws.Frame)
	ToSessionExceptUser(sessionID, userID string, frame ws.Frame)
	ToUser(tenantID, userID string, frame ws.Frame)
	SubscribeUser(tenantID, userID, sessionID string)
	UnsubscribeUser(tenantID, userID, sessionID string)
	DropChannel(sessionID string)
}

// AgentDirectory reports which staff are connected for a tenant. Satisfied
// by *presence.Registry.
type AgentDirectory interface {
	OnlineAgents(tenantID string) []presence.OnlineAgent
}
