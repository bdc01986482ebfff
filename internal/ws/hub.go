package ws

import (
	"sync"

	"go.uber.org/zap"

	"github.com/kzinvogon/apoyar-chat/internal/observability"
)

type userKey struct {
	tenant string
	user   string
}

// Hub fans frames out to connected clients. Clients are indexed by tenant,
// by user and by the session channels they joined. Delivery never blocks:
// a client whose buffer is full is dropped.
type Hub struct {
	mu             sync.RWMutex
	tenants        map[string]map[*Client]struct{}
	users          map[userKey]map[*Client]struct{}
	channels       map[string]map[*Client]struct{}
	clientChannels map[*Client]map[string]struct{}

	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewHub builds an empty hub.
func NewHub(logger *zap.Logger, metrics *observability.Metrics) *Hub {
	return &Hub{
		tenants:        make(map[string]map[*Client]struct{}),
		users:          make(map[userKey]map[*Client]struct{}),
		channels:       make(map[string]map[*Client]struct{}),
		clientChannels: make(map[*Client]map[string]struct{}),
		logger:         logger,
		metrics:        metrics,
	}
}

// Register adds a connection to the tenant and user indexes.
func (h *Hub) Register(client *Client) {
	key := userKey{tenant: client.Identity.TenantID, user: client.Identity.UserID}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.tenants[client.Identity.TenantID] == nil {
		h.tenants[client.Identity.TenantID] = make(map[*Client]struct{})
	}
	h.tenants[client.Identity.TenantID][client] = struct{}{}

	if h.users[key] == nil {
		h.users[key] = make(map[*Client]struct{})
	}
	h.users[key][client] = struct{}{}

	h.clientChannels[client] = make(map[string]struct{})
}

// Unregister removes a connection from every index and stops its write pump.
// Safe to call for a client that is already gone.
func (h *Hub) Unregister(client *Client) {
	key := userKey{tenant: client.Identity.TenantID, user: client.Identity.UserID}

	h.mu.Lock()
	if tenantClients, ok := h.tenants[client.Identity.TenantID]; ok {
		delete(tenantClients, client)
		if len(tenantClients) == 0 {
			delete(h.tenants, client.Identity.TenantID)
		}
	}
	if userClients, ok := h.users[key]; ok {
		delete(userClients, client)
		if len(userClients) == 0 {
			delete(h.users, key)
		}
	}
	for sessionID := range h.clientChannels[client] {
		if members, ok := h.channels[sessionID]; ok {
			delete(members, client)
			if len(members) == 0 {
				delete(h.channels, sessionID)
			}
		}
	}
	delete(h.clientChannels, client)
	h.mu.Unlock()

	client.Close()
}

// Subscribe joins a single connection to a session channel.
func (h *Hub) Subscribe(sessionID string, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, registered := h.clientChannels[client]; !registered {
		return
	}
	if h.channels[sessionID] == nil {
		h.channels[sessionID] = make(map[*Client]struct{})
	}
	h.channels[sessionID][client] = struct{}{}
	h.clientChannels[client][sessionID] = struct{}{}
}

// SubscribeUser joins all of a user's connections to a session channel, so
// every open tab follows the conversation.
func (h *Hub) SubscribeUser(tenantID, userID, sessionID string) {
	key := userKey{tenant: tenantID, user: userID}

	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.users[key] {
		if h.channels[sessionID] == nil {
			h.channels[sessionID] = make(map[*Client]struct{})
		}
		h.channels[sessionID][client] = struct{}{}
		h.clientChannels[client][sessionID] = struct{}{}
	}
}

// UnsubscribeUser removes all of a user's connections from a session channel.
func (h *Hub) UnsubscribeUser(tenantID, userID, sessionID string) {
	key := userKey{tenant: tenantID, user: userID}

	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.users[key] {
		if members, ok := h.channels[sessionID]; ok {
			delete(members, client)
			if len(members) == 0 {
				delete(h.channels, sessionID)
			}
		}
		delete(h.clientChannels[client], sessionID)
	}
}

// DropChannel removes a session channel entirely.
func (h *Hub) DropChannel(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.channels[sessionID] {
		delete(h.clientChannels[client], sessionID)
	}
	delete(h.channels, sessionID)
}

// ToTenant sends a frame to every connection in the tenant.
func (h *Hub) ToTenant(tenantID string, frame Frame) {
	h.mu.RLock()
	targets := collect(h.tenants[tenantID], nil)
	h.mu.RUnlock()
	h.deliver(targets, frame)
}

// ToTenantAgents sends a frame to the tenant's staff connections.
func (h *Hub) ToTenantAgents(tenantID string, frame Frame) {
	h.mu.RLock()
	targets := collect(h.tenants[tenantID], func(c *Client) bool {
		return c.Identity.Role.Staff()
	})
	h.mu.RUnlock()
	h.deliver(targets, frame)
}

// ToSession sends a frame to every connection subscribed to the channel.
func (h *Hub) ToSession(sessionID string, frame Frame) {
	h.mu.RLock()
	targets := collect(h.channels[sessionID], nil)
	h.mu.RUnlock()
	h.deliver(targets, frame)
}

// ToSessionExceptUser sends a frame to channel subscribers belonging to
// other users. Typing relays use it so senders don't see their own signal.
func (h *Hub) ToSessionExceptUser(sessionID, userID string, frame Frame) {
	h.mu.RLock()
	targets := collect(h.channels[sessionID], func(c *Client) bool {
		return c.Identity.UserID != userID
	})
	h.mu.RUnlock()
	h.deliver(targets, frame)
}

// ToUser sends a frame to every connection of one user.
func (h *Hub) ToUser(tenantID, userID string, frame Frame) {
	key := userKey{tenant: tenantID, user: userID}
	h.mu.RLock()
	targets := collect(h.users[key], nil)
	h.mu.RUnlock()
	h.deliver(targets, frame)
}

func collect(set map[*Client]struct{}, keep func(*Client) bool) []*Client {
	if len(set) == 0 {
		return nil
	}
	targets := make([]*Client, 0, len(set))
	for client := range set {
		if keep == nil || keep(client) {
			targets = append(targets, client)
		}
	}
	return targets
}

// deliver runs lock-free so dropping a slow client can re-enter the hub.
func (h *Hub) deliver(targets []*Client, frame Frame) {
	for _, client := range targets {
		if client.Send(frame) {
			if h.metrics != nil {
				h.metrics.RecordFrame(string(frame.Type))
			}
			continue
		}
		h.logger.Warn("dropping slow websocket client",
			zap.String("tenant", client.Identity.TenantID),
			zap.String("user", client.Identity.UserID),
			zap.String("connection", client.ID),
			zap.String("frame", string(frame.Type)))
		h.Unregister(client)
	}
}
