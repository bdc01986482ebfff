package handlers

import (
	"context"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/kzinvogon/apoyar-chat/internal/auth"
	"github.com/kzinvogon/apoyar-chat/internal/config"
	"github.com/kzinvogon/apoyar-chat/internal/domain"
	"github.com/kzinvogon/apoyar-chat/internal/presence"
	"github.com/kzinvogon/apoyar-chat/internal/repository"
	"github.com/kzinvogon/apoyar-chat/internal/service"
	"github.com/kzinvogon/apoyar-chat/internal/ws"
	apperrors "github.com/kzinvogon/apoyar-chat/pkg/util"
)

// ChatWSHandler upgrades authenticated requests to websocket connections and
// runs the per-connection read loop. Each connection registers with the hub
// and the presence registry on accept and is torn down from both on exit.
type ChatWSHandler struct {
	hub      *ws.Hub
	registry *presence.Registry
	sessions *service.SessionService
	messages *service.MessageService
	cfg      config.ChatConfig
	logger   *zap.Logger
}

// NewChatWSHandler constructs handler.
func NewChatWSHandler(hub *ws.Hub, registry *presence.Registry, sessions *service.SessionService, messages *service.MessageService, cfg config.ChatConfig, logger *zap.Logger) *ChatWSHandler {
	return &ChatWSHandler{
		hub:      hub,
		registry: registry,
		sessions: sessions,
		messages: messages,
		cfg:      cfg,
		logger:   logger,
	}
}

// Upgrade gates the route to real websocket upgrade requests.
func (h *ChatWSHandler) Upgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// Handler returns the fiber handler that serves upgraded connections.
func (h *ChatWSHandler) Handler() fiber.Handler {
	return websocket.New(h.serve)
}

func (h *ChatWSHandler) serve(conn *websocket.Conn) {
	identity, ok := conn.Locals(auth.IdentityKey).(domain.Identity)
	if !ok {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unauthenticated"))
		_ = conn.Close()
		return
	}

	ctx := context.Background()
	client := ws.NewClient(conn, identity, h.cfg.SendBufferSize)

	snapshot := h.registry.Register(ctx, domain.PresenceEntry{
		TenantID:     identity.TenantID,
		UserID:       identity.UserID,
		Role:         identity.Role,
		ConnectionID: client.ID,
		ConnectedAt:  client.ConnectedAt,
	})
	h.hub.Register(client)
	h.hub.ToTenant(identity.TenantID, ws.Push(ws.FramePresence, presencePayload(snapshot)))
	h.rejoinOpenSessions(ctx, client)

	h.logger.Info("websocket connected",
		zap.String("tenant", identity.TenantID),
		zap.String("user", identity.UserID),
		zap.String("connection", client.ID))

	go client.WritePump(h.cfg.PingPeriod(), h.cfg.WriteTimeout())

	client.PrepareRead(h.cfg.PongWait())
	for {
		frame, err := client.ReadFrame()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn("websocket read failed",
					zap.String("connection", client.ID),
					zap.Error(err))
			}
			break
		}
		h.dispatch(ctx, client, frame)
	}

	h.hub.Unregister(client)
	remaining, _ := h.registry.Unregister(ctx, identity.TenantID, client.ID)
	h.hub.ToTenant(identity.TenantID, ws.Push(ws.FramePresence, presencePayload(remaining)))

	h.logger.Info("websocket disconnected",
		zap.String("tenant", identity.TenantID),
		zap.String("user", identity.UserID),
		zap.String("connection", client.ID))
}

// rejoinOpenSessions resubscribes a fresh connection to the conversations its
// user already has open, so a page reload keeps receiving session traffic.
func (h *ChatWSHandler) rejoinOpenSessions(ctx context.Context, client *ws.Client) {
	identity := client.Identity
	filters := []repository.SessionFilter{{
		Statuses:   []domain.SessionStatus{domain.SessionStatusWaiting, domain.SessionStatusActive},
		CustomerID: &identity.UserID,
	}}
	if identity.Role.Staff() {
		filters = append(filters, repository.SessionFilter{
			Statuses: []domain.SessionStatus{domain.SessionStatusActive},
			AgentID:  &identity.UserID,
		})
	}

	for _, filter := range filters {
		sessions, err := h.sessions.List(ctx, identity, filter)
		if err != nil {
			h.logger.Warn("session rejoin lookup failed",
				zap.String("user", identity.UserID),
				zap.Error(err))
			continue
		}
		for i := range sessions {
			h.hub.Subscribe(sessions[i].ID, client)
		}
	}
}

func (h *ChatWSHandler) dispatch(ctx context.Context, client *ws.Client, frame *ws.InboundFrame) {
	identity := client.Identity

	switch frame.Type {
	case ws.FrameStart:
		session, err := h.sessions.Start(ctx, identity)
		if err != nil {
			h.replyError(client, frame.Ref, err)
			return
		}
		client.Send(ws.Ack(frame.Ref, ws.StartAck{
			SessionID:     session.ID,
			QueuePosition: session.QueuePosition,
		}))

	case ws.FrameMessage:
		var payload ws.MessagePayload
		if err := frame.Decode(&payload); err != nil {
			h.replyDecodeError(client, frame.Ref)
			return
		}
		message, err := h.messages.Append(ctx, identity, service.MessageInput{
			SessionID: payload.SessionID,
			Content:   payload.Content,
			Type:      payload.Type,
			FileRef:   payload.FileRef,
		})
		if err != nil {
			h.replyError(client, frame.Ref, err)
			return
		}
		client.Send(ws.Ack(frame.Ref, ws.MessageAck{MessageID: message.ID}))

	case ws.FrameTyping:
		var payload ws.SessionRefPayload
		if err := frame.Decode(&payload); err != nil {
			return
		}
		// Fire and forget; a typing indicator is not worth an error round trip.
		_ = h.messages.Typing(ctx, identity, payload.SessionID)

	case ws.FrameRead:
		var payload ws.SessionRefPayload
		if err := frame.Decode(&payload); err != nil {
			h.replyDecodeError(client, frame.Ref)
			return
		}
		if _, err := h.messages.MarkRead(ctx, identity, payload.SessionID); err != nil {
			h.replyError(client, frame.Ref, err)
		}

	case ws.FrameClaim:
		var payload ws.SessionRefPayload
		if err := frame.Decode(&payload); err != nil {
			h.replyDecodeError(client, frame.Ref)
			return
		}
		if err := h.sessions.Claim(ctx, identity, payload.SessionID); err != nil {
			h.replyError(client, frame.Ref, err)
			return
		}
		client.Send(ws.Ack(frame.Ref, ws.SessionAck{SessionID: payload.SessionID}))

	case ws.FrameTransfer:
		var payload ws.TransferPayload
		if err := frame.Decode(&payload); err != nil {
			h.replyDecodeError(client, frame.Ref)
			return
		}
		if err := h.sessions.Transfer(ctx, identity, payload.SessionID, payload.TargetAgentID, payload.Reason); err != nil {
			h.replyError(client, frame.Ref, err)
			return
		}
		client.Send(ws.Ack(frame.Ref, ws.SuccessAck{Success: true}))

	case ws.FrameClose:
		var payload ws.SessionRefPayload
		if err := frame.Decode(&payload); err != nil {
			h.replyDecodeError(client, frame.Ref)
			return
		}
		if err := h.sessions.Close(ctx, identity, payload.SessionID); err != nil {
			h.replyError(client, frame.Ref, err)
			return
		}
		client.Send(ws.Ack(frame.Ref, ws.SuccessAck{Success: true}))

	case ws.FrameRate:
		var payload ws.RatePayload
		if err := frame.Decode(&payload); err != nil {
			h.replyDecodeError(client, frame.Ref)
			return
		}
		if err := h.sessions.Rate(ctx, identity, payload.SessionID, payload.Rating); err != nil {
			h.replyError(client, frame.Ref, err)
			return
		}
		client.Send(ws.Ack(frame.Ref, ws.SuccessAck{Success: true}))

	case ws.FrameJoin:
		var payload ws.SessionRefPayload
		if err := frame.Decode(&payload); err != nil {
			h.replyDecodeError(client, frame.Ref)
			return
		}
		if err := h.sessions.Join(ctx, identity, payload.SessionID); err != nil {
			h.replyError(client, frame.Ref, err)
			return
		}
		client.Send(ws.Ack(frame.Ref, ws.SessionAck{SessionID: payload.SessionID}))

	case ws.FrameDirect:
		var payload ws.DirectPayload
		if err := frame.Decode(&payload); err != nil {
			h.replyDecodeError(client, frame.Ref)
			return
		}
		session, err := h.sessions.Direct(ctx, identity, payload.TargetUserID)
		if err != nil {
			h.replyError(client, frame.Ref, err)
			return
		}
		if payload.Content != "" {
			if _, err := h.messages.Append(ctx, identity, service.MessageInput{
				SessionID: session.ID,
				Content:   payload.Content,
			}); err != nil {
				h.replyError(client, frame.Ref, err)
				return
			}
		}
		client.Send(ws.Ack(frame.Ref, ws.SessionAck{SessionID: session.ID}))

	default:
		client.Send(ws.ErrorReply(frame.Ref, "UNSUPPORTED_FRAME", "unsupported frame type"))
	}
}

func (h *ChatWSHandler) replyError(client *ws.Client, ref string, err error) {
	domainErr := apperrors.ToDomainError(err)
	client.Send(ws.ErrorReply(ref, domainErr.Code, domainErr.Message))
}

func (h *ChatWSHandler) replyDecodeError(client *ws.Client, ref string) {
	client.Send(ws.ErrorReply(ref, "VALIDATION_FAILED", "malformed frame payload"))
}

// presencePayload collapses connection-level entries to one user each.
// Entries arrive sorted by connect time, so the first hit per user carries
// their earliest connection.
func presencePayload(entries []domain.PresenceEntry) ws.PresencePayload {
	users := make([]ws.PresenceUser, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		if _, dup := seen[entry.UserID]; dup {
			continue
		}
		seen[entry.UserID] = struct{}{}
		users = append(users, ws.PresenceUser{
			UserID:      entry.UserID,
			Role:        string(entry.Role),
			ConnectedAt: entry.ConnectedAt,
		})
	}
	return ws.PresencePayload{Users: users}
}
