package handlers

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/kzinvogon/apoyar-chat/internal/api/dto"
	"github.com/kzinvogon/apoyar-chat/internal/auth"
	"github.com/kzinvogon/apoyar-chat/internal/domain"
	"github.com/kzinvogon/apoyar-chat/internal/presence"
	"github.com/kzinvogon/apoyar-chat/internal/repository"
	"github.com/kzinvogon/apoyar-chat/internal/service"
	apperrors "github.com/kzinvogon/apoyar-chat/pkg/util"
)

// SessionsHandler serves the read-model REST endpoints behind agent
// dashboards and the customer widget. All lifecycle writes travel over the
// websocket.
type SessionsHandler struct {
	sessions *service.SessionService
	messages *service.MessageService
	registry *presence.Registry
	mirror   *presence.Mirror
}

// NewSessionsHandler constructs handler.
func NewSessionsHandler(sessions *service.SessionService, messages *service.MessageService, registry *presence.Registry, mirror *presence.Mirror) *SessionsHandler {
	return &SessionsHandler{sessions: sessions, messages: messages, registry: registry, mirror: mirror}
}

// ListSessions GET /chat/sessions. Without a status filter it returns the
// WAITING queue, which is what the agent dashboard bootstraps from.
func (h *SessionsHandler) ListSessions(c *fiber.Ctx) error {
	identity, ok := auth.IdentityFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	filter := parseSessionQuery(c)
	sessions, err := h.sessions.List(c.Context(), identity, filter)
	if err != nil {
		return err
	}
	items := make([]dto.SessionSummary, 0, len(sessions))
	for i := range sessions {
		items = append(items, sessionSummary(&sessions[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// GetSession GET /chat/sessions/:id.
func (h *SessionsHandler) GetSession(c *fiber.Ctx) error {
	identity, ok := auth.IdentityFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	session, err := h.sessions.Get(c.Context(), identity, c.Params("id"))
	if err != nil {
		return err
	}
	msgs, err := h.messages.History(c.Context(), identity, session.ID, 0, 0)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": sessionDetail(session, msgs)})
}

// ListMessages GET /chat/sessions/:id/messages.
func (h *SessionsHandler) ListMessages(c *fiber.Ctx) error {
	identity, ok := auth.IdentityFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	limit := parseInt(c.Query("limit"), 100)
	offset := parseInt(c.Query("offset"), 0)
	msgs, err := h.messages.History(c.Context(), identity, c.Params("id"), limit, offset)
	if err != nil {
		return err
	}
	items := make([]dto.ChatMessageResponse, 0, len(msgs))
	for i := range msgs {
		items = append(items, chatMessageResponse(&msgs[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// OnlineAgents GET /chat/agents/online.
func (h *SessionsHandler) OnlineAgents(c *fiber.Ctx) error {
	identity, ok := auth.IdentityFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}

	if h.mirror != nil {
		entries, err := h.mirror.Online(c.Context(), identity.TenantID)
		if err == nil {
			items := make([]dto.OnlineAgentResponse, 0, len(entries))
			for _, entry := range entries {
				if !entry.Role.Staff() {
					continue
				}
				items = append(items, dto.OnlineAgentResponse{
					UserID:      entry.UserID,
					Role:        entry.Role,
					ConnectedAt: entry.ConnectedAt,
				})
			}
			return c.JSON(fiber.Map{"data": items})
		}
		// Mirror unreachable; fall back to what this instance knows.
	}

	agents := h.registry.OnlineAgents(identity.TenantID)
	items := make([]dto.OnlineAgentResponse, 0, len(agents))
	for _, agent := range agents {
		items = append(items, dto.OnlineAgentResponse{
			UserID:      agent.UserID,
			Role:        agent.Role,
			ConnectedAt: agent.ConnectedAt,
			Connections: agent.Connections,
		})
	}
	return c.JSON(fiber.Map{"data": items})
}

func parseSessionQuery(c *fiber.Ctx) repository.SessionFilter {
	filter := repository.SessionFilter{
		Statuses: []domain.SessionStatus{domain.SessionStatusWaiting},
	}
	if statusStr := c.Query("status"); statusStr != "" {
		filter.Statuses = nil
		for _, part := range strings.Split(statusStr, ",") {
			filter.Statuses = append(filter.Statuses, domain.SessionStatus(strings.ToUpper(strings.TrimSpace(part))))
		}
	}
	if agentID := c.Query("agent_id"); agentID != "" {
		filter.AgentID = &agentID
	}
	page := parseInt(c.Query("page"), 1)
	pageSize := parseInt(c.Query("page_size"), 20)
	filter.Offset = (page - 1) * pageSize
	filter.Limit = pageSize
	return filter
}

func parseInt(val string, def int) int {
	if val == "" {
		return def
	}
	parsed, err := strconv.Atoi(val)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func sessionSummary(session *domain.ChatSession) dto.SessionSummary {
	return dto.SessionSummary{
		ID:            session.ID,
		Kind:          session.Kind,
		CustomerID:    session.CustomerID,
		AgentID:       session.AgentID,
		Status:        session.Status,
		QueuePosition: session.QueuePosition,
		Rating:        session.Rating,
		CreatedAt:     session.CreatedAt,
		ActivatedAt:   session.ActivatedAt,
		ClosedAt:      session.ClosedAt,
	}
}

func sessionDetail(session *domain.ChatSession, messages []domain.ChatMessage) dto.SessionDetailResponse {
	msgs := make([]dto.ChatMessageResponse, 0, len(messages))
	for i := range messages {
		msgs = append(msgs, chatMessageResponse(&messages[i]))
	}
	return dto.SessionDetailResponse{
		ID:             session.ID,
		Kind:           session.Kind,
		CustomerID:     session.CustomerID,
		AgentID:        session.AgentID,
		Status:         session.Status,
		QueuePosition:  session.QueuePosition,
		PriorAgentID:   session.PriorAgentID,
		TransferReason: session.TransferReason,
		Rating:         session.Rating,
		CreatedAt:      session.CreatedAt,
		ActivatedAt:    session.ActivatedAt,
		ClosedAt:       session.ClosedAt,
		Messages:       msgs,
	}
}

func chatMessageResponse(msg *domain.ChatMessage) dto.ChatMessageResponse {
	return dto.ChatMessageResponse{
		ID:         msg.ID,
		SessionID:  msg.SessionID,
		SenderID:   msg.SenderID,
		SenderRole: msg.SenderRole,
		Type:       msg.MessageType,
		Body:       msg.Body,
		FileRef:    msg.FileRef,
		ReadAt:     msg.ReadAt,
		CreatedAt:  msg.CreatedAt,
	}
}
