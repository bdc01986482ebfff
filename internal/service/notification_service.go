package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/kzinvogon/apoyar-chat/internal/config"
	"github.com/kzinvogon/apoyar-chat/internal/events"
)

// NotificationService emits notifications for session lifecycle events.
type NotificationService struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
	cfg        config.NotificationConfig
}

// NewNotificationService creates the service.
func NewNotificationService(dispatcher events.Dispatcher, logger *zap.Logger, cfg config.NotificationConfig) *NotificationService {
	return &NotificationService{
		dispatcher: dispatcher,
		logger:     logger,
		cfg:        cfg,
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventSessionStarted, n.handleSessionStarted)
	n.dispatcher.Subscribe(events.EventSessionClaimed, n.handleSessionClaimed)
	n.dispatcher.Subscribe(events.EventSessionTransferred, n.handleSessionTransferred)
	n.dispatcher.Subscribe(events.EventSessionClosed, n.handleSessionClosed)
	n.dispatcher.Subscribe(events.EventSessionRated, n.handleSessionRated)
}

func (n *NotificationService) handleSessionStarted(ctx context.Context, event events.Event) error {
	n.logger.Info("SessionStarted", zap.String("session_id", event.SessionID), zap.Any("payload", event.Payload))
	n.sendWebhookNotificationStub(ctx, event)
	return nil
}

func (n *NotificationService) handleSessionClaimed(ctx context.Context, event events.Event) error {
	n.logger.Info("SessionClaimed", zap.String("session_id", event.SessionID), zap.Any("payload", event.Payload))
	n.sendWebhookNotificationStub(ctx, event)
	return nil
}

func (n *NotificationService) handleSessionTransferred(ctx context.Context, event events.Event) error {
	n.logger.Info("SessionTransferred", zap.String("session_id", event.SessionID), zap.Any("payload", event.Payload))
	n.sendWebhookNotificationStub(ctx, event)
	return nil
}

func (n *NotificationService) handleSessionClosed(ctx context.Context, event events.Event) error {
	n.logger.Info("SessionClosed", zap.String("session_id", event.SessionID), zap.Any("payload", event.Payload))
	n.sendEmailNotificationStub(ctx, event)
	n.sendWebhookNotificationStub(ctx, event)
	return nil
}

func (n *NotificationService) handleSessionRated(ctx context.Context, event events.Event) error {
	n.logger.Info("SessionRated", zap.String("session_id", event.SessionID), zap.Any("payload", event.Payload))
	n.sendWebhookNotificationStub(ctx, event)
	return nil
}

func (n *NotificationService) sendEmailNotificationStub(ctx context.Context, event events.Event) {
	if strings.TrimSpace(n.cfg.EmailFrom) == "" {
		return
	}
	n.logger.Debug("sendEmailNotificationStub",
		zap.String("from", n.cfg.EmailFrom),
		zap.String("session_id", event.SessionID),
		zap.String("event_type", string(event.Type)))
}

func (n *NotificationService) sendWebhookNotificationStub(ctx context.Context, event events.Event) {
	if strings.TrimSpace(n.cfg.WebhookURL) == "" {
		return
	}
	n.logger.Debug("sendWebhookNotificationStub",
		zap.String("url", n.cfg.WebhookURL),
		zap.String("session_id", event.SessionID),
		zap.String("event_type", string(event.Type)))
}
