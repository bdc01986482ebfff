package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/kzinvogon/apoyar-chat/internal/api/http"
	"github.com/kzinvogon/apoyar-chat/internal/api/http/handlers"
	"github.com/kzinvogon/apoyar-chat/internal/auth"
	"github.com/kzinvogon/apoyar-chat/internal/config"
	"github.com/kzinvogon/apoyar-chat/internal/events"
	"github.com/kzinvogon/apoyar-chat/internal/observability"
	"github.com/kzinvogon/apoyar-chat/internal/persistence"
	"github.com/kzinvogon/apoyar-chat/internal/presence"
	"github.com/kzinvogon/apoyar-chat/internal/repository"
	"github.com/kzinvogon/apoyar-chat/internal/service"
	"github.com/kzinvogon/apoyar-chat/internal/stream"
	"github.com/kzinvogon/apoyar-chat/internal/worker"
	"github.com/kzinvogon/apoyar-chat/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := observability.NewMetrics()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	mirror := presence.NewMirror(redis.Client)
	registry := presence.NewRegistry(mirror, logger)

	dispatcher := events.NewInMemoryDispatcher()
	hub := ws.NewHub(logger, metrics)

	pool := pg.PoolHandle()
	sessionRepo := repository.NewSessionRepository(pool)
	messageRepo := repository.NewMessageRepository(pool)

	messageService := service.NewMessageService(service.MessageDependencies{
		SessionRepo: sessionRepo,
		MessageRepo: messageRepo,
		Broadcast:   hub,
		Dispatcher:  dispatcher,
		Metrics:     metrics,
		Logger:      logger,
	})

	queue := service.NewQueueService(sessionRepo, hub, logger)
	timers := service.NewTimerRegistry()

	sessionService := service.NewSessionService(service.SessionDependencies{
		SessionRepo: sessionRepo,
		Queue:       queue,
		Messenger:   messageService,
		Timers:      timers,
		Agents:      registry,
		Broadcast:   hub,
		Dispatcher:  dispatcher,
		Metrics:     metrics,
		Logger:      logger,
		AssignDelay: cfg.Chat.AutoAssignDelay(),
	})

	notificationService := service.NewNotificationService(dispatcher, logger, cfg.Notification)
	worker.StartNotificationWorker(notificationService)

	if cfg.Stream.Enabled() {
		publisher, err := stream.NewPublisher(cfg.Stream, logger)
		if err != nil {
			logger.Fatal("failed to start event publisher", zap.Error(err))
		}
		defer publisher.Close() //nolint:errcheck
		publisher.Attach(dispatcher)
	}

	requeue := worker.NewRequeueWorker(sessionService, cfg.Chat.SweepInterval(), logger)
	go requeue.Run(ctx)

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)
	authMiddleware := auth.NewAuthMiddleware(tokens)

	app := fiber.New()
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	healthHandler := handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redis)
	sessionsHandler := handlers.NewSessionsHandler(sessionService, messageService, registry, mirror)
	chatWSHandler := handlers.NewChatWSHandler(hub, registry, sessionService, messageService, cfg.Chat, logger)

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         healthHandler,
		Sessions:       sessionsHandler,
		ChatWS:         chatWSHandler,
		AuthMiddleware: authMiddleware,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	cancel()
	_ = app.Shutdown()
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
