package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/dealer-support/internal/api/http"
	"github.com/spec-kit/dealer-support/internal/api/http/handlers"
	"github.com/spec-kit/dealer-support/internal/api/ws"
	"github.com/spec-kit/dealer-support/internal/auth"
	"github.com/spec-kit/dealer-support/internal/config"
	"github.com/spec-kit/dealer-support/internal/events"
	"github.com/spec-kit/dealer-support/internal/observability"
	"github.com/spec-kit/dealer-support/internal/persistence"
	"github.com/spec-kit/dealer-support/internal/realtime"
	"github.com/spec-kit/dealer-support/internal/repository"
	"github.com/spec-kit/dealer-support/internal/service"
	"github.com/spec-kit/dealer-support/internal/worker"
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

	metrics := observability.NewMetrics()

	pool := pg.PoolHandle()
	userRepo := repository.NewUserRepository(pool)
	staffRepo := repository.NewStaffRepository(pool)
	chatMessageRepo := repository.NewChatMessageRepository(pool)
	ticketRepo := repository.NewTicketRepository(pool)
	ticketMessageRepo := repository.NewTicketMessageRepository(pool)

	authService := service.NewAuthService(*cfg, service.AuthDependencies{
		UserRepo:  userRepo,
		StaffRepo: staffRepo,
	})
	authMiddleware := auth.NewAuthMiddleware(authService.TokenManager(), userRepo, staffRepo)

	registry := realtime.NewRegistry(authService.TokenManager(), cfg.Chat.SendBufferSize, logger, metrics)
	defer registry.CloseAll()
	broadcaster := realtime.NewBroadcaster(registry, logger, metrics)
	presence := realtime.NewPresence(redis.Client, logger)

	dispatcher := events.NewInMemoryDispatcher()
	chatService := service.NewChatService(service.ChatDependencies{
		Registry:         registry,
		Broadcaster:      broadcaster,
		MessageRepo:      chatMessageRepo,
		Logger:           logger,
		HistoryLimit:     cfg.Chat.HistoryLimit,
		MaxMessageLength: cfg.Chat.MaxMessageLength,
	})
	ticketService := service.NewTicketService(service.TicketDependencies{
		TicketRepo:       ticketRepo,
		MessageRepo:      ticketMessageRepo,
		Dispatcher:       dispatcher,
		MaxContentLength: cfg.Chat.MaxMessageLength,
	})
	notificationService := service.NewNotificationService(dispatcher, broadcaster, logger)
	worker.StartNotificationWorker(notificationService)

	app := fiber.New()
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	wsHandler := ws.NewHandler(registry, presence, chatService, ticketService, logger)
	app.Get("/ws/support", ws.Upgrade, wsHandler.Route())

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redis, metrics),
		Sessions:       handlers.NewSessionsHandler(authService),
		Tickets:        handlers.NewTicketsHandler(ticketService),
		Presence:       handlers.NewPresenceHandler(presence),
		AuthMiddleware: authMiddleware,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	_ = app.Shutdown()
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
