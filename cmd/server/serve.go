package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"club_chat/internal/config"
	"club_chat/internal/gateway"
	"club_chat/internal/handler"
	"club_chat/internal/middleware"
	"club_chat/internal/service"
	"club_chat/pkg/logger"
)

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	appLogger := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, appLogger)
	if err != nil {
		appLogger.Error("Failed to initialize", "error", err)
		return err
	}
	defer a.Close()

	services := service.NewServices(a.repos, cfg, appLogger)

	gw := gateway.New(gateway.Config{
		HandshakeTimeout: cfg.WebSocket.HandshakeTimeout,
		WriteWait:        cfg.WebSocket.WriteWait,
		PongWait:         cfg.WebSocket.PongWait,
		PingInterval:     cfg.WebSocket.PingInterval,
		MaxMessageSize:   cfg.WebSocket.MaxMessageSize,
		InboxSize:        cfg.Presence.InboxSize,
		HistoryLimit:     cfg.WebSocket.HistoryLimit,
		OperationTimeout: cfg.WebSocket.OperationTimeout,
	}, gateway.Deps{
		Auth:     services.Auth,
		Chats:    a.repos.Chat,
		Registry: a.registry,
		Limiter:  services.RateLimit,
		Log:      appLogger.With("component", "gateway"),
	})

	authMiddleware := middleware.NewAuthMiddleware(services.Auth, appLogger)
	rateLimitMiddleware := middleware.NewRateLimitMiddleware(
		services.RateLimit, cfg.Server.RateLimit, int(cfg.Server.RateLimitWindow.Seconds()), appLogger,
	)

	handlers := handler.NewHandlers(services, gw, a.checks, cfg, appLogger)
	router := handler.NewRouter(handlers, authMiddleware, rateLimitMiddleware, cfg, appLogger)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		appLogger.Info("Starting server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		appLogger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Сначала закрываем WebSocket-сессии, они не отслеживаются http.Server
		if err := gw.Shutdown(shutdownCtx); err != nil {
			appLogger.Warn("Sessions did not close in time", "error", err)
		}
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		appLogger.Error("Server stopped with error", "error", err)
		return err
	}
	appLogger.Info("Server exited")
	return nil
}
