package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chatalert/internal/config"
	"chatalert/internal/domain/alert"
	"chatalert/internal/infra/queue"
	"chatalert/internal/infra/ratelimit"
	"chatalert/internal/infra/store"
	"chatalert/internal/infra/stream"
	"chatalert/internal/infra/template"
	"chatalert/internal/router"

	"github.com/redis/go-redis/v9"
)

func main() {
	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"mode", cfg.Server.Mode,
		"cooldown", cfg.Alerts.Cooldown,
		"eligible_roles", cfg.Alerts.EligibleRoles,
	)

	// ==========================================
	// Dependency Injection (Manual Wiring)
	// ==========================================

	// Redis (session event streams + viewer alert cap)
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		slog.Warn("redis not reachable at startup", "redis", cfg.Redis.Address, "error", err)
	}
	pingCancel()

	events := stream.NewRedisStream(redisClient, cfg.Stream.MaxLen, cfg.Stream.TTL)
	slog.Info("session event stream initialized", "redis", cfg.Redis.Address)

	// Supabase Store (alert log + stored permissions)
	alertStore, err := store.NewSupabaseStore(cfg.Supabase.URL, cfg.Supabase.ServiceKey)
	if err != nil {
		slog.Error("failed to initialize supabase store", "error", err)
		os.Exit(1)
	}
	slog.Info("supabase store initialized")

	// Asynq Client (for auto-dismiss tasks)
	asynqClient := queue.NewClient(queue.RedisOpt(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB))
	defer asynqClient.Close()
	scheduler := queue.NewScheduler(asynqClient, cfg.Queue.MaxRetry)
	slog.Info("asynq client initialized", "redis", cfg.Redis.Address)

	// Viewer alert cap
	viewerLimiter := ratelimit.NewRedisViewerLimiter(redisClient, cfg.ViewerRateLimit.MaxPerHour)
	slog.Info("viewer alert cap initialized", "max_per_hour", cfg.ViewerRateLimit.MaxPerHour)

	// Title templates
	titles, err := template.NewEngine(cfg.Alerts.TitleTemplate)
	if err != nil {
		slog.Error("failed to parse title template", "error", err)
		os.Exit(1)
	}

	// Host bridge factory
	hosts := stream.NewFactory(stream.Deps{
		Publisher: events,
		Logs:      alertStore,
		Scheduler: scheduler,
		Limiter:   viewerLimiter,
		Streams:   events,
	})

	// Service
	alertService := alert.NewService(hosts, titles, alertStore, alertStore, alert.ServiceConfig{
		Policy:        policyFromConfig(cfg.Alerts),
		MaxSessions:   cfg.Sessions.MaxSessions,
		IdleTTL:       cfg.Sessions.IdleTTL,
		PromptTimeout: cfg.Sessions.PromptTimeout,
	})
	defer alertService.Shutdown()

	// Handler
	alertHandler := alert.NewHandler(alertService, events)

	// Router
	r := router.New(cfg, alertHandler)

	// ==========================================
	// HTTP Server with Graceful Shutdown
	// ==========================================

	srv := newHTTPServer(fmt.Sprintf(":%d", cfg.Server.Port), r)

	// Start server in a goroutine
	go func() {
		slog.Info("server starting", "address", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")

	// Give outstanding requests 10 seconds to complete
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("server exited gracefully")
}

// newHTTPServer builds the API server. Request contexts derive from a base
// context that is cancelled when Shutdown starts, so open event streams
// return instead of holding the shutdown until its deadline.
func newHTTPServer(addr string, handler http.Handler) *http.Server {
	baseCtx, cancel := context.WithCancel(context.Background())

	// No WriteTimeout: the event stream endpoint holds responses open.
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}
	srv.RegisterOnShutdown(cancel)
	return srv
}

// policyFromConfig converts the alerts config section to a throttle policy.
func policyFromConfig(c config.AlertsConfig) alert.Policy {
	roles := make([]alert.Role, len(c.EligibleRoles))
	for i, r := range c.EligibleRoles {
		roles[i] = alert.Role(r)
	}
	return alert.Policy{
		Cooldown:      c.Cooldown,
		DismissAfter:  c.DismissAfter,
		Icon:          c.Icon,
		EligibleRoles: roles,
	}
}
