package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session-engine/internal/app"
	"github.com/stemsi/exstem-session-engine/internal/config"
	"github.com/stemsi/exstem-session-engine/internal/handler"
	"github.com/stemsi/exstem-session-engine/internal/logger"
	"github.com/stemsi/exstem-session-engine/internal/router"
	"github.com/stemsi/exstem-session-engine/internal/validator"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("storage", cfg.StorageDriver).
		Bool("redis", cfg.RedisURL != "").
		Bool("scheduler", cfg.SchedulerEnabled).
		Msg("Starting ExStem session engine")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Storage, Redis, Services ──────────────────────────────────────
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize application")
	}
	defer a.Close()

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Session: handler.NewSessionHandler(a.Sessions, a.Security),
		Admin:   handler.NewAdminHandler(a.Security, a.Analytics),
		Monitor: handler.NewMonitorHandler(a.Analytics, a.Subscriber, log),
		WS:      handler.NewWSHandler(a.Sessions, a.Security, a.Subscriber, log, cfg.AllowedOrigins),
		System:  handler.NewSystemHandler(healthChecks(a), log),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	var workers sync.WaitGroup

	if cfg.SchedulerEnabled {
		workers.Add(1)
		go func() {
			defer workers.Done()
			if err := a.Scheduler.Start(workerCtx); err != nil {
				log.Error().Err(err).Msg("Scheduler failed to start")
			}
		}()
	}
	if a.AuditWorker != nil {
		workers.Add(1)
		go func() {
			defer workers.Done()
			a.AuditWorker.Start(workerCtx)
		}()
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(ctx, a.Auth, handlers, cfg)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop the scheduler and let the audit worker flush its buffer.
	workerCancel()
	workers.Wait()

	log.Info().Msg("Shutdown complete")
}

func healthChecks(a *app.App) map[string]handler.Pinger {
	checks := make(map[string]handler.Pinger)
	if a.Pool != nil {
		checks["postgres"] = a.Pool
	}
	if a.Redis != nil {
		checks["redis"] = handler.PingFunc(func(ctx context.Context) error {
			return a.Redis.Ping(ctx).Err()
		})
	}
	return checks
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
