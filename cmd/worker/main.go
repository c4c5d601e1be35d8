package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"url-analyzer/internal/bootstrap"
	"url-analyzer/internal/shared/config"
	"url-analyzer/internal/shared/telemetry"
	"url-analyzer/internal/workerproc"
)

const (
	defaultWorkerConcurrency  = 4
	defaultShutdownTimeoutSec = 30
)

func main() {
	cfg := config.Load()
	if cfg.QueueBackend == "" {
		telemetry.Error("worker.queue_missing", map[string]any{"hint": "set QUEUE_BACKEND to sqs or redis"})
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	concurrency := envInt("RA_WORKER_CONCURRENCY", defaultWorkerConcurrency)
	shutdownTimeout := time.Duration(envInt("RA_SHUTDOWN_TIMEOUT_SECONDS", defaultShutdownTimeoutSec)) * time.Second

	app, err := bootstrap.Build(cfg)
	if err != nil {
		telemetry.Error("worker.bootstrap_failed", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
	if app.Consumer == nil {
		telemetry.Error("worker.queue_missing", map[string]any{"backend": cfg.QueueBackend})
		os.Exit(1)
	}

	if app.Recoverer != nil {
		n, err := app.Recoverer.Recover(ctx)
		if err != nil {
			telemetry.Warn("worker.recover_failed", map[string]any{"error": err.Error()})
		} else if n > 0 {
			telemetry.Info("worker.recovered", map[string]any{"count": n})
		}
	}

	workerproc.Run(ctx, app.Consumer, app.Processor, workerproc.Options{
		Concurrency:     concurrency,
		ShutdownTimeout: shutdownTimeout,
	})
	if app.DB != nil {
		_ = app.DB.Close()
	}
}

func envInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val <= 0 {
		return def
	}
	return val
}
