// Command lyssna-server runs the ingest orchestrator: the client-facing API
// that receives audio uploads and realtime streams, transcribes them through
// the gateway, persists sessions, and submits post-processing jobs to the
// worker.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hallqvist/lyssna/internal/client"
	"github.com/hallqvist/lyssna/internal/config"
	"github.com/hallqvist/lyssna/internal/ingest"
	"github.com/hallqvist/lyssna/internal/observe"
	"github.com/hallqvist/lyssna/internal/session"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to the YAML configuration file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "lyssna-server: %v\n", err)
		return 1
	}

	slog.SetDefault(newLogger(cfg.Ingest.LogLevel))
	slog.Info("lyssna-server starting",
		"listen_addr", cfg.Ingest.ListenAddr,
		"sessions_dir", cfg.Ingest.SessionsDir,
		"gateway_url", cfg.Ingest.GatewayURL,
		"worker_url", cfg.Ingest.WorkerURL,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "lyssna-server"})
	if err != nil {
		slog.Error("failed to initialise metrics", "err", err)
		return 1
	}
	defer shutdownMetrics(context.Background())

	sessions, err := session.NewStore(cfg.Ingest.SessionsDir)
	if err != nil {
		slog.Error("failed to open session store", "err", err)
		return 1
	}

	gatewayClient := client.NewWhisper(cfg.Ingest.GatewayURL)
	workerClient := client.NewWorker(cfg.Ingest.WorkerURL)

	svc := ingest.NewService(sessions, gatewayClient, workerClient)
	srv := ingest.NewServer(svc, sessions, gatewayClient, workerClient, cfg.Ingest.TranscriptionsDir).
		ListenAndServe(cfg.Ingest.ListenAddr)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	slog.Info("server ready")

	select {
	case err := <-errCh:
		slog.Error("server error", "err", err)
		return 1
	case <-ctx.Done():
	}

	slog.Info("shutdown signal received, stopping…")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
