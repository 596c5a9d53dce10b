// Command lyssna-gateway runs the Swedish speech-to-text transcription
// gateway: the HTTP/WebSocket front for the whisper.cpp and sherpa-onnx ASR
// backends.
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

	"github.com/hallqvist/lyssna/internal/config"
	"github.com/hallqvist/lyssna/internal/engine/sherpa"
	"github.com/hallqvist/lyssna/internal/engine/whispercpp"
	"github.com/hallqvist/lyssna/internal/gateway"
	"github.com/hallqvist/lyssna/internal/observe"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to the YAML configuration file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "lyssna-gateway: %v\n", err)
		return 1
	}

	slog.SetDefault(newLogger(cfg.Gateway.LogLevel))
	slog.Info("lyssna-gateway starting",
		"listen_addr", cfg.Gateway.ListenAddr,
		"default_profile", cfg.Gateway.DefaultProfile,
		"models_dir", cfg.Gateway.ModelsDir,
		"onnx_models_dir", cfg.Gateway.ONNXModelsDir,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "lyssna-gateway",
		ServiceVersion: gateway.Version,
	})
	if err != nil {
		slog.Error("failed to initialise metrics", "err", err)
		return 1
	}
	defer shutdownMetrics(context.Background())

	primary := whispercpp.New(cfg.Gateway.ModelsDir, whispercpp.WithThreads(cfg.Gateway.Threads))
	defer primary.Close()
	accelerator := sherpa.New(cfg.Gateway.ONNXModelsDir)
	defer accelerator.Close()

	svc := gateway.NewService(primary, accelerator, cfg.Gateway.DefaultProfile, observe.DefaultMetrics())
	srv := gateway.NewServer(svc).ListenAndServe(cfg.Gateway.ListenAddr)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	slog.Info("gateway ready")

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
