// Command lyssna-worker runs the post-processing pipeline worker: a loopback
// HTTP job API backed by a persistent sqlite queue. Jobs run the staged
// pipeline (confidence, retry, diarization, language detection, text
// processing, PII flagging, summary) and write their results back into the
// session store.
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
	"github.com/hallqvist/lyssna/internal/engine/sherpa"
	"github.com/hallqvist/lyssna/internal/jobs"
	"github.com/hallqvist/lyssna/internal/observe"
	"github.com/hallqvist/lyssna/internal/pipeline"
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
		fmt.Fprintf(os.Stderr, "lyssna-worker: %v\n", err)
		return 1
	}

	slog.SetDefault(newLogger(cfg.Worker.LogLevel))
	slog.Info("lyssna-worker starting",
		"listen_addr", cfg.Worker.ListenAddr,
		"jobs_db", cfg.Pipeline.JobsDBPath,
		"sessions_dir", cfg.Pipeline.SessionsDir,
		"max_concurrent_jobs", cfg.Pipeline.MaxConcurrentJobs,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "lyssna-worker"})
	if err != nil {
		slog.Error("failed to initialise metrics", "err", err)
		return 1
	}
	defer shutdownMetrics(context.Background())
	metrics := observe.DefaultMetrics()

	store, err := jobs.Open(cfg.Pipeline.JobsDBPath)
	if err != nil {
		slog.Error("failed to open job store", "err", err)
		return 1
	}
	sessions, err := session.NewStore(cfg.Pipeline.SessionsDir)
	if err != nil {
		slog.Error("failed to open session store", "err", err)
		return 1
	}

	whisper := client.NewWhisper(cfg.Pipeline.WhisperAPIURL,
		client.WithRetries(cfg.Pipeline.HTTPRetries, cfg.Pipeline.HTTPRetryBackoff),
		client.WithHTTPClient(&http.Client{Timeout: cfg.Pipeline.HTTPTimeout}),
	)

	var diarizer pipeline.Diarizer
	if cfg.Pipeline.DiarizationSegModel != "" && cfg.Pipeline.DiarizationEmbModel != "" {
		d, err := sherpa.NewDiarizer(sherpa.DiarizerConfig{
			SegmentationModel: cfg.Pipeline.DiarizationSegModel,
			EmbeddingModel:    cfg.Pipeline.DiarizationEmbModel,
		})
		if err != nil {
			// Diarization degrades to UNKNOWN speakers without a model.
			slog.Warn("diarizer unavailable", "err", err)
		} else {
			defer d.Close()
			diarizer = d
		}
	}

	runner := pipeline.NewRunner(cfg.Pipeline, store, sessions,
		whisper, diarizer, pipeline.NewSummarizer(cfg.Pipeline), metrics)

	queue := jobs.NewQueue(store, runner, cfg.Pipeline.MaxConcurrentJobs, metrics)
	if err := queue.Start(ctx); err != nil {
		slog.Error("failed to start job queue", "err", err)
		return 1
	}

	srv := &http.Server{
		Addr:              cfg.Worker.ListenAddr,
		Handler:           jobs.NewServer(store, queue, metrics).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	slog.Info("worker ready")

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

	// Let in-flight jobs finish before the process exits.
	queue.Wait()
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
