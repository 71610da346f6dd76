package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/SamuelOjuri/TechnicalDesignAssistant/internal/config"
	"github.com/SamuelOjuri/TechnicalDesignAssistant/internal/extract"
	"github.com/SamuelOjuri/TechnicalDesignAssistant/internal/httpapi"
	"github.com/SamuelOjuri/TechnicalDesignAssistant/internal/jobs"
	"github.com/SamuelOjuri/TechnicalDesignAssistant/internal/persistence"
	"github.com/SamuelOjuri/TechnicalDesignAssistant/internal/progress"
	"github.com/SamuelOjuri/TechnicalDesignAssistant/internal/ratelimit"
	"github.com/SamuelOjuri/TechnicalDesignAssistant/internal/reasoning"
	"github.com/SamuelOjuri/TechnicalDesignAssistant/internal/relay"
	"github.com/SamuelOjuri/TechnicalDesignAssistant/pkg/log"
)

func main() {
	// Missing .env is fine; real deployments use environment variables.
	_ = godotenv.Load()

	log.InitLogger(log.LevelInfo)

	cfg, err := config.NewFromEnv()
	if err != nil {
		log.Fatal("Failed to load configuration: %v", err)
	}

	store, cleanup, err := newStore(cfg)
	if err != nil {
		log.Fatal("Failed to open progress store: %v", err)
	}
	defer cleanup()

	limiter := ratelimit.NewLimiter(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.MaxConcurrent)

	client, err := reasoning.NewClient(&reasoning.Config{
		APIKey:  cfg.Reasoning.APIKey,
		APIURL:  cfg.Reasoning.APIURL,
		Timeout: cfg.Reasoning.Timeout,
	})
	if err != nil {
		log.Fatal("Failed to create reasoning client: %v", err)
	}
	svc := reasoning.NewRetryService(client, limiter,
		reasoning.WithMaxRetries(cfg.Reasoning.MaxRetries),
		reasoning.WithWaitTimeout(time.Duration(cfg.RateLimit.WaitTimeout)*time.Second),
	)

	extractor := extract.NewExtractor(svc, cfg.Reasoning.Model, cfg.Reasoning.BatchModel)

	queue := jobs.NewQueue(cfg.Jobs.WorkerCount)
	orch := jobs.NewOrchestrator(queue, store, extractor, svc, cfg.Reasoning.Model, cfg.Jobs.MaxItemWorkers)
	orch.Start()
	defer orch.Stop()

	hub := relay.NewHub()
	rel := relay.New(store, hub)
	defer rel.Stop()

	sweeper := cron.New()
	_, err = sweeper.AddFunc(cfg.Jobs.SweepCron, func() {
		removed, err := store.Sweep(context.Background())
		if err != nil {
			log.Error("TTL sweep failed: %v", err)
			return
		}
		if removed > 0 {
			log.Info("TTL sweep removed %d expired jobs", removed)
		}
	})
	if err != nil {
		log.Fatal("Invalid JOB_SWEEP_CRON %q: %v", cfg.Jobs.SweepCron, err)
	}
	sweeper.Start()
	defer sweeper.Stop()

	server := httpapi.NewServer(orch, store, hub, rel)

	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening on %s", cfg.Server.Addr)
		errCh <- server.ListenAndServe(cfg.Server.Addr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("Received %s, shutting down", sig)
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server failed: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Shutdown: %v", err)
	}
}

// newStore picks the durable sqlite store when DB_PATH is set and falls back
// to the in-memory store otherwise.
func newStore(cfg *config.Config) (progress.Store, func(), error) {
	if cfg.Server.DBPath == "" {
		log.Info("Using in-memory progress store")
		return progress.NewMemoryStore(progress.WithTTL(cfg.JobTTL())), func() {}, nil
	}

	store, err := persistence.NewSQLiteStore(cfg.Server.DBPath, persistence.WithTTL(cfg.JobTTL()))
	if err != nil {
		return nil, nil, err
	}
	log.Info("Using sqlite progress store at %s", cfg.Server.DBPath)
	return store, func() { _ = store.Close() }, nil
}
