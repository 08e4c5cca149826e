// Package main wires together the place crawler service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gcppubsub "cloud.google.com/go/pubsub"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/mapscout/placecrawler/internal/api"
	"github.com/mapscout/placecrawler/internal/clock/system"
	"github.com/mapscout/placecrawler/internal/config"
	"github.com/mapscout/placecrawler/internal/dispatcher"
	"github.com/mapscout/placecrawler/internal/enrich"
	"github.com/mapscout/placecrawler/internal/id/uuid"
	"github.com/mapscout/placecrawler/internal/logging"
	notifypubsub "github.com/mapscout/placecrawler/internal/notify/pubsub"
	"github.com/mapscout/placecrawler/internal/orchestrator"
	"github.com/mapscout/placecrawler/internal/progress"
	"github.com/mapscout/placecrawler/internal/progress/sinks"
	"github.com/mapscout/placecrawler/internal/queue"
	"github.com/mapscout/placecrawler/internal/scraper"
	"github.com/mapscout/placecrawler/internal/session"
	"github.com/mapscout/placecrawler/internal/storage/postgres"
	"github.com/mapscout/placecrawler/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "placecrawler: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfgPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.NewPool(ctx, postgres.PoolConfig{
		DSN:      cfg.DB.DSN,
		MaxConns: int32(cfg.DB.MaxConns),
	})
	if err != nil {
		return err
	}
	defer pool.Close()

	jobs, err := postgres.NewJobStore(pool)
	if err != nil {
		return err
	}
	places, err := postgres.NewPlaceStore(pool)
	if err != nil {
		return err
	}
	failures, err := postgres.NewFailureStore(pool)
	if err != nil {
		return err
	}
	events, err := postgres.NewEventStore(pool)
	if err != nil {
		return err
	}
	units, err := queue.NewDurable(pool, queue.Options{
		LeaseDuration: time.Duration(cfg.Queue.LeaseSeconds) * time.Second,
		PollInterval:  time.Duration(cfg.Queue.PollMS) * time.Millisecond,
		MaxAttempts:   cfg.Queue.MaxAttempts,
	})
	if err != nil {
		return err
	}

	broadcaster := sinks.NewBroadcaster()
	promSink, err := sinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	hub := progress.NewHub(
		progress.Config{Logger: logger.Named("progress")},
		sinks.NewLogSink(logger.Named("events")),
		promSink,
		broadcaster,
	)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := hub.Close(closeCtx); err != nil {
			logger.Warn("progress hub close failed", zap.Error(err))
		}
	}()

	var notifier scraper.Notifier
	if cfg.NotificationsEnabled() {
		client, err := gcppubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return fmt.Errorf("connect pubsub: %w", err)
		}
		defer client.Close() //nolint:errcheck // shutdown path
		notifier, err = notifypubsub.New(client.Topic(cfg.PubSub.TopicName), logger.Named("notify"))
		if err != nil {
			return err
		}
		logger.Info("notifications enabled", zap.String("topic", cfg.PubSub.TopicName))
	}

	// One browser per job execution; concurrent scrape workers must never
	// steer the same tab.
	browserCfg := session.Config{
		UserAgent:         cfg.Browser.UserAgent,
		AcceptLanguage:    cfg.Browser.AcceptLanguage,
		NavigationTimeout: time.Duration(cfg.Browser.NavTimeoutSeconds) * time.Second,
		RecordBudget:      cfg.Browser.RecordBudget,
		MaxAge:            time.Duration(cfg.Browser.MaxAgeMinutes) * time.Minute,
	}
	sessionLogger := logger.Named("session")
	newBrowser := func() scraper.Browser {
		return session.New(browserCfg, sessionLogger)
	}

	clock := system.New()
	orch, err := orchestrator.New(orchestrator.Deps{
		Jobs:       jobs,
		Places:     places,
		Failures:   failures,
		Events:     events,
		Queue:      units,
		NewBrowser: newBrowser,
		Detector:   scraper.NewChallengeDetector(nil, nil),
		Notifier:   notifier,
		Emitter:    hub,
		Clock:      clock,
		Logger:     logger.Named("orchestrator"),
	}, orchestrator.Config{MilestoneEvery: cfg.Scrape.MilestoneEvery})
	if err != nil {
		return err
	}

	fetcher, err := enrich.NewCollyFetcher(enrich.FetcherConfig{
		UserAgent:      cfg.Enrich.UserAgent,
		RequestTimeout: time.Duration(cfg.Enrich.TimeoutSeconds) * time.Second,
	}, logger.Named("enrich"))
	if err != nil {
		return err
	}
	pipeline, err := enrich.New(places, fetcher, hub, clock, logger.Named("enrich"),
		enrich.Config{MaxContactLinks: cfg.Enrich.MaxContactLinks})
	if err != nil {
		return err
	}

	scrapeRetry := worker.NewRetryPolicyWith(cfg.Queue.MaxAttempts, 0, 0)
	// Enrichment is best-effort: one delivery, no backoff retries.
	enrichRetry := worker.NewRetryPolicyWith(1, 0, 0)

	var workers []*worker.Worker
	for i := 0; i < cfg.Scrape.Workers; i++ {
		workers = append(workers, worker.New(
			units,
			worker.NewScrapeHandler(orch, logger.Named("scrape")),
			scrapeRetry,
			worker.Config{Kind: scraper.UnitScrape},
			logger.Named("scrape-worker").With(zap.Int("index", i)),
		))
	}
	for i := 0; i < cfg.Enrich.Workers; i++ {
		workers = append(workers, worker.New(
			units,
			worker.NewEnrichHandler(pipeline, logger.Named("enrich")),
			enrichRetry,
			worker.Config{Kind: scraper.UnitEnrich},
			logger.Named("enrich-worker").With(zap.Int("index", i)),
		))
	}
	dispatch := dispatcher.New(workers...)

	minDelay, maxDelay, restDuration, restEvery := cfg.DefaultPacing()
	apiCfg := api.Config{
		RequestTimeout:   time.Duration(cfg.Server.TimeoutSeconds) * time.Second,
		DefaultResultCap: cfg.Scrape.DefaultResultCap,
		MaxResultCap:     cfg.Scrape.MaxResultCap,
		DefaultPacing: scraper.Pacing{
			MinDelay:     minDelay,
			MaxDelay:     maxDelay,
			RestEvery:    restEvery,
			RestDuration: restDuration,
		},
	}
	if cfg.Auth.Enabled {
		apiCfg.APIKey = cfg.Auth.APIKey
	}
	ready := func() error {
		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return pool.Ping(pingCtx)
	}
	apiServer := api.NewServer(
		jobs, places, failures, events, units,
		broadcaster, uuid.New(), clock, ready,
		logger.Named("api"), apiCfg,
	)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	dispatcherDone := make(chan struct{})
	go func() {
		logger.Info("dispatcher started",
			zap.Int("scrape_workers", cfg.Scrape.Workers),
			zap.Int("enrich_workers", cfg.Enrich.Workers))
		dispatch.Run(ctx)
		close(dispatcherDone)
	}()

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	<-dispatcherDone
	logger.Info("shutdown complete")
	return nil
}
