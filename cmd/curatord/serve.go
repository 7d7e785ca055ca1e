package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gstorage "cloud.google.com/go/storage"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/curatorhq/curator/internal/api"
	"github.com/curatorhq/curator/internal/clock/system"
	"github.com/curatorhq/curator/internal/config"
	"github.com/curatorhq/curator/internal/content"
	"github.com/curatorhq/curator/internal/editorial"
	"github.com/curatorhq/curator/internal/enrich"
	"github.com/curatorhq/curator/internal/id/uuid"
	"github.com/curatorhq/curator/internal/ingest"
	"github.com/curatorhq/curator/internal/logging"
	"github.com/curatorhq/curator/internal/metrics"
	"github.com/curatorhq/curator/internal/pause"
	"github.com/curatorhq/curator/internal/policy/ratelimit"
	pubmem "github.com/curatorhq/curator/internal/publisher/memory"
	pubgcp "github.com/curatorhq/curator/internal/publisher/pubsub"
	queuemem "github.com/curatorhq/curator/internal/queue/memory"
	"github.com/curatorhq/curator/internal/screenshot"
	"github.com/curatorhq/curator/internal/storage/gcs"
	"github.com/curatorhq/curator/internal/storage/local"
	storemem "github.com/curatorhq/curator/internal/storage/memory"
	"github.com/curatorhq/curator/internal/storage/postgres"
	"github.com/curatorhq/curator/internal/worker"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the ingestion pipeline and the admin API.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

// storeSet groups the persistence interfaces so memory and Postgres
// backends swap as a unit.
type storeSet struct {
	records  content.RecordStore
	sources  content.SourceStore
	runs     content.RunStore
	pauses   content.PauseStore
	attempts content.EditorialStore
}

func runServe(ctx context.Context) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.Init()

	clk := system.New()
	idGen := uuid.NewGenerator()
	jobQueue := queuemem.NewQueue(cfg.Queue.Depth)

	stores, closeStores, err := buildStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStores()

	blobs, closeBlobs, err := buildBlobStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeBlobs()

	publisher, closePublisher, err := buildPublisher(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closePublisher()

	registry := pause.New(stores.pauses, idGen, clk,
		time.Duration(cfg.Enrich.PauseTTLSeconds)*time.Second, logger)
	limiter := ratelimit.New(stores.runs, clk, ratelimit.Config{
		Window:  cfg.RateWindow(),
		MaxRuns: cfg.Ingest.RateMaxRuns,
	})

	engine := ingest.NewEngine(stores.records, jobQueue, idGen, clk, logger)
	runner := ingest.NewRunner(stores.sources, stores.runs, engine, registry, limiter, idGen, clk, logger)
	runner.Register(ingest.NewFeedAdapter(cfg.Ingest.UserAgent, cfg.IngestTimeout()))
	runner.Register(ingest.NewSearchAPIAdapter(cfg.Ingest.UserAgent, cfg.IngestTimeout()))
	runner.Register(ingest.NewCommunityAdapter(cfg.Ingest.UserAgent, cfg.IngestTimeout()))

	budget := editorial.NewBudgetTracker(clk, cfg.Editorial.DailyTokens)
	editorialEnabled := cfg.Editorial.BaseURL != "" && cfg.Editorial.APIKey != ""

	scraper := enrich.NewCollyScraper(enrich.ScraperConfig{
		UserAgent: cfg.Ingest.UserAgent,
		Timeout:   time.Duration(cfg.Enrich.TimeoutSeconds) * time.Second,
	})
	enricher := enrich.NewService(stores.records, stores.sources, jobQueue, scraper, registry, budget, clk, logger, editorialEnabled)
	sweeper := enrich.NewSweeper(stores.records, jobQueue, clk, logger, cfg.StaleAfter(), cfg.Enrich.SweepBatchSize)

	aiClient := editorial.NewHTTPClient(editorial.HTTPClientConfig{
		BaseURL: cfg.Editorial.BaseURL,
		APIKey:  cfg.Editorial.APIKey,
		Model:   cfg.Editorial.Model,
		Timeout: time.Duration(cfg.Editorial.TimeoutSeconds) * time.Second,
	})
	editor := editorial.NewService(stores.records, stores.attempts, jobQueue, aiClient, registry, budget,
		idGen, clk, logger, editorial.ServiceConfig{
			MaxTokens:    cfg.Editorial.MaxTokens,
			MinTextChars: cfg.Editorial.MinTextChars,
		})

	var capturer content.Screenshotter
	var chrome *screenshot.ChromedpCapturer
	if cfg.Screenshot.Enabled {
		chrome, err = screenshot.NewChromedpCapturer(screenshot.CapturerConfig{
			MaxParallel:       cfg.Screenshot.MaxParallel,
			UserAgent:         cfg.Screenshot.UserAgent,
			NavigationTimeout: time.Duration(cfg.Screenshot.NavTimeoutSec) * time.Second,
			DomainQPS:         cfg.Screenshot.DomainQPS,
		})
		if err != nil {
			return fmt.Errorf("init screenshot capturer: %w", err)
		}
		capturer = chrome
	}
	shots := screenshot.NewService(stores.records, blobs, capturer, publisher, registry, clk, logger,
		screenshot.ServiceConfig{
			Enabled:    cfg.Screenshot.Enabled,
			BlobPrefix: cfg.Screenshot.BlobPrefix,
			Topic:      cfg.PubSub.TopicName,
		})

	pool := worker.New(jobQueue, clk, logger, cfg.Queue.Workers)
	pool.Register(content.JobSourceRun, func(ctx context.Context, job content.Job) error {
		return runner.Run(ctx, job.SourceID)
	})
	pool.Register(content.JobEnrich, enricher.Enrich)
	pool.Register(content.JobEditorialise, editor.Editorialise)
	pool.Register(content.JobScreenshot, shots.Process)
	pool.Register(content.JobStaleSweep, func(ctx context.Context, _ content.Job) error {
		_, err := sweeper.Sweep(ctx)
		return err
	})
	// A given-up editorial job must not strand the record mid-chain.
	pool.RegisterFallback(content.JobEditorialise, func(ctx context.Context, job content.Job) error {
		next := content.NewJob(content.JobScreenshot)
		next.SiteID = job.SiteID
		next.RecordID = job.RecordID
		next.Enqueued = clk.Now()
		return jobQueue.Enqueue(ctx, next)
	})
	pool.RegisterFallback(content.JobScreenshot, func(ctx context.Context, job content.Job) error {
		return shots.Complete(ctx, job.RecordID)
	})
	pool.Start(ctx)

	scheduler := worker.NewScheduler(stores.sources, jobQueue, clk, logger, worker.SchedulerConfig{
		RefreshEvery: time.Duration(cfg.Ingest.RefreshMinutes) * time.Minute,
		SweepEvery:   time.Duration(cfg.Enrich.SweepMinutes) * time.Minute,
	})
	go scheduler.Run(ctx)

	server := api.NewServer(stores.records, stores.sources, stores.runs, registry, jobQueue, clk, logger,
		api.Config{APIKey: cfg.Server.APIKey})
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("admin server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("admin server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("admin server shutdown", zap.Error(err))
	}

	pool.Wait()
	jobQueue.Close()
	if chrome != nil {
		chrome.Close()
	}

	logger.Info("shutdown complete")
	return nil
}

func buildStores(ctx context.Context, cfg config.Config, logger *zap.Logger) (storeSet, func(), error) {
	if cfg.DB.DSN == "" {
		logger.Info("no database configured, using in-memory stores")
		return storeSet{
			records:  storemem.NewRecordStore(),
			sources:  storemem.NewSourceStore(),
			runs:     storemem.NewRunStore(),
			pauses:   storemem.NewPauseStore(),
			attempts: storemem.NewEditorialStore(),
		}, func() {}, nil
	}

	pool, err := postgres.NewPool(ctx, postgres.Config{
		DSN:             cfg.DB.DSN,
		MaxConns:        cfg.DB.MaxConns,
		MinConns:        cfg.DB.MinConns,
		MaxConnLifetime: time.Duration(cfg.DB.MaxConnLifetime) * time.Minute,
	})
	if err != nil {
		return storeSet{}, nil, fmt.Errorf("connect postgres: %w", err)
	}
	return storeSet{
		records:  postgres.NewRecordStore(pool),
		sources:  postgres.NewSourceStore(pool),
		runs:     postgres.NewRunStore(pool),
		pauses:   postgres.NewPauseStore(pool),
		attempts: postgres.NewEditorialStore(pool),
	}, pool.Close, nil
}

func buildBlobStore(ctx context.Context, cfg config.Config) (content.BlobStore, func(), error) {
	switch cfg.Screenshot.StorageBackend {
	case "gcs":
		client, err := gstorage.NewClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("init gcs client: %w", err)
		}
		store, err := gcs.New(client, gcs.Config{Bucket: cfg.Screenshot.GCSBucket})
		if err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("init gcs blob store: %w", err)
		}
		return store, func() { _ = client.Close() }, nil
	case "local":
		store, err := local.New(local.Config{BaseDir: cfg.Screenshot.LocalDir})
		if err != nil {
			return nil, nil, fmt.Errorf("init local blob store: %w", err)
		}
		return store, func() {}, nil
	default:
		return storemem.NewBlobStore(), func() {}, nil
	}
}

func buildPublisher(ctx context.Context, cfg config.Config, logger *zap.Logger) (content.Publisher, func(), error) {
	if cfg.PubSub.ProjectID == "" || cfg.PubSub.TopicName == "" {
		logger.Info("no pub/sub topic configured, publication events stay in process")
		return pubmem.New(), func() {}, nil
	}
	pub, err := pubgcp.New(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicName)
	if err != nil {
		return nil, nil, fmt.Errorf("init pub/sub publisher: %w", err)
	}
	return pub, func() { _ = pub.Close() }, nil
}
