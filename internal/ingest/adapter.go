package ingest

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/curatorhq/curator/internal/content"
	"github.com/curatorhq/curator/internal/metrics"
)

// Adapter fetches items from one kind of external source and maps them into
// the normalized Item shape. Adapters never write records themselves.
type Adapter interface {
	// Kind is the source kind this adapter serves.
	Kind() content.SourceKind

	// WorkflowType is the pause workflow guarding this adapter's runs.
	WorkflowType() content.WorkflowType

	// Sync reports whether repeat runs update existing records. Feed and
	// community adapters deduplicate only; search adapters refresh results.
	Sync() bool

	// Fetch retrieves and normalizes the source's current items.
	Fetch(ctx context.Context, src content.Source) ([]content.Item, error)
}

// RateLimiter gates adapter runs per source.
type RateLimiter interface {
	Allowed(ctx context.Context, source content.Source) (bool, error)
}

// Runner executes one import run for one source: pause and rate-limit gates,
// run bookkeeping, per-item upserts with failure isolation.
type Runner struct {
	sources  content.SourceStore
	runs     content.RunStore
	engine   *Engine
	pauses   content.PauseRegistry
	limiter  RateLimiter
	adapters map[content.SourceKind]Adapter
	idGen    content.IDGenerator
	clock    content.Clock
	logger   *zap.Logger
}

// NewRunner constructs a Runner with no adapters registered.
func NewRunner(
	sources content.SourceStore,
	runs content.RunStore,
	engine *Engine,
	pauses content.PauseRegistry,
	limiter RateLimiter,
	idGen content.IDGenerator,
	clock content.Clock,
	logger *zap.Logger,
) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		sources:  sources,
		runs:     runs,
		engine:   engine,
		pauses:   pauses,
		limiter:  limiter,
		adapters: map[content.SourceKind]Adapter{},
		idGen:    idGen,
		clock:    clock,
		logger:   logger,
	}
}

// Register installs an adapter for its source kind, replacing any previous
// adapter of the same kind.
func (r *Runner) Register(a Adapter) {
	r.adapters[a.Kind()] = a
}

// Run executes an import run for the given source. Disabled, paused and
// rate-limited sources short-circuit before any ImportRun is created; only
// runs that actually fetch appear in run history.
func (r *Runner) Run(ctx context.Context, sourceID string) error {
	src, err := r.sources.Get(ctx, sourceID)
	if err != nil {
		return fmt.Errorf("load source %s: %w", sourceID, err)
	}
	log := r.logger.With(
		zap.String("source_id", src.ID),
		zap.String("site_id", src.SiteID),
		zap.String("kind", string(src.Kind)),
	)

	if !src.Enabled {
		log.Debug("source disabled, skipping run")
		return r.sources.SetStatus(ctx, src.ID, content.SourceStatusSkipped)
	}

	adapter, ok := r.adapters[src.Kind]
	if !ok {
		return &content.ConfigurationError{
			Key: "kind",
			Err: fmt.Errorf("no adapter registered for source kind %q", src.Kind),
		}
	}

	paused, err := r.pauses.Paused(ctx, adapter.WorkflowType(), src.SiteID)
	if err != nil {
		return fmt.Errorf("check workflow pause: %w", err)
	}
	if paused {
		log.Info("workflow paused, skipping run",
			zap.String("workflow", string(adapter.WorkflowType())),
		)
		metrics.ObservePauseSkip(string(adapter.WorkflowType()))
		return r.sources.SetStatus(ctx, src.ID, content.SourceStatusWorkflowPaused)
	}

	allowed, err := r.limiter.Allowed(ctx, src)
	if err != nil {
		return fmt.Errorf("check rate limit: %w", err)
	}
	if !allowed {
		log.Info("source rate limited, skipping run")
		metrics.ObserveRateLimited()
		return r.sources.SetStatus(ctx, src.ID, content.SourceStatusRateLimited)
	}

	runID, err := r.idGen.NewID()
	if err != nil {
		return fmt.Errorf("generate run id: %w", err)
	}
	run := content.ImportRun{
		ID:        runID,
		SourceID:  src.ID,
		SiteID:    src.SiteID,
		Status:    content.RunStatusRunning,
		StartedAt: r.clock.Now(),
	}
	if err := r.runs.Create(ctx, run); err != nil {
		return fmt.Errorf("create import run: %w", err)
	}

	items, err := adapter.Fetch(ctx, src)
	if err != nil {
		return r.failRun(ctx, run, src, err)
	}

	run.Counters.ItemsTotal = len(items)
	for _, item := range items {
		created, itemErr := r.apply(ctx, adapter, src, item)
		switch {
		case itemErr != nil:
			run.Counters.ItemsFailed++
			metrics.ObserveItem(string(src.Kind), "failed")
			log.Warn("item failed", zap.String("url", item.URL), zap.Error(itemErr))
		case created:
			run.Counters.ItemsCreated++
			metrics.ObserveItem(string(src.Kind), "created")
		default:
			run.Counters.ItemsUpdated++
			metrics.ObserveItem(string(src.Kind), "updated")
		}
	}

	now := r.clock.Now()
	run.Status = content.RunStatusCompleted
	run.CompletedAt = &now
	if err := r.runs.Finalize(ctx, run); err != nil {
		return fmt.Errorf("finalize import run: %w", err)
	}
	if err := r.sources.MarkRun(ctx, src.ID, content.SourceStatusSuccess, now); err != nil {
		return fmt.Errorf("mark source run: %w", err)
	}
	metrics.ObserveRun(string(src.Kind), string(content.RunStatusCompleted))
	log.Info("import run completed",
		zap.String("run_id", run.ID),
		zap.Int("items_total", run.Counters.ItemsTotal),
		zap.Int("items_created", run.Counters.ItemsCreated),
		zap.Int("items_updated", run.Counters.ItemsUpdated),
		zap.Int("items_failed", run.Counters.ItemsFailed),
	)
	return nil
}

// apply upserts one item. A nil record with nil error means the item's URL
// was blank or unparseable; that counts as a failure for the run counters.
func (r *Runner) apply(
	ctx context.Context,
	adapter Adapter,
	src content.Source,
	item content.Item,
) (bool, error) {
	var (
		rec     *content.Record
		created bool
		err     error
	)
	if adapter.Sync() {
		rec, created, err = r.engine.Sync(ctx, src.SiteID, src.Category, item, src.ID)
	} else {
		rec, created, err = r.engine.Upsert(ctx, src.SiteID, src.Category, item, src.ID)
	}
	if err != nil {
		return false, err
	}
	if rec == nil {
		return false, fmt.Errorf("item url %q: %w", item.URL, content.ErrInvalidURL)
	}
	return created, nil
}

func (r *Runner) failRun(ctx context.Context, run content.ImportRun, src content.Source, fetchErr error) error {
	now := r.clock.Now()
	run.Status = content.RunStatusFailed
	run.CompletedAt = &now
	run.ErrorText = fetchErr.Error()
	if err := r.runs.Finalize(ctx, run); err != nil {
		r.logger.Error("finalize failed run", zap.String("run_id", run.ID), zap.Error(err))
	}
	status := "error: " + truncate(fetchErr.Error(), 200)
	if err := r.sources.MarkRun(ctx, src.ID, status, now); err != nil {
		r.logger.Error("mark source run", zap.String("source_id", src.ID), zap.Error(err))
	}
	metrics.ObserveRun(string(src.Kind), string(content.RunStatusFailed))
	return fmt.Errorf("fetch source %s: %w", src.ID, fetchErr)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
