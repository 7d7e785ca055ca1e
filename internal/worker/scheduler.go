package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/curatorhq/curator/internal/content"
)

// SchedulerConfig tunes the periodic job producers.
type SchedulerConfig struct {
	RefreshEvery time.Duration
	SweepEvery   time.Duration
}

// Scheduler periodically enqueues source runs for due sources and the stale
// record sweep. Pause and rate-limit decisions stay with the job handlers;
// the scheduler only produces work.
type Scheduler struct {
	sources content.SourceStore
	queue   content.Queue
	clock   content.Clock
	logger  *zap.Logger
	cfg     SchedulerConfig
}

// NewScheduler constructs a Scheduler.
func NewScheduler(
	sources content.SourceStore,
	queue content.Queue,
	clock content.Clock,
	logger *zap.Logger,
	cfg SchedulerConfig,
) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RefreshEvery <= 0 {
		cfg.RefreshEvery = 30 * time.Minute
	}
	if cfg.SweepEvery <= 0 {
		cfg.SweepEvery = time.Hour
	}
	return &Scheduler{
		sources: sources,
		queue:   queue,
		clock:   clock,
		logger:  logger,
		cfg:     cfg,
	}
}

// Run blocks, producing jobs on its tickers until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) {
	refresh := time.NewTicker(s.cfg.RefreshEvery)
	defer refresh.Stop()
	sweep := time.NewTicker(s.cfg.SweepEvery)
	defer sweep.Stop()

	// One pass at startup so a fresh deploy does not idle for a full tick.
	s.EnqueueDueSources(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-refresh.C:
			s.EnqueueDueSources(ctx)
		case <-sweep.C:
			s.EnqueueSweep(ctx)
		}
	}
}

// EnqueueDueSources enqueues one source-run job per enabled source that has
// not run within the refresh interval.
func (s *Scheduler) EnqueueDueSources(ctx context.Context) {
	sources, err := s.sources.ListEnabled(ctx)
	if err != nil {
		s.logger.Error("list enabled sources", zap.Error(err))
		return
	}

	now := s.clock.Now()
	for _, src := range sources {
		if src.LastRunAt != nil && now.Sub(*src.LastRunAt) < s.cfg.RefreshEvery {
			continue
		}
		job := content.NewJob(content.JobSourceRun)
		job.SiteID = src.SiteID
		job.SourceID = src.ID
		job.Enqueued = now
		if err := s.queue.Enqueue(ctx, job); err != nil {
			s.logger.Error("enqueue source run",
				zap.String("source_id", src.ID),
				zap.Error(err),
			)
			return
		}
	}
}

// EnqueueSweep enqueues one stale sweep job.
func (s *Scheduler) EnqueueSweep(ctx context.Context) {
	job := content.NewJob(content.JobStaleSweep)
	job.Enqueued = s.clock.Now()
	if err := s.queue.Enqueue(ctx, job); err != nil {
		s.logger.Error("enqueue stale sweep", zap.Error(err))
	}
}
