package enrich

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/curatorhq/curator/internal/content"
)

// Sweeper re-enqueues enrichment for completed records whose metadata has
// gone stale. It runs on the low-priority queue so backfill never starves
// fresh ingestion.
type Sweeper struct {
	records    content.RecordStore
	queue      content.Queue
	clock      content.Clock
	logger     *zap.Logger
	staleAfter time.Duration
	batchSize  int
}

// NewSweeper constructs a Sweeper.
func NewSweeper(
	records content.RecordStore,
	queue content.Queue,
	clock content.Clock,
	logger *zap.Logger,
	staleAfter time.Duration,
	batchSize int,
) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if staleAfter <= 0 {
		staleAfter = 7 * 24 * time.Hour
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Sweeper{
		records:    records,
		queue:      queue,
		clock:      clock,
		logger:     logger,
		staleAfter: staleAfter,
		batchSize:  batchSize,
	}
}

// Sweep resets stale records to pending and enqueues one enrichment job per
// record, oldest first, up to the batch size. The reset lands before the
// enqueue so a swept record is visible as pending even if the job is lost.
// It returns how many jobs were enqueued.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := s.clock.Now().Add(-s.staleAfter)
	stale, err := s.records.ListStale(ctx, cutoff, s.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list stale records: %w", err)
	}

	enqueued := 0
	for _, rec := range stale {
		rec.EnrichmentStatus = content.EnrichmentPending
		rec.UpdatedAt = s.clock.Now()
		if err := s.records.Update(ctx, rec); err != nil {
			return enqueued, fmt.Errorf("reset stale record %s: %w", rec.ID, err)
		}

		job := content.NewJob(content.JobEnrich)
		job.SiteID = rec.SiteID
		job.RecordID = rec.ID
		job.Enqueued = s.clock.Now()
		if err := s.queue.Enqueue(ctx, job); err != nil {
			return enqueued, fmt.Errorf("enqueue stale enrichment: %w", err)
		}
		enqueued++
	}
	if enqueued > 0 {
		s.logger.Info("stale sweep enqueued records", zap.Int("count", enqueued))
	}
	return enqueued, nil
}
