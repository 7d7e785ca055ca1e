// Package worker implements the pipeline execution loop: per-queue worker
// goroutines, per-job-type dispatch, and the retry/give-up policy around
// every stage handler.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/curatorhq/curator/internal/content"
	"github.com/curatorhq/curator/internal/metrics"
)

// Handler executes one job.
type Handler func(ctx context.Context, job content.Job) error

// Fallback runs when a job is given up on, so a chain can continue without
// the failed stage.
type Fallback func(ctx context.Context, job content.Job) error

// Pool consumes the named queues and dispatches jobs to stage handlers.
type Pool struct {
	queue     content.Queue
	policy    *content.RetryPolicy
	clock     content.Clock
	logger    *zap.Logger
	workers   map[string]int
	handlers  map[content.JobType]Handler
	fallbacks map[content.JobType]Fallback

	wg      sync.WaitGroup
	timerWG sync.WaitGroup
}

// New constructs a Pool. workers maps queue names to goroutine counts;
// queues absent from the map get one worker.
func New(queue content.Queue, clock content.Clock, logger *zap.Logger, workers map[string]int) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		queue:     queue,
		policy:    content.NewRetryPolicy(),
		clock:     clock,
		logger:    logger,
		workers:   workers,
		handlers:  map[content.JobType]Handler{},
		fallbacks: map[content.JobType]Fallback{},
	}
}

// Register installs the handler for a job type.
func (p *Pool) Register(t content.JobType, h Handler) {
	p.handlers[t] = h
}

// RegisterFallback installs the continuation that runs when a job of this
// type is discarded after exhausting its retries.
func (p *Pool) RegisterFallback(t content.JobType, f Fallback) {
	p.fallbacks[t] = f
}

// Start launches the worker goroutines. They run until ctx is canceled.
func (p *Pool) Start(ctx context.Context) {
	for _, queue := range []string{
		content.QueueIngestion,
		content.QueueEnrichment,
		content.QueueEditorial,
		content.QueueScreenshots,
		content.QueueDefault,
		content.QueueLow,
	} {
		count := p.workers[queue]
		if count <= 0 {
			count = 1
		}
		for i := 0; i < count; i++ {
			p.wg.Add(1)
			go p.run(ctx, queue)
		}
	}
}

// Wait blocks until every worker goroutine and pending retry timer is done.
func (p *Pool) Wait() {
	p.wg.Wait()
	p.timerWG.Wait()
}

func (p *Pool) run(ctx context.Context, queue string) {
	defer p.wg.Done()
	for {
		job, err := p.queue.Dequeue(ctx, queue)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Error("dequeue failed", zap.String("queue", queue), zap.Error(err))
			continue
		}
		p.execute(ctx, job)
	}
}

func (p *Pool) execute(ctx context.Context, job content.Job) {
	log := p.logger.With(
		zap.String("job_type", string(job.Type)),
		zap.String("record_id", job.RecordID),
		zap.String("source_id", job.SourceID),
		zap.Int("attempt", job.Attempt),
	)

	handler, ok := p.handlers[job.Type]
	if !ok {
		log.Error("no handler registered for job type")
		metrics.ObserveJob(string(job.Type), "unhandled", 0)
		return
	}

	start := p.clock.Now()
	err := handler(ctx, job)
	duration := p.clock.Now().Sub(start)

	switch {
	case err == nil:
		metrics.ObserveJob(string(job.Type), "ok", duration)

	case errors.Is(err, content.ErrNotFound):
		// The entity is gone. Deleting content mid-pipeline is legitimate,
		// so the job vanishes without noise.
		log.Debug("job target missing, discarding", zap.Error(err))
		metrics.ObserveJob(string(job.Type), "not_found", duration)

	case p.policy.ShouldRetry(err, job.Attempt):
		delay := p.policy.Backoff(err, job.Attempt)
		log.Warn("job failed, scheduling retry",
			zap.Error(err),
			zap.Duration("backoff", delay),
		)
		metrics.ObserveJob(string(job.Type), "retry", duration)
		p.scheduleRetry(ctx, job, delay)

	default:
		log.Error("job failed permanently", zap.Error(err))
		metrics.ObserveJob(string(job.Type), "gave_up", duration)
		p.giveUp(ctx, job)
	}
}

func (p *Pool) scheduleRetry(ctx context.Context, job content.Job, delay time.Duration) {
	retry := job
	retry.Attempt++
	retry.Enqueued = p.clock.Now().Add(delay)

	p.timerWG.Add(1)
	timer := time.AfterFunc(delay, func() {
		defer p.timerWG.Done()
		if ctx.Err() != nil {
			return
		}
		if err := p.queue.Enqueue(ctx, retry); err != nil {
			p.logger.Error("re-enqueue retry failed",
				zap.String("job_type", string(retry.Type)),
				zap.Error(err),
			)
		}
	})
	go func() {
		<-ctx.Done()
		if timer.Stop() {
			p.timerWG.Done()
		}
	}()
}

func (p *Pool) giveUp(ctx context.Context, job content.Job) {
	fallback, ok := p.fallbacks[job.Type]
	if !ok {
		return
	}
	if err := fallback(ctx, job); err != nil {
		p.logger.Error("job fallback failed",
			zap.String("job_type", string(job.Type)),
			zap.String("record_id", job.RecordID),
			zap.Error(err),
		)
	}
}
