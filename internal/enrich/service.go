package enrich

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/curatorhq/curator/internal/content"
	"github.com/curatorhq/curator/internal/metrics"
)

// Service executes the enrichment stage for one record at a time. It marks
// the record enriching before any external call, merges scraped metadata
// without clobbering adapter-provided fields, and hands the record to the
// next stage in the chain.
type Service struct {
	records      content.RecordStore
	sources      content.SourceStore
	queue        content.Queue
	scraper      content.Scraper
	pauses       content.PauseRegistry
	usage        content.UsageTracker
	clock        content.Clock
	logger       *zap.Logger
	editorialise bool
}

// NewService constructs a Service. editorialise is the deployment default
// for the AI stage: a source config may override it per source with a
// boolean "editorialise" key, and when false the chain continues straight
// to screenshots.
func NewService(
	records content.RecordStore,
	sources content.SourceStore,
	queue content.Queue,
	scraper content.Scraper,
	pauses content.PauseRegistry,
	usage content.UsageTracker,
	clock content.Clock,
	logger *zap.Logger,
	editorialise bool,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		records:      records,
		sources:      sources,
		queue:        queue,
		scraper:      scraper,
		pauses:       pauses,
		usage:        usage,
		clock:        clock,
		logger:       logger,
		editorialise: editorialise,
	}
}

// Enrich runs the enrichment stage for the job's record.
func (s *Service) Enrich(ctx context.Context, job content.Job) error {
	rec, err := s.records.GetByID(ctx, job.RecordID)
	if err != nil {
		return fmt.Errorf("load record %s: %w", job.RecordID, err)
	}
	log := s.logger.With(
		zap.String("record_id", rec.ID),
		zap.String("site_id", rec.SiteID),
	)

	paused, err := s.pauses.Paused(ctx, content.WorkflowEnrichment, rec.SiteID)
	if err != nil {
		return fmt.Errorf("check workflow pause: %w", err)
	}
	if paused {
		// Drop the job without touching the record. Ingestion re-enqueues on
		// the next run and the stale sweep catches anything left behind.
		log.Info("enrichment paused, dropping job")
		metrics.ObservePauseSkip(string(content.WorkflowEnrichment))
		return nil
	}

	// The in-flight marker goes down before the scrape so a crash mid-call
	// is visible in the stored state.
	rec.EnrichmentStatus = content.EnrichmentEnriching
	rec.UpdatedAt = s.clock.Now()
	if err := s.records.Update(ctx, rec); err != nil {
		return fmt.Errorf("mark record enriching: %w", err)
	}

	meta, err := s.scraper.Scrape(ctx, rec.CanonicalURL)
	if err != nil {
		if failErr := s.fail(ctx, rec, err); failErr != nil {
			log.Error("persist enrichment failure", zap.Error(failErr))
		}
		return fmt.Errorf("scrape %s: %w", rec.CanonicalURL, err)
	}

	merge(&rec, meta)
	now := s.clock.Now()
	rec.EnrichedAt = &now
	rec.UpdatedAt = now
	if err := s.records.Update(ctx, rec); err != nil {
		return fmt.Errorf("store enriched record: %w", err)
	}

	next := s.nextStage(ctx, rec)
	nextJob := content.NewJob(next)
	nextJob.SiteID = rec.SiteID
	nextJob.RecordID = rec.ID
	nextJob.Enqueued = now
	if err := s.queue.Enqueue(ctx, nextJob); err != nil {
		return fmt.Errorf("enqueue %s: %w", next, err)
	}
	log.Debug("record enriched", zap.String("next_stage", string(next)))
	return nil
}

// nextStage picks the stage after enrichment. The AI stage is skipped when
// the record's source disables editorialisation or the site is out of AI
// budget; the record still completes through the screenshot stage.
func (s *Service) nextStage(ctx context.Context, rec content.Record) content.JobType {
	if !s.editorialiseFor(ctx, rec) {
		return content.JobScreenshot
	}
	allowed, err := s.usage.Allow(ctx, rec.SiteID)
	if err != nil {
		s.logger.Warn("ai budget check failed, skipping editorialisation",
			zap.String("site_id", rec.SiteID),
			zap.Error(err),
		)
		return content.JobScreenshot
	}
	if !allowed {
		s.logger.Info("ai budget exhausted, skipping editorialisation",
			zap.String("site_id", rec.SiteID),
		)
		return content.JobScreenshot
	}
	return content.JobEditorialise
}

// editorialiseFor resolves the AI-stage toggle for a record. A boolean
// "editorialise" key in the source config wins when set; the deployment
// default applies otherwise. A deployment with no AI client configured
// never routes to the editorial queue regardless of source config.
func (s *Service) editorialiseFor(ctx context.Context, rec content.Record) bool {
	if !s.editorialise {
		return false
	}
	if rec.SourceID == "" {
		return true
	}
	src, err := s.sources.Get(ctx, rec.SourceID)
	if err != nil {
		s.logger.Warn("resolve source editorialise flag, using default",
			zap.String("record_id", rec.ID),
			zap.String("source_id", rec.SourceID),
			zap.Error(err),
		)
		return true
	}
	if v, ok := src.Config["editorialise"].(bool); ok {
		return v
	}
	return true
}

func (s *Service) fail(ctx context.Context, rec content.Record, cause error) error {
	rec.EnrichmentStatus = content.EnrichmentFailed
	rec.EnrichmentErrors = append(rec.EnrichmentErrors, cause.Error())
	rec.UpdatedAt = s.clock.Now()
	return s.records.Update(ctx, rec)
}

// merge folds scraped metadata into the record. Adapter-provided fields are
// kept when present; only the scrape-owned fields are always refreshed.
func merge(rec *content.Record, meta content.PageMetadata) {
	rec.FinalURL = meta.FinalURL
	rec.Text = meta.Text
	if rec.Title == "" || rec.Title == content.TitleFromURL(rec.CanonicalURL) {
		if meta.Title != "" {
			rec.Title = meta.Title
		}
	}
	if rec.Description == "" && meta.Description != "" {
		rec.Description = meta.Description
	}
	if rec.ImageURL == "" && meta.ImageURL != "" {
		rec.ImageURL = meta.ImageURL
	}
	if meta.SiteName != "" {
		if rec.RawPayload == nil {
			rec.RawPayload = map[string]any{}
		}
		rec.RawPayload["site_name"] = meta.SiteName
	}
}
