package screenshot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"

	"go.uber.org/zap"

	"github.com/curatorhq/curator/internal/content"
	"github.com/curatorhq/curator/internal/metrics"
)

// ServiceConfig tunes the screenshot stage.
type ServiceConfig struct {
	Enabled    bool
	BlobPrefix string
	Topic      string
}

// Service executes the last pipeline stage. Whatever happens to the capture
// itself, a record that reaches this stage ends up complete; the screenshot
// is an enhancement, not a gate.
type Service struct {
	records   content.RecordStore
	blobs     content.BlobStore
	capturer  content.Screenshotter
	publisher content.Publisher
	pauses    content.PauseRegistry
	clock     content.Clock
	logger    *zap.Logger
	cfg       ServiceConfig
}

// NewService constructs a Service. capturer may be nil when captures are
// disabled; publisher may be nil when no publication topic is configured.
func NewService(
	records content.RecordStore,
	blobs content.BlobStore,
	capturer content.Screenshotter,
	publisher content.Publisher,
	pauses content.PauseRegistry,
	clock content.Clock,
	logger *zap.Logger,
	cfg ServiceConfig,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BlobPrefix == "" {
		cfg.BlobPrefix = "screens"
	}
	return &Service{
		records:   records,
		blobs:     blobs,
		capturer:  capturer,
		publisher: publisher,
		pauses:    pauses,
		clock:     clock,
		logger:    logger,
		cfg:       cfg,
	}
}

// Process runs the screenshot stage for the job's record. Transient capture
// failures propagate so the job retries; anything else is logged on the
// record and the record completes without an image.
func (s *Service) Process(ctx context.Context, job content.Job) error {
	rec, err := s.records.GetByID(ctx, job.RecordID)
	if err != nil {
		return fmt.Errorf("load record %s: %w", job.RecordID, err)
	}
	log := s.logger.With(
		zap.String("record_id", rec.ID),
		zap.String("site_id", rec.SiteID),
	)

	paused, err := s.pauses.Paused(ctx, content.WorkflowScreenshots, rec.SiteID)
	if err != nil {
		return fmt.Errorf("check workflow pause: %w", err)
	}
	if paused {
		log.Info("screenshots paused, dropping job")
		metrics.ObservePauseSkip(string(content.WorkflowScreenshots))
		return nil
	}

	if s.cfg.Enabled && s.capturer != nil {
		if err := s.capture(ctx, &rec); err != nil {
			kind := content.Classify(err)
			if kind == content.KindTransient || kind == content.KindRateLimited {
				return fmt.Errorf("capture %s: %w", rec.CanonicalURL, err)
			}
			log.Warn("screenshot capture failed permanently", zap.Error(err))
			rec.EnrichmentErrors = append(rec.EnrichmentErrors, fmt.Sprintf("screenshot: %v", err))
		}
	}

	return s.complete(ctx, rec, log)
}

// Complete marks the record complete without a capture. The worker uses this
// when a screenshot job exhausts its retries so the record never wedges in
// the enriching state.
func (s *Service) Complete(ctx context.Context, recordID string) error {
	rec, err := s.records.GetByID(ctx, recordID)
	if err != nil {
		if errors.Is(err, content.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("load record %s: %w", recordID, err)
	}
	return s.complete(ctx, rec, s.logger.With(zap.String("record_id", rec.ID)))
}

func (s *Service) capture(ctx context.Context, rec *content.Record) error {
	target := rec.FinalURL
	if target == "" {
		target = rec.CanonicalURL
	}
	img, err := s.capturer.Capture(ctx, target)
	if err != nil {
		return err
	}

	objectPath := path.Join(s.cfg.BlobPrefix, rec.SiteID, rec.ID+".png")
	uri, err := s.blobs.PutObject(ctx, objectPath, "image/png", bytes.NewReader(img))
	if err != nil {
		return &content.TransientError{Err: fmt.Errorf("store screenshot: %w", err)}
	}

	now := s.clock.Now()
	rec.ScreenshotURI = uri
	rec.ScreenshotAt = &now
	return nil
}

func (s *Service) complete(ctx context.Context, rec content.Record, log *zap.Logger) error {
	now := s.clock.Now()
	rec.EnrichmentStatus = content.EnrichmentComplete
	rec.UpdatedAt = now
	if rec.EnrichedAt == nil {
		rec.EnrichedAt = &now
	}
	if err := s.records.Update(ctx, rec); err != nil {
		return fmt.Errorf("complete record: %w", err)
	}

	s.publish(ctx, rec, log)
	log.Debug("record complete", zap.String("screenshot_uri", rec.ScreenshotURI))
	return nil
}

// publicationEvent is the message published when a record completes the
// pipeline.
type publicationEvent struct {
	RecordID      string   `json:"record_id"`
	SiteID        string   `json:"site_id"`
	Category      string   `json:"category"`
	CanonicalURL  string   `json:"canonical_url"`
	Title         string   `json:"title"`
	Summary       string   `json:"summary,omitempty"`
	Tags          []string `json:"tags,omitempty"`
	ScreenshotURI string   `json:"screenshot_uri,omitempty"`
}

func (s *Service) publish(ctx context.Context, rec content.Record, log *zap.Logger) {
	if s.publisher == nil || s.cfg.Topic == "" {
		return
	}
	event := publicationEvent{
		RecordID:      rec.ID,
		SiteID:        rec.SiteID,
		Category:      string(rec.Category),
		CanonicalURL:  rec.CanonicalURL,
		Title:         rec.Title,
		Summary:       rec.Summary,
		Tags:          rec.Tags,
		ScreenshotURI: rec.ScreenshotURI,
	}
	if _, err := s.publisher.Publish(ctx, s.cfg.Topic, event); err != nil {
		// Publication is best effort; completion already happened.
		log.Error("publish completion event", zap.Error(err))
	}
}
