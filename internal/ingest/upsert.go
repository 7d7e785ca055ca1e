// Package ingest implements the source adapters and the canonical-URL
// upsert engine feeding the enrichment pipeline.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/curatorhq/curator/internal/content"
)

// createAttempts bounds the create/lookup loop resolving concurrent upserts.
const createAttempts = 2

// Engine finds-or-creates content records keyed by (site, canonical URL).
// The first enrichment job is enqueued only when a record is created, so
// concurrent upserts of the same URL yield at most one record and one job.
type Engine struct {
	records content.RecordStore
	queue   content.Queue
	idGen   content.IDGenerator
	clock   content.Clock
	logger  *zap.Logger
}

// NewEngine constructs an Engine.
func NewEngine(
	records content.RecordStore,
	queue content.Queue,
	idGen content.IDGenerator,
	clock content.Clock,
	logger *zap.Logger,
) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		records: records,
		queue:   queue,
		idGen:   idGen,
		clock:   clock,
		logger:  logger,
	}
}

// Upsert finds-or-creates a record for the item's URL. An existing record is
// returned untouched apart from an optional source attachment; no enrichment
// job is enqueued for it. Blank or invalid URLs return (nil, false, nil):
// the caller skips the item and no record is created.
func (e *Engine) Upsert(
	ctx context.Context,
	siteID string,
	category content.Category,
	item content.Item,
	sourceID string,
) (*content.Record, bool, error) {
	canonical, ok := e.canonicalize(siteID, item.URL)
	if !ok {
		return nil, false, nil
	}

	for attempt := 0; attempt < createAttempts; attempt++ {
		existing, err := e.records.GetByCanonicalURL(ctx, siteID, canonical)
		if err == nil {
			if sourceID != "" && existing.SourceID != sourceID {
				existing.SourceID = sourceID
				existing.UpdatedAt = e.clock.Now()
				if err := e.records.Update(ctx, existing); err != nil {
					return nil, false, fmt.Errorf("attach source: %w", err)
				}
			}
			return &existing, false, nil
		}
		if !errors.Is(err, content.ErrNotFound) {
			return nil, false, fmt.Errorf("lookup record: %w", err)
		}

		rec, err := e.create(ctx, siteID, category, canonical, item, sourceID)
		if err == nil {
			return rec, true, nil
		}
		if errors.Is(err, content.ErrDuplicate) {
			// Lost the race to a parallel adapter run; re-run the lookup and
			// return the concurrently created record.
			continue
		}
		return nil, false, err
	}
	return nil, false, fmt.Errorf("upsert %s: %w", canonical, content.ErrDuplicate)
}

// Sync creates or updates a record for the item's URL. Unlike Upsert, an
// existing record absorbs the item's fresh fields: repeated runs of the same
// external query update records instead of only deduplicating them.
func (e *Engine) Sync(
	ctx context.Context,
	siteID string,
	category content.Category,
	item content.Item,
	sourceID string,
) (*content.Record, bool, error) {
	canonical, ok := e.canonicalize(siteID, item.URL)
	if !ok {
		return nil, false, nil
	}

	for attempt := 0; attempt < createAttempts; attempt++ {
		existing, err := e.records.GetByCanonicalURL(ctx, siteID, canonical)
		if err == nil {
			merged := mergeItem(existing, item, sourceID, e.clock.Now())
			if err := e.records.Update(ctx, merged); err != nil {
				return nil, false, fmt.Errorf("update record: %w", err)
			}
			return &merged, false, nil
		}
		if !errors.Is(err, content.ErrNotFound) {
			return nil, false, fmt.Errorf("lookup record: %w", err)
		}

		rec, err := e.create(ctx, siteID, category, canonical, item, sourceID)
		if err == nil {
			return rec, true, nil
		}
		if errors.Is(err, content.ErrDuplicate) {
			continue
		}
		return nil, false, err
	}
	return nil, false, fmt.Errorf("sync %s: %w", canonical, content.ErrDuplicate)
}

func (e *Engine) canonicalize(siteID, rawURL string) (string, bool) {
	canonical, err := content.Canonicalize(rawURL)
	if err != nil {
		if errors.Is(err, content.ErrBlankURL) {
			e.logger.Debug("skipping blank url", zap.String("site_id", siteID))
		} else {
			e.logger.Warn("skipping invalid url",
				zap.String("site_id", siteID),
				zap.String("raw_url", rawURL),
				zap.Error(err),
			)
		}
		return "", false
	}
	return canonical, true
}

func (e *Engine) create(
	ctx context.Context,
	siteID string,
	category content.Category,
	canonical string,
	item content.Item,
	sourceID string,
) (*content.Record, error) {
	id, err := e.idGen.NewID()
	if err != nil {
		return nil, fmt.Errorf("generate record id: %w", err)
	}

	title := item.Title
	if title == "" {
		title = content.TitleFromURL(canonical)
	}
	now := e.clock.Now()
	rec := content.Record{
		ID:               id,
		SiteID:           siteID,
		SourceID:         sourceID,
		Category:         category,
		CanonicalURL:     canonical,
		RawURL:           item.URL,
		Domain:           domainOf(canonical),
		Title:            title,
		Description:      item.Description,
		ImageURL:         item.ImageURL,
		Tags:             item.Tags,
		RawPayload:       item.Payload,
		EnrichmentStatus: content.EnrichmentPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := e.records.Create(ctx, rec); err != nil {
		return nil, err
	}

	job := content.NewJob(content.JobEnrich)
	job.SiteID = siteID
	job.RecordID = rec.ID
	job.Enqueued = now
	if err := e.queue.Enqueue(ctx, job); err != nil {
		return nil, fmt.Errorf("enqueue enrichment: %w", err)
	}
	e.logger.Debug("record created",
		zap.String("record_id", rec.ID),
		zap.String("canonical_url", canonical),
	)
	return &rec, nil
}

func mergeItem(rec content.Record, item content.Item, sourceID string, now time.Time) content.Record {
	if item.Title != "" {
		rec.Title = item.Title
	}
	if item.Description != "" {
		rec.Description = item.Description
	}
	if item.ImageURL != "" {
		rec.ImageURL = item.ImageURL
	}
	if len(item.Tags) > 0 {
		rec.Tags = mergeTags(rec.Tags, item.Tags)
	}
	if len(item.Payload) > 0 {
		if rec.RawPayload == nil {
			rec.RawPayload = map[string]any{}
		}
		for k, v := range item.Payload {
			rec.RawPayload[k] = v
		}
	}
	if sourceID != "" {
		rec.SourceID = sourceID
	}
	rec.UpdatedAt = now
	return rec
}

func domainOf(canonical string) string {
	u, err := url.Parse(canonical)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

func mergeTags(existing, incoming []string) []string {
	seen := make(map[string]struct{}, len(existing))
	out := append([]string(nil), existing...)
	for _, t := range existing {
		seen[t] = struct{}{}
	}
	for _, t := range incoming {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
