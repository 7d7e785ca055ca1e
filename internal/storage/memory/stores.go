// Package memory provides in-memory store implementations for local
// development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/curatorhq/curator/internal/content"
)

// RecordStore keeps content records in a map keyed by id, with a secondary
// index on (site, canonical_url) enforcing the dedup uniqueness invariant.
type RecordStore struct {
	mu      sync.RWMutex
	records map[string]content.Record
	byURL   map[string]string
}

// NewRecordStore returns an empty RecordStore.
func NewRecordStore() *RecordStore {
	return &RecordStore{
		records: make(map[string]content.Record),
		byURL:   make(map[string]string),
	}
}

func urlKey(siteID, canonicalURL string) string {
	return siteID + "\x00" + canonicalURL
}

// Create inserts a record, returning content.ErrDuplicate when another record
// already holds the same (site, canonical_url).
func (s *RecordStore) Create(_ context.Context, rec content.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := urlKey(rec.SiteID, rec.CanonicalURL)
	if _, exists := s.byURL[key]; exists {
		return fmt.Errorf("create record %s: %w", rec.CanonicalURL, content.ErrDuplicate)
	}
	s.records[rec.ID] = rec
	s.byURL[key] = rec.ID
	return nil
}

// GetByID fetches a record by id.
func (s *RecordStore) GetByID(_ context.Context, id string) (content.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return content.Record{}, fmt.Errorf("record %s: %w", id, content.ErrNotFound)
	}
	return rec, nil
}

// GetByCanonicalURL fetches a record by its dedup key.
func (s *RecordStore) GetByCanonicalURL(_ context.Context, siteID, canonicalURL string) (content.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byURL[urlKey(siteID, canonicalURL)]
	if !ok {
		return content.Record{}, fmt.Errorf("record for %s: %w", canonicalURL, content.ErrNotFound)
	}
	return s.records[id], nil
}

// Update replaces a stored record.
func (s *RecordStore) Update(_ context.Context, rec content.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.ID]; !ok {
		return fmt.Errorf("record %s: %w", rec.ID, content.ErrNotFound)
	}
	s.records[rec.ID] = rec
	return nil
}

// ListStale returns complete records whose enriched_at is older than the
// threshold, oldest first.
func (s *RecordStore) ListStale(_ context.Context, olderThan time.Time, limit int) ([]content.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var stale []content.Record
	for _, rec := range s.records {
		if rec.EnrichmentStatus != content.EnrichmentComplete {
			continue
		}
		if rec.EnrichedAt == nil || !rec.EnrichedAt.Before(olderThan) {
			continue
		}
		stale = append(stale, rec)
	}
	sort.Slice(stale, func(i, j int) bool {
		return stale[i].EnrichedAt.Before(*stale[j].EnrichedAt)
	})
	if limit > 0 && len(stale) > limit {
		stale = stale[:limit]
	}
	return stale, nil
}

// SourceStore keeps sources in a map.
type SourceStore struct {
	mu      sync.RWMutex
	sources map[string]content.Source
}

// NewSourceStore returns an empty SourceStore.
func NewSourceStore() *SourceStore {
	return &SourceStore{sources: make(map[string]content.Source)}
}

// Put inserts or replaces a source. Test and bootstrap helper.
func (s *SourceStore) Put(src content.Source) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources[src.ID] = src
}

// Get fetches a source by id.
func (s *SourceStore) Get(_ context.Context, id string) (content.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src, ok := s.sources[id]
	if !ok {
		return content.Source{}, fmt.Errorf("source %s: %w", id, content.ErrNotFound)
	}
	return src, nil
}

// SetStatus updates a source's last status without touching last_run_at.
func (s *SourceStore) SetStatus(_ context.Context, id string, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.sources[id]
	if !ok {
		return fmt.Errorf("source %s: %w", id, content.ErrNotFound)
	}
	src.LastStatus = status
	s.sources[id] = src
	return nil
}

// MarkRun updates status and last_run_at after an adapter run.
func (s *SourceStore) MarkRun(_ context.Context, id string, status string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.sources[id]
	if !ok {
		return fmt.Errorf("source %s: %w", id, content.ErrNotFound)
	}
	src.LastStatus = status
	src.LastRunAt = &at
	s.sources[id] = src
	return nil
}

// ListEnabled returns all enabled sources.
func (s *SourceStore) ListEnabled(_ context.Context) ([]content.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []content.Source
	for _, src := range s.sources {
		if src.Enabled {
			out = append(out, src)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// RunStore keeps import runs in a slice per source.
type RunStore struct {
	mu   sync.RWMutex
	runs map[string]content.ImportRun
}

// NewRunStore returns an empty RunStore.
func NewRunStore() *RunStore {
	return &RunStore{runs: make(map[string]content.ImportRun)}
}

// Create inserts a run.
func (s *RunStore) Create(_ context.Context, run content.ImportRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = run
	return nil
}

// Finalize replaces a run with its terminal state. Terminal runs are
// immutable.
func (s *RunStore) Finalize(_ context.Context, run content.ImportRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.runs[run.ID]
	if !ok {
		return fmt.Errorf("run %s: %w", run.ID, content.ErrNotFound)
	}
	if existing.Status != content.RunStatusRunning {
		return fmt.Errorf("run %s already finalized", run.ID)
	}
	s.runs[run.ID] = run
	return nil
}

// CountStartedSince counts runs for a source started within the trailing
// window.
func (s *RunStore) CountStartedSince(_ context.Context, sourceID string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, run := range s.runs {
		if run.SourceID == sourceID && !run.StartedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

// ListBySource returns a source's runs, newest first.
func (s *RunStore) ListBySource(_ context.Context, sourceID string, limit int) ([]content.ImportRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []content.ImportRun
	for _, run := range s.runs {
		if run.SourceID == sourceID {
			out = append(out, run)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// PauseStore keeps workflow pauses in a map.
type PauseStore struct {
	mu     sync.RWMutex
	pauses map[string]content.WorkflowPause
}

// NewPauseStore returns an empty PauseStore.
func NewPauseStore() *PauseStore {
	return &PauseStore{pauses: make(map[string]content.WorkflowPause)}
}

// Create inserts a pause.
func (s *PauseStore) Create(_ context.Context, pause content.WorkflowPause) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pauses[pause.ID] = pause
	return nil
}

// Get fetches a pause by id.
func (s *PauseStore) Get(_ context.Context, id string) (content.WorkflowPause, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pauses[id]
	if !ok {
		return content.WorkflowPause{}, fmt.Errorf("pause %s: %w", id, content.ErrNotFound)
	}
	return p, nil
}

// Resume stamps resumed_at/resumed_by. A resumed pause never reactivates.
func (s *PauseStore) Resume(_ context.Context, id string, by string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pauses[id]
	if !ok {
		return fmt.Errorf("pause %s: %w", id, content.ErrNotFound)
	}
	if p.ResumedAt != nil {
		return nil
	}
	p.ResumedAt = &at
	p.ResumedBy = by
	s.pauses[id] = p
	return nil
}

// ListActive returns all pauses with resumed_at null.
func (s *PauseStore) ListActive(_ context.Context) ([]content.WorkflowPause, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []content.WorkflowPause
	for _, p := range s.pauses {
		if p.Active() {
			out = append(out, p)
		}
	}
	return out, nil
}

// EditorialStore keeps editorialisation attempts in a map.
type EditorialStore struct {
	mu       sync.RWMutex
	attempts map[string]content.Editorialisation
}

// NewEditorialStore returns an empty EditorialStore.
func NewEditorialStore() *EditorialStore {
	return &EditorialStore{attempts: make(map[string]content.Editorialisation)}
}

// Create inserts an attempt.
func (s *EditorialStore) Create(_ context.Context, e content.Editorialisation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[e.ID] = e
	return nil
}

// Finalize replaces a pending attempt with its terminal state.
func (s *EditorialStore) Finalize(_ context.Context, e content.Editorialisation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.attempts[e.ID]
	if !ok {
		return fmt.Errorf("editorialisation %s: %w", e.ID, content.ErrNotFound)
	}
	if existing.Status != content.EditorialPending {
		return fmt.Errorf("editorialisation %s already finalized", e.ID)
	}
	s.attempts[e.ID] = e
	return nil
}

// ListByRecord returns attempts for a record, oldest first.
func (s *EditorialStore) ListByRecord(_ context.Context, recordID string) ([]content.Editorialisation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []content.Editorialisation
	for _, e := range s.attempts {
		if e.RecordID == recordID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
