package content

import (
	"context"
	"io"
	"time"
)

// RecordStore persists content records.
type RecordStore interface {
	Create(ctx context.Context, rec Record) error
	GetByID(ctx context.Context, id string) (Record, error)
	GetByCanonicalURL(ctx context.Context, siteID, canonicalURL string) (Record, error)
	Update(ctx context.Context, rec Record) error
	ListStale(ctx context.Context, olderThan time.Time, limit int) ([]Record, error)
}

// SourceStore persists source configurations.
type SourceStore interface {
	Get(ctx context.Context, id string) (Source, error)
	SetStatus(ctx context.Context, id string, status string) error
	MarkRun(ctx context.Context, id string, status string, at time.Time) error
	ListEnabled(ctx context.Context) ([]Source, error)
}

// RunStore persists import runs. The rate limiter reads recent run history
// from here rather than keeping a separate counter store.
type RunStore interface {
	Create(ctx context.Context, run ImportRun) error
	Finalize(ctx context.Context, run ImportRun) error
	CountStartedSince(ctx context.Context, sourceID string, since time.Time) (int, error)
	ListBySource(ctx context.Context, sourceID string, limit int) ([]ImportRun, error)
}

// PauseStore persists workflow pauses.
type PauseStore interface {
	Create(ctx context.Context, pause WorkflowPause) error
	Get(ctx context.Context, id string) (WorkflowPause, error)
	Resume(ctx context.Context, id string, by string, at time.Time) error
	ListActive(ctx context.Context) ([]WorkflowPause, error)
}

// EditorialStore persists AI editorialisation attempts.
type EditorialStore interface {
	Create(ctx context.Context, e Editorialisation) error
	Finalize(ctx context.Context, e Editorialisation) error
	ListByRecord(ctx context.Context, recordID string) ([]Editorialisation, error)
}

// Queue provides named-queue enqueue/dequeue semantics for stage jobs.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Dequeue(ctx context.Context, queue string) (Job, error)
}

// Publisher pushes publication events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// BlobStore writes raw artifacts (screenshot images) and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces entity IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

// PauseRegistry answers workflow pause queries. Reads happen on every job
// invocation and must be cheap.
type PauseRegistry interface {
	Paused(ctx context.Context, wt WorkflowType, siteID string) (bool, error)
}

// UsageTracker enforces per-site AI usage budgets.
type UsageTracker interface {
	Allow(ctx context.Context, siteID string) (bool, error)
	Record(ctx context.Context, siteID string, tokens int)
}

// PageMetadata is what the metadata scraper extracts from a page.
type PageMetadata struct {
	FinalURL    string
	Title       string
	Description string
	SiteName    string
	ImageURL    string
	Text        string
	Links       []string
}

// Scraper fetches a page and extracts its metadata and text.
type Scraper interface {
	Scrape(ctx context.Context, rawURL string) (PageMetadata, error)
}

// Screenshotter captures a rendered page image.
type Screenshotter interface {
	Capture(ctx context.Context, rawURL string) ([]byte, error)
}
