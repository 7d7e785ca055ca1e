package ingest

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	systemclock "github.com/curatorhq/curator/internal/clock/system"
	"github.com/curatorhq/curator/internal/content"
	idgen "github.com/curatorhq/curator/internal/id/uuid"
	queuemem "github.com/curatorhq/curator/internal/queue/memory"
	storemem "github.com/curatorhq/curator/internal/storage/memory"
)

func newTestEngine(records content.RecordStore) (*Engine, *queuemem.Queue) {
	q := queuemem.NewQueue(32)
	e := NewEngine(records, q, idgen.NewGenerator(), systemclock.New(), zap.NewNop())
	return e, q
}

func TestUpsertCreatesRecordAndEnqueuesEnrichment(t *testing.T) {
	t.Parallel()

	records := storemem.NewRecordStore()
	engine, q := newTestEngine(records)

	rec, created, err := engine.Upsert(context.Background(), "site-1", content.CategoryArticle, content.Item{
		URL:   "https://Example.com/posts/hello-world?utm_source=x",
		Title: "Hello World",
	}, "src-1")
	require.NoError(t, err)
	require.True(t, created)
	require.NotNil(t, rec)
	require.Equal(t, "https://example.com/posts/hello-world", rec.CanonicalURL)
	require.Equal(t, "example.com", rec.Domain)
	require.Equal(t, content.EnrichmentPending, rec.EnrichmentStatus)
	require.Equal(t, 1, q.Len(content.QueueEnrichment))

	job, err := q.Dequeue(context.Background(), content.QueueEnrichment)
	require.NoError(t, err)
	require.Equal(t, content.JobEnrich, job.Type)
	require.Equal(t, rec.ID, job.RecordID)
	require.Equal(t, "site-1", job.SiteID)
}

func TestUpsertDeduplicatesByCanonicalURL(t *testing.T) {
	t.Parallel()

	records := storemem.NewRecordStore()
	engine, q := newTestEngine(records)
	ctx := context.Background()

	first, created, err := engine.Upsert(ctx, "site-1", content.CategoryArticle, content.Item{
		URL: "https://example.com/a?utm_campaign=spring",
	}, "src-1")
	require.NoError(t, err)
	require.True(t, created)

	// Same page reached through different tracking params.
	second, created, err := engine.Upsert(ctx, "site-1", content.CategoryArticle, content.Item{
		URL:   "https://example.com/a?fbclid=xyz",
		Title: "Different Title",
	}, "src-1")
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, first.Title, second.Title)
	require.Equal(t, 1, q.Len(content.QueueEnrichment))
}

func TestUpsertSameURLDifferentSites(t *testing.T) {
	t.Parallel()

	records := storemem.NewRecordStore()
	engine, _ := newTestEngine(records)
	ctx := context.Background()

	a, created, err := engine.Upsert(ctx, "site-1", content.CategoryArticle, content.Item{URL: "https://example.com/a"}, "src-1")
	require.NoError(t, err)
	require.True(t, created)

	b, created, err := engine.Upsert(ctx, "site-2", content.CategoryArticle, content.Item{URL: "https://example.com/a"}, "src-2")
	require.NoError(t, err)
	require.True(t, created)
	require.NotEqual(t, a.ID, b.ID)
}

func TestUpsertSkipsBlankAndInvalidURLs(t *testing.T) {
	t.Parallel()

	records := storemem.NewRecordStore()
	engine, q := newTestEngine(records)
	ctx := context.Background()

	for _, raw := range []string{"", "   ", "not a url", "ftp://example.com/file"} {
		rec, created, err := engine.Upsert(ctx, "site-1", content.CategoryArticle, content.Item{URL: raw}, "src-1")
		require.NoError(t, err, raw)
		require.Nil(t, rec, raw)
		require.False(t, created, raw)
	}
	require.Equal(t, 0, q.Len(content.QueueEnrichment))
}

func TestUpsertTitleFallsBackToURL(t *testing.T) {
	t.Parallel()

	records := storemem.NewRecordStore()
	engine, _ := newTestEngine(records)

	rec, created, err := engine.Upsert(context.Background(), "site-1", content.CategoryArticle, content.Item{
		URL: "https://example.com/my-great-post.html",
	}, "src-1")
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, "My Great Post", rec.Title)
}

// raceRecordStore simulates a concurrent writer: the first Create deposits
// the record through a parallel path and reports a duplicate.
type raceRecordStore struct {
	*storemem.RecordStore
	raced bool
}

func (s *raceRecordStore) Create(ctx context.Context, rec content.Record) error {
	if !s.raced {
		s.raced = true
		other := rec
		other.ID = "record-from-other-run"
		if err := s.RecordStore.Create(ctx, other); err != nil {
			return err
		}
		return fmt.Errorf("insert record: %w", content.ErrDuplicate)
	}
	return s.RecordStore.Create(ctx, rec)
}

func TestUpsertResolvesConcurrentCreate(t *testing.T) {
	t.Parallel()

	records := &raceRecordStore{RecordStore: storemem.NewRecordStore()}
	engine, q := newTestEngine(records)

	rec, created, err := engine.Upsert(context.Background(), "site-1", content.CategoryArticle, content.Item{
		URL: "https://example.com/raced",
	}, "src-1")
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, "record-from-other-run", rec.ID)
	// The winning writer owns the enrichment job; the loser enqueues nothing.
	require.Equal(t, 0, q.Len(content.QueueEnrichment))
}

func TestSyncUpdatesExistingRecord(t *testing.T) {
	t.Parallel()

	records := storemem.NewRecordStore()
	engine, q := newTestEngine(records)
	ctx := context.Background()

	first, created, err := engine.Sync(ctx, "site-1", content.CategoryListing, content.Item{
		URL:   "https://example.com/listing/42",
		Title: "Old Title",
		Tags:  []string{"go"},
	}, "src-1")
	require.NoError(t, err)
	require.True(t, created)

	second, created, err := engine.Sync(ctx, "site-1", content.CategoryListing, content.Item{
		URL:         "https://example.com/listing/42",
		Title:       "New Title",
		Description: "Fresh snippet",
		Tags:        []string{"databases"},
	}, "src-1")
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, "New Title", second.Title)
	require.Equal(t, "Fresh snippet", second.Description)
	require.ElementsMatch(t, []string{"go", "databases"}, second.Tags)
	require.Equal(t, 1, q.Len(content.QueueEnrichment))

	stored, err := records.GetByID(ctx, first.ID)
	require.NoError(t, err)
	require.Equal(t, "New Title", stored.Title)
}

func TestSyncDoesNotBlankExistingFields(t *testing.T) {
	t.Parallel()

	records := storemem.NewRecordStore()
	engine, _ := newTestEngine(records)
	ctx := context.Background()

	_, _, err := engine.Sync(ctx, "site-1", content.CategoryListing, content.Item{
		URL:         "https://example.com/listing/7",
		Title:       "Kept Title",
		Description: "Kept description",
	}, "src-1")
	require.NoError(t, err)

	rec, created, err := engine.Sync(ctx, "site-1", content.CategoryListing, content.Item{
		URL: "https://example.com/listing/7",
	}, "src-1")
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, "Kept Title", rec.Title)
	require.Equal(t, "Kept description", rec.Description)
}
