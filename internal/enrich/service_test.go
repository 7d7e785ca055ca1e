package enrich

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	systemclock "github.com/curatorhq/curator/internal/clock/system"
	"github.com/curatorhq/curator/internal/content"
	idgen "github.com/curatorhq/curator/internal/id/uuid"
	"github.com/curatorhq/curator/internal/pause"
	queuemem "github.com/curatorhq/curator/internal/queue/memory"
	storemem "github.com/curatorhq/curator/internal/storage/memory"
)

type fakeScraper struct {
	meta  content.PageMetadata
	err   error
	calls int
}

func (f *fakeScraper) Scrape(context.Context, string) (content.PageMetadata, error) {
	f.calls++
	if f.err != nil {
		return content.PageMetadata{}, f.err
	}
	return f.meta, nil
}

type fakeUsage struct {
	allow    bool
	allowErr error
	recorded int
}

func (f *fakeUsage) Allow(context.Context, string) (bool, error) { return f.allow, f.allowErr }
func (f *fakeUsage) Record(_ context.Context, _ string, tokens int) {
	f.recorded += tokens
}

type serviceFixture struct {
	service *Service
	records *storemem.RecordStore
	sources *storemem.SourceStore
	queue   *queuemem.Queue
	scraper *fakeScraper
	usage   *fakeUsage
	pauses  *pause.Registry
}

func newServiceFixture(t *testing.T, editorialise bool) *serviceFixture {
	t.Helper()

	records := storemem.NewRecordStore()
	sources := storemem.NewSourceStore()
	queue := queuemem.NewQueue(32)
	scraper := &fakeScraper{meta: content.PageMetadata{
		FinalURL:    "https://example.com/final",
		Title:       "Scraped Title",
		Description: "Scraped description",
		Text:        "Plenty of body text for the downstream stages.",
	}}
	usage := &fakeUsage{allow: true}
	registry := pause.New(storemem.NewPauseStore(), idgen.NewGenerator(), systemclock.New(), 0, zap.NewNop())

	svc := NewService(records, sources, queue, scraper, registry, usage, systemclock.New(), zap.NewNop(), editorialise)
	return &serviceFixture{
		service: svc,
		records: records,
		sources: sources,
		queue:   queue,
		scraper: scraper,
		usage:   usage,
		pauses:  registry,
	}
}

func seedRecord(t *testing.T, records *storemem.RecordStore) content.Record {
	t.Helper()
	now := time.Now().UTC()
	rec := content.Record{
		ID:               "rec-1",
		SiteID:           "site-1",
		Category:         content.CategoryArticle,
		CanonicalURL:     "https://example.com/post",
		RawURL:           "https://example.com/post",
		Title:            content.TitleFromURL("https://example.com/post"),
		EnrichmentStatus: content.EnrichmentPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	require.NoError(t, records.Create(context.Background(), rec))
	return rec
}

func enrichJob(rec content.Record) content.Job {
	job := content.NewJob(content.JobEnrich)
	job.SiteID = rec.SiteID
	job.RecordID = rec.ID
	return job
}

func TestEnrichMergesMetadataAndChainsToEditorialise(t *testing.T) {
	t.Parallel()

	fx := newServiceFixture(t, true)
	rec := seedRecord(t, fx.records)
	ctx := context.Background()

	require.NoError(t, fx.service.Enrich(ctx, enrichJob(rec)))

	got, err := fx.records.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, content.EnrichmentEnriching, got.EnrichmentStatus)
	require.NotNil(t, got.EnrichedAt)
	require.Equal(t, "Scraped Title", got.Title)
	require.Equal(t, "Scraped description", got.Description)
	require.Equal(t, "https://example.com/final", got.FinalURL)
	require.NotEmpty(t, got.Text)

	job, err := fx.queue.Dequeue(ctx, content.QueueEditorial)
	require.NoError(t, err)
	require.Equal(t, content.JobEditorialise, job.Type)
	require.Equal(t, rec.ID, job.RecordID)
}

func TestEnrichKeepsAdapterProvidedFields(t *testing.T) {
	t.Parallel()

	fx := newServiceFixture(t, false)
	rec := seedRecord(t, fx.records)
	rec.Title = "Adapter Title"
	rec.Description = "Adapter description"
	require.NoError(t, fx.records.Update(context.Background(), rec))

	require.NoError(t, fx.service.Enrich(context.Background(), enrichJob(rec)))

	got, err := fx.records.GetByID(context.Background(), rec.ID)
	require.NoError(t, err)
	require.Equal(t, "Adapter Title", got.Title)
	require.Equal(t, "Adapter description", got.Description)
	// Scrape-owned fields refresh regardless.
	require.Equal(t, "https://example.com/final", got.FinalURL)
}

func TestEnrichSkipsAIWhenDisabledOrOverBudget(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		fx   func(t *testing.T) *serviceFixture
	}{
		{"disabled", func(t *testing.T) *serviceFixture { return newServiceFixture(t, false) }},
		{"over budget", func(t *testing.T) *serviceFixture {
			fx := newServiceFixture(t, true)
			fx.usage.allow = false
			return fx
		}},
		{"budget check error", func(t *testing.T) *serviceFixture {
			fx := newServiceFixture(t, true)
			fx.usage.allowErr = errors.New("tracker down")
			return fx
		}},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			fx := tc.fx(t)
			rec := seedRecord(t, fx.records)
			ctx := context.Background()

			require.NoError(t, fx.service.Enrich(ctx, enrichJob(rec)))

			job, err := fx.queue.Dequeue(ctx, content.QueueScreenshots)
			require.NoError(t, err)
			require.Equal(t, content.JobScreenshot, job.Type)
			require.Equal(t, 0, fx.queue.Len(content.QueueEditorial))
		})
	}
}

func TestEnrichHonorsSourceEditorialiseFlag(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		cfg  map[string]any
		want content.JobType
	}{
		{"source opts out", map[string]any{"editorialise": false}, content.JobScreenshot},
		{"source opts in", map[string]any{"editorialise": true}, content.JobEditorialise},
		{"flag unset uses default", map[string]any{}, content.JobEditorialise},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			fx := newServiceFixture(t, true)
			ctx := context.Background()
			fx.sources.Put(content.Source{
				ID:      "src-1",
				SiteID:  "site-1",
				Kind:    content.SourceKindFeed,
				Enabled: true,
				Config:  tc.cfg,
			})
			rec := seedRecord(t, fx.records)
			rec.SourceID = "src-1"
			require.NoError(t, fx.records.Update(ctx, rec))

			require.NoError(t, fx.service.Enrich(ctx, enrichJob(rec)))

			job, err := fx.queue.Dequeue(ctx, content.QueueFor(tc.want))
			require.NoError(t, err)
			require.Equal(t, tc.want, job.Type)
			if tc.want == content.JobScreenshot {
				require.Equal(t, 0, fx.queue.Len(content.QueueEditorial))
			}
		})
	}
}

func TestEnrichPausedDropsJobWithoutTouchingRecord(t *testing.T) {
	t.Parallel()

	fx := newServiceFixture(t, true)
	rec := seedRecord(t, fx.records)
	ctx := context.Background()

	_, err := fx.pauses.Pause(ctx, content.WorkflowEnrichment, "", "ops")
	require.NoError(t, err)

	require.NoError(t, fx.service.Enrich(ctx, enrichJob(rec)))
	require.Zero(t, fx.scraper.calls)

	got, err := fx.records.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, content.EnrichmentPending, got.EnrichmentStatus)
	require.Equal(t, 0, fx.queue.Len(content.QueueEditorial))
	require.Equal(t, 0, fx.queue.Len(content.QueueScreenshots))
}

func TestEnrichScrapeFailureMarksRecordFailed(t *testing.T) {
	t.Parallel()

	fx := newServiceFixture(t, true)
	fx.scraper.err = &content.TransientError{Err: errors.New("connection reset")}
	rec := seedRecord(t, fx.records)
	ctx := context.Background()

	err := fx.service.Enrich(ctx, enrichJob(rec))
	require.Error(t, err)
	require.Equal(t, content.KindTransient, content.Classify(err))

	got, err := fx.records.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, content.EnrichmentFailed, got.EnrichmentStatus)
	require.Len(t, got.EnrichmentErrors, 1)
	require.Contains(t, got.EnrichmentErrors[0], "connection reset")
	require.Equal(t, 0, fx.queue.Len(content.QueueEditorial))
}

func TestEnrichMissingRecordPropagatesNotFound(t *testing.T) {
	t.Parallel()

	fx := newServiceFixture(t, true)
	job := content.NewJob(content.JobEnrich)
	job.RecordID = "nope"

	err := fx.service.Enrich(context.Background(), job)
	require.ErrorIs(t, err, content.ErrNotFound)
}

func TestSweepEnqueuesStaleRecords(t *testing.T) {
	t.Parallel()

	records := storemem.NewRecordStore()
	queue := queuemem.NewQueue(32)
	ctx := context.Background()
	now := time.Now().UTC()

	old := now.Add(-30 * 24 * time.Hour)
	fresh := now.Add(-time.Hour)
	for i, enrichedAt := range []time.Time{old, old.Add(time.Hour), fresh} {
		at := enrichedAt
		rec := content.Record{
			ID:               string(rune('a' + i)),
			SiteID:           "site-1",
			CanonicalURL:     "https://example.com/" + string(rune('a'+i)),
			EnrichmentStatus: content.EnrichmentComplete,
			EnrichedAt:       &at,
			CreatedAt:        old,
			UpdatedAt:        old,
		}
		require.NoError(t, records.Create(ctx, rec))
	}

	sweeper := NewSweeper(records, queue, systemclock.New(), zap.NewNop(), 7*24*time.Hour, 50)
	n, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, 2, queue.Len(content.QueueEnrichment))

	// Oldest first.
	job, err := queue.Dequeue(ctx, content.QueueEnrichment)
	require.NoError(t, err)
	require.Equal(t, "a", job.RecordID)

	// Swept records go back to pending; the fresh one stays complete.
	for id, want := range map[string]content.EnrichmentStatus{
		"a": content.EnrichmentPending,
		"b": content.EnrichmentPending,
		"c": content.EnrichmentComplete,
	} {
		rec, err := records.GetByID(ctx, id)
		require.NoError(t, err)
		require.Equal(t, want, rec.EnrichmentStatus, id)
	}
}

func TestSweepHonorsBatchSize(t *testing.T) {
	t.Parallel()

	records := storemem.NewRecordStore()
	queue := queuemem.NewQueue(32)
	ctx := context.Background()
	old := time.Now().UTC().Add(-30 * 24 * time.Hour)

	for _, id := range []string{"r1", "r2", "r3"} {
		at := old
		require.NoError(t, records.Create(ctx, content.Record{
			ID:               id,
			SiteID:           "site-1",
			CanonicalURL:     "https://example.com/" + id,
			EnrichmentStatus: content.EnrichmentComplete,
			EnrichedAt:       &at,
		}))
	}

	sweeper := NewSweeper(records, queue, systemclock.New(), zap.NewNop(), 7*24*time.Hour, 2)
	n, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)
}
