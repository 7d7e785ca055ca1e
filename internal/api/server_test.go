package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
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

type serverFixture struct {
	server  *Server
	records *storemem.RecordStore
	sources *storemem.SourceStore
	runs    *storemem.RunStore
	pauses  *pause.Registry
	queue   *queuemem.Queue
}

func newServerFixture(t *testing.T, cfg Config) *serverFixture {
	t.Helper()

	records := storemem.NewRecordStore()
	sources := storemem.NewSourceStore()
	runs := storemem.NewRunStore()
	queue := queuemem.NewQueue(16)
	registry := pause.New(storemem.NewPauseStore(), idgen.NewGenerator(), systemclock.New(), 0, zap.NewNop())

	srv := NewServer(records, sources, runs, registry, queue, systemclock.New(), zap.NewNop(), cfg)
	return &serverFixture{
		server:  srv,
		records: records,
		sources: sources,
		runs:    runs,
		pauses:  registry,
		queue:   queue,
	}
}

func (fx *serverFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	fx.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthAndReadyEndpoints(t *testing.T) {
	t.Parallel()

	fx := newServerFixture(t, Config{})
	require.Equal(t, http.StatusOK, fx.do(t, http.MethodGet, "/healthz", nil).Code)
	require.Equal(t, http.StatusOK, fx.do(t, http.MethodGet, "/readyz", nil).Code)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	fx := newServerFixture(t, Config{})
	rec := fx.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Body.String())
}

func TestCreateAndResumePause(t *testing.T) {
	t.Parallel()

	fx := newServerFixture(t, Config{})
	rec := fx.do(t, http.MethodPost, "/v1/pauses", createPauseRequest{
		WorkflowType: "all_ingestion",
		PausedBy:     "ops@example.com",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created struct {
		Pause content.WorkflowPause `json:"pause"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.Pause.ID)

	paused, err := fx.pauses.Paused(context.Background(), content.WorkflowFeedIngestion, "site-1")
	require.NoError(t, err)
	require.True(t, paused)

	rec = fx.do(t, http.MethodGet, "/v1/pauses", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed struct {
		Pauses []content.WorkflowPause `json:"pauses"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed.Pauses, 1)

	rec = fx.do(t, http.MethodPost, "/v1/pauses/"+created.Pause.ID+"/resume", resumePauseRequest{
		ResumedBy: "ops@example.com",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	paused, err = fx.pauses.Paused(context.Background(), content.WorkflowFeedIngestion, "site-1")
	require.NoError(t, err)
	require.False(t, paused)
}

func TestCreatePauseValidation(t *testing.T) {
	t.Parallel()

	fx := newServerFixture(t, Config{})

	rec := fx.do(t, http.MethodPost, "/v1/pauses", createPauseRequest{
		WorkflowType: "defrag_disks",
		PausedBy:     "ops",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = fx.do(t, http.MethodPost, "/v1/pauses", createPauseRequest{
		WorkflowType: "enrichment",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResumeUnknownPauseReturns404(t *testing.T) {
	t.Parallel()

	fx := newServerFixture(t, Config{})
	rec := fx.do(t, http.MethodPost, "/v1/pauses/nope/resume", resumePauseRequest{ResumedBy: "ops"})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRunSourceEnqueuesJob(t *testing.T) {
	t.Parallel()

	fx := newServerFixture(t, Config{})
	fx.sources.Put(content.Source{ID: "src-1", SiteID: "site-1", Kind: content.SourceKindFeed, Enabled: true})

	rec := fx.do(t, http.MethodPost, "/v1/sources/src-1/run", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	job, err := fx.queue.Dequeue(context.Background(), content.QueueIngestion)
	require.NoError(t, err)
	require.Equal(t, content.JobSourceRun, job.Type)
	require.Equal(t, "src-1", job.SourceID)
	require.Equal(t, "site-1", job.SiteID)
}

func TestRunUnknownSourceReturns404(t *testing.T) {
	t.Parallel()

	fx := newServerFixture(t, Config{})
	rec := fx.do(t, http.MethodPost, "/v1/sources/nope/run", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListRuns(t *testing.T) {
	t.Parallel()

	fx := newServerFixture(t, Config{})
	fx.sources.Put(content.Source{ID: "src-1", SiteID: "site-1", Kind: content.SourceKindFeed, Enabled: true})
	ctx := context.Background()
	now := time.Now().UTC()
	for i, id := range []string{"run-1", "run-2", "run-3"} {
		require.NoError(t, fx.runs.Create(ctx, content.ImportRun{
			ID:        id,
			SourceID:  "src-1",
			SiteID:    "site-1",
			Status:    content.RunStatusCompleted,
			StartedAt: now.Add(time.Duration(i) * time.Minute),
		}))
	}

	rec := fx.do(t, http.MethodGet, "/v1/sources/src-1/runs?limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed struct {
		Runs []content.ImportRun `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed.Runs, 2)
	require.Equal(t, "run-3", listed.Runs[0].ID)

	rec = fx.do(t, http.MethodGet, "/v1/sources/src-1/runs?limit=9000", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetRecord(t *testing.T) {
	t.Parallel()

	fx := newServerFixture(t, Config{})
	require.NoError(t, fx.records.Create(context.Background(), content.Record{
		ID:           "rec-1",
		SiteID:       "site-1",
		CanonicalURL: "https://example.com/a",
		Title:        "A",
	}))

	rec := fx.do(t, http.MethodGet, "/v1/records/rec-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = fx.do(t, http.MethodGet, "/v1/records/nope", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPIKeyMiddleware(t *testing.T) {
	t.Parallel()

	fx := newServerFixture(t, Config{APIKey: "sekrit"})

	req := httptest.NewRequest(http.MethodGet, "/v1/pauses", nil)
	rec := httptest.NewRecorder()
	fx.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/pauses", nil)
	req.Header.Set("X-API-Key", "sekrit")
	rec = httptest.NewRecorder()
	fx.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	// Health endpoints stay open.
	require.Equal(t, http.StatusOK, fx.do(t, http.MethodGet, "/healthz", nil).Code)
}
