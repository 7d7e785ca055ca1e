package ratelimit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/curatorhq/curator/internal/content"
	storemem "github.com/curatorhq/curator/internal/storage/memory"
)

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

func seedRuns(t *testing.T, runs *storemem.RunStore, sourceID string, n int, at time.Time) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, runs.Create(context.Background(), content.ImportRun{
			ID:        fmt.Sprintf("%s-run-%d-%d", sourceID, at.Unix(), i),
			SourceID:  sourceID,
			SiteID:    "site-1",
			Status:    content.RunStatusCompleted,
			StartedAt: at,
		}))
	}
}

func TestLimiter_DeniesAtQuota(t *testing.T) {
	t.Parallel()

	runs := storemem.NewRunStore()
	now := time.Unix(1700000000, 0).UTC()
	seedRuns(t, runs, "src-1", 10, now.Add(-30*time.Minute))

	l := New(runs, fixedClock{now: now}, Config{Window: time.Hour, MaxRuns: 10})
	ok, err := l.Allowed(context.Background(), content.Source{ID: "src-1"})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestLimiter_IgnoresRunsOutsideWindow(t *testing.T) {
	t.Parallel()

	runs := storemem.NewRunStore()
	now := time.Unix(1700000000, 0).UTC()
	seedRuns(t, runs, "src-1", 10, now.Add(-2*time.Hour))
	seedRuns(t, runs, "src-1", 3, now.Add(-10*time.Minute))

	l := New(runs, fixedClock{now: now}, Config{Window: time.Hour, MaxRuns: 10})
	ok, err := l.Allowed(context.Background(), content.Source{ID: "src-1"})
	require.NoError(t, err)
	require.True(t, ok)
}

func TestLimiter_PerSourceOverride(t *testing.T) {
	t.Parallel()

	runs := storemem.NewRunStore()
	now := time.Unix(1700000000, 0).UTC()
	seedRuns(t, runs, "src-1", 2, now.Add(-5*time.Minute))

	l := New(runs, fixedClock{now: now}, Config{Window: time.Hour, MaxRuns: 10})
	src := content.Source{ID: "src-1", Config: map[string]any{"rate_limit_per_hour": float64(2)}}

	ok, err := l.Allowed(context.Background(), src)
	require.NoError(t, err)
	require.False(t, ok)
}
