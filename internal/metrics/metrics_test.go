package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()

	ObserveRun("feed", "completed")
	ObserveRun("feed", "completed")
	require.Equal(t, float64(2), testutil.ToFloat64(importRunsTotal.WithLabelValues("feed", "completed")))
}

func TestObserversAreSafeAndCount(t *testing.T) {
	Init()

	ObserveItem("search_api", "created")
	ObserveJob("enrich", "ok", 50*time.Millisecond)
	ObserveTokens("site-1", 100, 40)
	ObservePauseSkip("all_ingestion")
	ObserveRateLimited()
	SetQueueDepth("enrichment", 3)

	require.Equal(t, float64(100), testutil.ToFloat64(aiTokensTotal.WithLabelValues("site-1", "prompt")))
	require.Equal(t, float64(3), testutil.ToFloat64(enrichmentQueueDepths.WithLabelValues("enrichment")))
}
