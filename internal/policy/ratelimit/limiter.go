// Package ratelimit implements the per-source trailing-window admission
// check consulted before each adapter run.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/curatorhq/curator/internal/content"
)

// Config holds the default window policy. Individual sources can override
// the max via the rate_limit_per_hour config key.
type Config struct {
	Window  time.Duration
	MaxRuns int
}

// Limiter decides whether a source may run by counting its recent import
// runs. The run history is the single source of truth; there is no separate
// counter store to drift.
type Limiter struct {
	runs  content.RunStore
	clock content.Clock
	cfg   Config
}

// New creates a Limiter.
func New(runs content.RunStore, clock content.Clock, cfg Config) *Limiter {
	if cfg.Window <= 0 {
		cfg.Window = time.Hour
	}
	if cfg.MaxRuns <= 0 {
		cfg.MaxRuns = 10
	}
	return &Limiter{runs: runs, clock: clock, cfg: cfg}
}

// Allowed reports whether the source is under its run quota for the trailing
// window. This is an advisory read: under high concurrency a short
// over-admission window is acceptable.
func (l *Limiter) Allowed(ctx context.Context, source content.Source) (bool, error) {
	max := l.cfg.MaxRuns
	if override, ok := intConfig(source.Config, "rate_limit_per_hour"); ok && override > 0 {
		max = override
	}

	since := l.clock.Now().Add(-l.cfg.Window)
	count, err := l.runs.CountStartedSince(ctx, source.ID, since)
	if err != nil {
		return false, fmt.Errorf("count recent runs: %w", err)
	}
	return count < max, nil
}

func intConfig(cfg map[string]any, key string) (int, bool) {
	raw, ok := cfg[key]
	if !ok {
		return 0, false
	}
	switch v := raw.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}
