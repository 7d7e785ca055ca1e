// Package pause implements the workflow pause control plane: a tenant-scoped
// kill switch consulted by adapters and every pipeline stage.
package pause

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/curatorhq/curator/internal/content"
)

// Registry answers pause queries against the pause store. Because Paused is
// called on every job invocation, active pauses are cached with a short TTL;
// pauses created by other processes become visible within that bound.
type Registry struct {
	store  content.PauseStore
	idGen  content.IDGenerator
	clock  content.Clock
	logger *zap.Logger
	ttl    time.Duration

	mu        sync.Mutex
	active    []content.WorkflowPause
	fetchedAt time.Time
}

// New creates a Registry. ttl <= 0 disables caching.
func New(store content.PauseStore, idGen content.IDGenerator, clock content.Clock, ttl time.Duration, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		store:  store,
		idGen:  idGen,
		clock:  clock,
		logger: logger,
		ttl:    ttl,
	}
}

// Paused reports whether an active pause covers the workflow type for the
// site: a matching pause scoped to this site or globally, for the type
// itself or for its umbrella type.
func (r *Registry) Paused(ctx context.Context, wt content.WorkflowType, siteID string) (bool, error) {
	active, err := r.activePauses(ctx)
	if err != nil {
		return false, err
	}
	types := []content.WorkflowType{wt}
	if umbrella := wt.Umbrella(); umbrella != "" {
		types = append(types, umbrella)
	}
	for _, p := range active {
		if !matchesType(p.WorkflowType, types) {
			continue
		}
		if p.SiteID == "" || p.SiteID == siteID {
			return true, nil
		}
	}
	return false, nil
}

// Pause creates a new active pause. Idempotent: if an active pause already
// exists for the same type and scope, it is returned instead of duplicated.
func (r *Registry) Pause(ctx context.Context, wt content.WorkflowType, siteID, by string) (content.WorkflowPause, error) {
	active, err := r.store.ListActive(ctx)
	if err != nil {
		return content.WorkflowPause{}, fmt.Errorf("list active pauses: %w", err)
	}
	for _, p := range active {
		if p.WorkflowType == wt && p.SiteID == siteID {
			return p, nil
		}
	}

	id, err := r.idGen.NewID()
	if err != nil {
		return content.WorkflowPause{}, fmt.Errorf("generate pause id: %w", err)
	}
	pause := content.WorkflowPause{
		ID:           id,
		WorkflowType: wt,
		SiteID:       siteID,
		PausedBy:     by,
		PausedAt:     r.clock.Now(),
	}
	if err := r.store.Create(ctx, pause); err != nil {
		return content.WorkflowPause{}, fmt.Errorf("create pause: %w", err)
	}
	r.invalidate()
	r.logger.Info("workflow paused",
		zap.String("workflow_type", string(wt)),
		zap.String("site_id", siteID),
		zap.String("paused_by", by),
	)
	return pause, nil
}

// Resume resolves a pause. A resumed pause never reactivates.
func (r *Registry) Resume(ctx context.Context, pauseID, by string) error {
	if err := r.store.Resume(ctx, pauseID, by, r.clock.Now()); err != nil {
		return fmt.Errorf("resume pause: %w", err)
	}
	r.invalidate()
	r.logger.Info("workflow resumed",
		zap.String("pause_id", pauseID),
		zap.String("resumed_by", by),
	)
	return nil
}

// Active lists the pauses currently in force, bypassing the cache so
// operators always see fresh state.
func (r *Registry) Active(ctx context.Context) ([]content.WorkflowPause, error) {
	active, err := r.store.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active pauses: %w", err)
	}
	return active, nil
}

func (r *Registry) activePauses(ctx context.Context) ([]content.WorkflowPause, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	if r.ttl > 0 && !r.fetchedAt.IsZero() && now.Sub(r.fetchedAt) < r.ttl {
		return r.active, nil
	}

	active, err := r.store.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active pauses: %w", err)
	}
	r.active = active
	r.fetchedAt = now
	return active, nil
}

func (r *Registry) invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fetchedAt = time.Time{}
}

func matchesType(got content.WorkflowType, want []content.WorkflowType) bool {
	for _, wt := range want {
		if got == wt {
			return true
		}
	}
	return false
}
