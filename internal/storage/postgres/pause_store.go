package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/curatorhq/curator/internal/content"
)

// PauseStore persists workflow pauses. An empty site_id is stored as NULL and
// means global scope.
type PauseStore struct {
	db db
}

// NewPauseStore builds a PauseStore on an existing pool.
func NewPauseStore(db db) *PauseStore {
	return &PauseStore{db: db}
}

// Create inserts a pause.
func (s *PauseStore) Create(ctx context.Context, pause content.WorkflowPause) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO workflow_pauses (id, workflow_type, site_id, paused_by, paused_at)
VALUES ($1,$2,$3,$4,$5)`,
		pause.ID, string(pause.WorkflowType), nullable(pause.SiteID),
		pause.PausedBy, pause.PausedAt)
	if err != nil {
		return fmt.Errorf("insert workflow pause: %w", err)
	}
	return nil
}

// Get fetches a pause by id.
func (s *PauseStore) Get(ctx context.Context, id string) (content.WorkflowPause, error) {
	row := s.db.QueryRow(ctx, `
SELECT id, workflow_type, site_id, paused_by, paused_at, resumed_by, resumed_at
FROM workflow_pauses WHERE id = $1`, id)
	return scanPause(row)
}

// Resume stamps resumed_at/resumed_by. Already-resumed pauses are untouched.
func (s *PauseStore) Resume(ctx context.Context, id string, by string, at time.Time) error {
	tag, err := s.db.Exec(ctx, `
UPDATE workflow_pauses SET resumed_by = $2, resumed_at = $3
WHERE id = $1 AND resumed_at IS NULL`, id, by, at)
	if err != nil {
		return fmt.Errorf("resume workflow pause: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Either missing or already resumed; distinguish for the caller.
		if _, getErr := s.Get(ctx, id); getErr != nil {
			return getErr
		}
	}
	return nil
}

// ListActive returns all pauses with resumed_at null.
func (s *PauseStore) ListActive(ctx context.Context) ([]content.WorkflowPause, error) {
	rows, err := s.db.Query(ctx, `
SELECT id, workflow_type, site_id, paused_by, paused_at, resumed_by, resumed_at
FROM workflow_pauses WHERE resumed_at IS NULL`)
	if err != nil {
		return nil, fmt.Errorf("list active pauses: %w", err)
	}
	defer rows.Close()

	var out []content.WorkflowPause
	for rows.Next() {
		p, err := scanPause(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pauses: %w", err)
	}
	return out, nil
}

func scanPause(row pgx.Row) (content.WorkflowPause, error) {
	var (
		p         content.WorkflowPause
		wt        string
		siteID    *string
		resumedBy *string
	)
	err := row.Scan(&p.ID, &wt, &siteID, &p.PausedBy, &p.PausedAt, &resumedBy, &p.ResumedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return content.WorkflowPause{}, fmt.Errorf("scan pause: %w", content.ErrNotFound)
		}
		return content.WorkflowPause{}, fmt.Errorf("scan pause: %w", err)
	}
	p.WorkflowType = content.WorkflowType(wt)
	p.SiteID = deref(siteID)
	p.ResumedBy = deref(resumedBy)
	return p, nil
}
