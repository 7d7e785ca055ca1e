package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/curatorhq/curator/internal/content"
)

// RunStore persists import runs. The rate limiter counts recent rows here
// instead of keeping a separate counter store.
type RunStore struct {
	db db
}

// NewRunStore builds a RunStore on an existing pool.
func NewRunStore(db db) *RunStore {
	return &RunStore{db: db}
}

// Create inserts a running import run.
func (s *RunStore) Create(ctx context.Context, run content.ImportRun) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO import_runs (id, source_id, site_id, status, started_at,
	items_created, items_updated, items_failed, items_total)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		run.ID, run.SourceID, run.SiteID, string(run.Status), run.StartedAt,
		run.Counters.ItemsCreated, run.Counters.ItemsUpdated,
		run.Counters.ItemsFailed, run.Counters.ItemsTotal)
	if err != nil {
		return fmt.Errorf("insert import run: %w", err)
	}
	return nil
}

// Finalize writes the terminal state of a run. The status guard keeps
// terminal runs immutable.
func (s *RunStore) Finalize(ctx context.Context, run content.ImportRun) error {
	tag, err := s.db.Exec(ctx, `
UPDATE import_runs SET status = $2, completed_at = $3,
	items_created = $4, items_updated = $5, items_failed = $6, items_total = $7,
	error_text = $8
WHERE id = $1 AND status = $9`,
		run.ID, string(run.Status), run.CompletedAt,
		run.Counters.ItemsCreated, run.Counters.ItemsUpdated,
		run.Counters.ItemsFailed, run.Counters.ItemsTotal,
		nullable(run.ErrorText), string(content.RunStatusRunning))
	if err != nil {
		return fmt.Errorf("finalize import run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("import run %s is not running: %w", run.ID, content.ErrNotFound)
	}
	return nil
}

// CountStartedSince counts a source's runs started within the trailing
// window.
func (s *RunStore) CountStartedSince(ctx context.Context, sourceID string, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM import_runs WHERE source_id = $1 AND started_at >= $2`,
		sourceID, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count import runs: %w", err)
	}
	return count, nil
}

// ListBySource returns a source's runs, newest first.
func (s *RunStore) ListBySource(ctx context.Context, sourceID string, limit int) ([]content.ImportRun, error) {
	rows, err := s.db.Query(ctx, `
SELECT id, source_id, site_id, status, started_at, completed_at,
	items_created, items_updated, items_failed, items_total, error_text
FROM import_runs
WHERE source_id = $1
ORDER BY started_at DESC
LIMIT $2`, sourceID, limit)
	if err != nil {
		return nil, fmt.Errorf("list import runs: %w", err)
	}
	defer rows.Close()

	var out []content.ImportRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate import runs: %w", err)
	}
	return out, nil
}

func scanRun(row pgx.Row) (content.ImportRun, error) {
	var (
		run     content.ImportRun
		status  string
		errText *string
	)
	err := row.Scan(&run.ID, &run.SourceID, &run.SiteID, &status,
		&run.StartedAt, &run.CompletedAt,
		&run.Counters.ItemsCreated, &run.Counters.ItemsUpdated,
		&run.Counters.ItemsFailed, &run.Counters.ItemsTotal, &errText)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return content.ImportRun{}, fmt.Errorf("scan import run: %w", content.ErrNotFound)
		}
		return content.ImportRun{}, fmt.Errorf("scan import run: %w", err)
	}
	run.Status = content.RunStatus(status)
	run.ErrorText = deref(errText)
	return run, nil
}
