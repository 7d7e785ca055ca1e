package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/curatorhq/curator/internal/content"
)

// SourceStore persists source configurations.
type SourceStore struct {
	db db
}

// NewSourceStore builds a SourceStore on an existing pool.
func NewSourceStore(db db) *SourceStore {
	return &SourceStore{db: db}
}

const sourceColumns = `
	id, site_id, name, kind, category, enabled, config, last_run_at, last_status, created_at`

// Get fetches a source by id.
func (s *SourceStore) Get(ctx context.Context, id string) (content.Source, error) {
	row := s.db.QueryRow(ctx, `SELECT `+sourceColumns+` FROM sources WHERE id = $1`, id)
	return scanSource(row)
}

// SetStatus updates last_status without touching last_run_at, used for
// skipped, paused, and rate-limited outcomes.
func (s *SourceStore) SetStatus(ctx context.Context, id string, status string) error {
	tag, err := s.db.Exec(ctx, `UPDATE sources SET last_status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("set source status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("source %s: %w", id, content.ErrNotFound)
	}
	return nil
}

// MarkRun stamps last_status and last_run_at after an adapter run.
func (s *SourceStore) MarkRun(ctx context.Context, id string, status string, at time.Time) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE sources SET last_status = $2, last_run_at = $3 WHERE id = $1`, id, status, at)
	if err != nil {
		return fmt.Errorf("mark source run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("source %s: %w", id, content.ErrNotFound)
	}
	return nil
}

// ListEnabled returns all enabled sources, oldest first.
func (s *SourceStore) ListEnabled(ctx context.Context) ([]content.Source, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+sourceColumns+` FROM sources WHERE enabled ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list enabled sources: %w", err)
	}
	defer rows.Close()

	var out []content.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sources: %w", err)
	}
	return out, nil
}

func scanSource(row pgx.Row) (content.Source, error) {
	var (
		src        content.Source
		kind       string
		category   string
		config     []byte
		lastStatus *string
	)
	err := row.Scan(&src.ID, &src.SiteID, &src.Name, &kind, &category, &src.Enabled,
		&config, &src.LastRunAt, &lastStatus, &src.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return content.Source{}, fmt.Errorf("scan source: %w", content.ErrNotFound)
		}
		return content.Source{}, fmt.Errorf("scan source: %w", err)
	}
	src.Kind = content.SourceKind(kind)
	src.Category = content.Category(category)
	src.LastStatus = deref(lastStatus)
	if err := unmarshalJSON(config, &src.Config); err != nil {
		return content.Source{}, fmt.Errorf("unmarshal source config: %w", err)
	}
	return src, nil
}
