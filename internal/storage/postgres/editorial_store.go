package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/curatorhq/curator/internal/content"
)

// EditorialStore persists AI editorialisation attempts.
type EditorialStore struct {
	db db
}

// NewEditorialStore builds an EditorialStore on an existing pool.
func NewEditorialStore(db db) *EditorialStore {
	return &EditorialStore{db: db}
}

// Create inserts a pending attempt.
func (s *EditorialStore) Create(ctx context.Context, e content.Editorialisation) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO editorialisations (id, record_id, site_id, status, model,
	prompt_tokens, completion_tokens, duration_ms, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		e.ID, e.RecordID, e.SiteID, string(e.Status), nullable(e.Model),
		e.PromptTokens, e.CompletionTokens, e.DurationMs, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert editorialisation: %w", err)
	}
	return nil
}

// Finalize writes the terminal state of an attempt. The status guard keeps
// completed and failed attempts immutable.
func (s *EditorialStore) Finalize(ctx context.Context, e content.Editorialisation) error {
	tag, err := s.db.Exec(ctx, `
UPDATE editorialisations SET status = $2, model = $3, prompt_tokens = $4,
	completion_tokens = $5, duration_ms = $6, error_text = $7, completed_at = $8
WHERE id = $1 AND status = $9`,
		e.ID, string(e.Status), nullable(e.Model), e.PromptTokens,
		e.CompletionTokens, e.DurationMs, nullable(e.ErrorText), e.CompletedAt,
		string(content.EditorialPending))
	if err != nil {
		return fmt.Errorf("finalize editorialisation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("editorialisation %s is not pending: %w", e.ID, content.ErrNotFound)
	}
	return nil
}

// ListByRecord returns a record's attempts, oldest first.
func (s *EditorialStore) ListByRecord(ctx context.Context, recordID string) ([]content.Editorialisation, error) {
	rows, err := s.db.Query(ctx, `
SELECT id, record_id, site_id, status, model, prompt_tokens,
	completion_tokens, duration_ms, error_text, created_at, completed_at
FROM editorialisations
WHERE record_id = $1
ORDER BY created_at ASC`, recordID)
	if err != nil {
		return nil, fmt.Errorf("list editorialisations: %w", err)
	}
	defer rows.Close()

	var out []content.Editorialisation
	for rows.Next() {
		e, err := scanEditorialisation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate editorialisations: %w", err)
	}
	return out, nil
}

func scanEditorialisation(row pgx.Row) (content.Editorialisation, error) {
	var (
		e       content.Editorialisation
		status  string
		model   *string
		errText *string
	)
	err := row.Scan(&e.ID, &e.RecordID, &e.SiteID, &status, &model,
		&e.PromptTokens, &e.CompletionTokens, &e.DurationMs, &errText,
		&e.CreatedAt, &e.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return content.Editorialisation{}, fmt.Errorf("scan editorialisation: %w", content.ErrNotFound)
		}
		return content.Editorialisation{}, fmt.Errorf("scan editorialisation: %w", err)
	}
	e.Status = content.EditorialStatus(status)
	e.Model = deref(model)
	e.ErrorText = deref(errText)
	return e, nil
}
