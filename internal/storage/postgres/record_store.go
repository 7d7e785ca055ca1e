package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/curatorhq/curator/internal/content"
)

// RecordStore persists content records. The content_records table carries a
// UNIQUE (site_id, canonical_url) constraint; Create surfaces violations as
// content.ErrDuplicate so the upsert engine can retry its lookup.
type RecordStore struct {
	db db
}

// NewRecordStore builds a RecordStore on an existing pool.
func NewRecordStore(db db) *RecordStore {
	return &RecordStore{db: db}
}

const recordColumns = `
	id, site_id, source_id, category, canonical_url, raw_url, final_url,
	domain, title, description, image_url, text_content, tags,
	enrichment_status, enrichment_errors, enriched_at,
	summary, rationale, suggested_tags, editorialised_at,
	screenshot_uri, screenshot_at, raw_payload, created_at, updated_at`

// Create inserts a record.
func (s *RecordStore) Create(ctx context.Context, rec content.Record) error {
	tags, err := json.Marshal(rec.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	enrichErrs, err := json.Marshal(rec.EnrichmentErrors)
	if err != nil {
		return fmt.Errorf("marshal enrichment errors: %w", err)
	}
	suggested, err := json.Marshal(rec.SuggestedTags)
	if err != nil {
		return fmt.Errorf("marshal suggested tags: %w", err)
	}
	payload, err := json.Marshal(rec.RawPayload)
	if err != nil {
		return fmt.Errorf("marshal raw payload: %w", err)
	}

	query := `
INSERT INTO content_records (` + recordColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25)`
	_, err = s.db.Exec(ctx, query,
		rec.ID, rec.SiteID, nullable(rec.SourceID), string(rec.Category),
		rec.CanonicalURL, rec.RawURL, nullable(rec.FinalURL), nullable(rec.Domain),
		rec.Title, nullable(rec.Description), nullable(rec.ImageURL), nullable(rec.Text), tags,
		string(rec.EnrichmentStatus), enrichErrs, rec.EnrichedAt,
		nullable(rec.Summary), nullable(rec.Rationale), suggested, rec.EditorialedAt,
		nullable(rec.ScreenshotURI), rec.ScreenshotAt, payload, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert record %s: %w", rec.CanonicalURL, content.ErrDuplicate)
		}
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

// GetByID fetches a record by id.
func (s *RecordStore) GetByID(ctx context.Context, id string) (content.Record, error) {
	row := s.db.QueryRow(ctx, `SELECT `+recordColumns+` FROM content_records WHERE id = $1`, id)
	return scanRecord(row)
}

// GetByCanonicalURL fetches a record by its dedup key.
func (s *RecordStore) GetByCanonicalURL(ctx context.Context, siteID, canonicalURL string) (content.Record, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM content_records WHERE site_id = $1 AND canonical_url = $2`,
		siteID, canonicalURL)
	return scanRecord(row)
}

// Update replaces the mutable fields of a record.
func (s *RecordStore) Update(ctx context.Context, rec content.Record) error {
	tags, err := json.Marshal(rec.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	enrichErrs, err := json.Marshal(rec.EnrichmentErrors)
	if err != nil {
		return fmt.Errorf("marshal enrichment errors: %w", err)
	}
	suggested, err := json.Marshal(rec.SuggestedTags)
	if err != nil {
		return fmt.Errorf("marshal suggested tags: %w", err)
	}
	payload, err := json.Marshal(rec.RawPayload)
	if err != nil {
		return fmt.Errorf("marshal raw payload: %w", err)
	}

	query := `
UPDATE content_records SET
	source_id = $2, final_url = $3, domain = $4, title = $5, description = $6,
	image_url = $7, text_content = $8, tags = $9,
	enrichment_status = $10, enrichment_errors = $11, enriched_at = $12,
	summary = $13, rationale = $14, suggested_tags = $15, editorialised_at = $16,
	screenshot_uri = $17, screenshot_at = $18, raw_payload = $19, updated_at = $20
WHERE id = $1`
	tag, err := s.db.Exec(ctx, query,
		rec.ID, nullable(rec.SourceID), nullable(rec.FinalURL), nullable(rec.Domain),
		rec.Title, nullable(rec.Description), nullable(rec.ImageURL), nullable(rec.Text), tags,
		string(rec.EnrichmentStatus), enrichErrs, rec.EnrichedAt,
		nullable(rec.Summary), nullable(rec.Rationale), suggested, rec.EditorialedAt,
		nullable(rec.ScreenshotURI), rec.ScreenshotAt, payload, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("record %s: %w", rec.ID, content.ErrNotFound)
	}
	return nil
}

// ListStale returns complete records with enriched_at older than the
// threshold, oldest first.
func (s *RecordStore) ListStale(ctx context.Context, olderThan time.Time, limit int) ([]content.Record, error) {
	rows, err := s.db.Query(ctx, `
SELECT `+recordColumns+`
FROM content_records
WHERE enrichment_status = $1 AND enriched_at < $2
ORDER BY enriched_at ASC
LIMIT $3`,
		string(content.EnrichmentComplete), olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale records: %w", err)
	}
	defer rows.Close()

	var out []content.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stale records: %w", err)
	}
	return out, nil
}

func scanRecord(row pgx.Row) (content.Record, error) {
	var (
		rec        content.Record
		category   string
		status     string
		sourceID   *string
		finalURL   *string
		domain     *string
		desc       *string
		imageURL   *string
		text       *string
		summary    *string
		rationale  *string
		shotURI    *string
		tags       []byte
		enrichErrs []byte
		suggested  []byte
		payload    []byte
	)
	err := row.Scan(
		&rec.ID, &rec.SiteID, &sourceID, &category, &rec.CanonicalURL, &rec.RawURL,
		&finalURL, &domain, &rec.Title, &desc, &imageURL, &text, &tags,
		&status, &enrichErrs, &rec.EnrichedAt,
		&summary, &rationale, &suggested, &rec.EditorialedAt,
		&shotURI, &rec.ScreenshotAt, &payload, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return content.Record{}, fmt.Errorf("scan record: %w", content.ErrNotFound)
		}
		return content.Record{}, fmt.Errorf("scan record: %w", err)
	}

	rec.Category = content.Category(category)
	rec.EnrichmentStatus = content.EnrichmentStatus(status)
	rec.SourceID = deref(sourceID)
	rec.FinalURL = deref(finalURL)
	rec.Domain = deref(domain)
	rec.Description = deref(desc)
	rec.ImageURL = deref(imageURL)
	rec.Text = deref(text)
	rec.Summary = deref(summary)
	rec.Rationale = deref(rationale)
	rec.ScreenshotURI = deref(shotURI)

	if err := unmarshalJSON(tags, &rec.Tags); err != nil {
		return content.Record{}, fmt.Errorf("unmarshal tags: %w", err)
	}
	if err := unmarshalJSON(enrichErrs, &rec.EnrichmentErrors); err != nil {
		return content.Record{}, fmt.Errorf("unmarshal enrichment errors: %w", err)
	}
	if err := unmarshalJSON(suggested, &rec.SuggestedTags); err != nil {
		return content.Record{}, fmt.Errorf("unmarshal suggested tags: %w", err)
	}
	if err := unmarshalJSON(payload, &rec.RawPayload); err != nil {
		return content.Record{}, fmt.Errorf("unmarshal raw payload: %w", err)
	}
	return rec, nil
}

func unmarshalJSON[T any](data []byte, dst *T) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, dst)
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
