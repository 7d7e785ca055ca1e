package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/curatorhq/curator/internal/content"
)

func TestRecordStore_CreateMapsUniqueViolationToDuplicate(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewRecordStore(mock)
	now := time.Unix(1700000000, 0).UTC()

	rec := content.Record{
		ID:               "rec-1",
		SiteID:           "site-1",
		Category:         content.CategoryArticle,
		CanonicalURL:     "https://example.com/post",
		RawURL:           "https://example.com/post?utm_source=x",
		Title:            "Post",
		EnrichmentStatus: content.EnrichmentPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	mock.ExpectExec("INSERT INTO content_records").
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err = store.Create(context.Background(), rec)
	require.ErrorIs(t, err, content.ErrDuplicate)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordStore_GetByCanonicalURLScansRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewRecordStore(mock)
	now := time.Unix(1700000000, 0).UTC()

	rows := pgxmock.NewRows([]string{
		"id", "site_id", "source_id", "category", "canonical_url", "raw_url",
		"final_url", "domain", "title", "description", "image_url", "text_content", "tags",
		"enrichment_status", "enrichment_errors", "enriched_at",
		"summary", "rationale", "suggested_tags", "editorialised_at",
		"screenshot_uri", "screenshot_at", "raw_payload", "created_at", "updated_at",
	}).AddRow(
		"rec-1", "site-1", (*string)(nil), "article", "https://example.com/post", "https://example.com/post",
		(*string)(nil), (*string)(nil), "Post", (*string)(nil), (*string)(nil), (*string)(nil), []byte(`["go"]`),
		"pending", []byte(`[]`), (*time.Time)(nil),
		(*string)(nil), (*string)(nil), []byte(`[]`), (*time.Time)(nil),
		(*string)(nil), (*time.Time)(nil), []byte(`{"feed":{"guid":"g1"}}`), now, now,
	)

	mock.ExpectQuery("SELECT(.|\n)*FROM content_records").
		WithArgs("site-1", "https://example.com/post").
		WillReturnRows(rows)

	rec, err := store.GetByCanonicalURL(context.Background(), "site-1", "https://example.com/post")
	require.NoError(t, err)
	require.Equal(t, "rec-1", rec.ID)
	require.Equal(t, []string{"go"}, rec.Tags)
	require.Equal(t, content.EnrichmentPending, rec.EnrichmentStatus)
	require.Contains(t, rec.RawPayload, "feed")
	require.NoError(t, mock.ExpectationsWereMet())
}
