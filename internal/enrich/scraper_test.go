package enrich

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/curatorhq/curator/internal/content"
)

const testPage = `<!DOCTYPE html>
<html>
<head>
  <title>Plain Title</title>
  <meta property="og:title" content="OG Title">
  <meta name="description" content="Plain description">
  <meta property="og:description" content="OG description">
  <meta property="og:site_name" content="Example Site">
  <meta property="og:image" content="https://example.com/hero.png">
</head>
<body>
  <h1>Heading</h1>
  <p>Some   body    text with
  odd spacing.</p>
  <a href="/relative">rel</a>
  <a href="https://other.example.com/abs">abs</a>
  <a href="mailto:someone@example.com">mail</a>
</body>
</html>`

func TestCollyScraperExtractsMetadata(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(testPage))
	}))
	defer srv.Close()

	scraper := NewCollyScraper(ScraperConfig{UserAgent: "curator-test/1.0", Timeout: 5 * time.Second})
	meta, err := scraper.Scrape(context.Background(), srv.URL)
	require.NoError(t, err)

	require.Equal(t, "OG Title", meta.Title)
	require.Equal(t, "OG description", meta.Description)
	require.Equal(t, "Example Site", meta.SiteName)
	require.Equal(t, "https://example.com/hero.png", meta.ImageURL)
	require.Contains(t, meta.Text, "Some body text with odd spacing.")
	require.Len(t, meta.Links, 2)
	require.Equal(t, srv.URL+"/relative", meta.Links[0])
	require.Equal(t, "https://other.example.com/abs", meta.Links[1])
}

func TestCollyScraperFallsBackToPlainTags(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><head><title>Only Title</title></head><body>hi</body></html>`))
	}))
	defer srv.Close()

	scraper := NewCollyScraper(ScraperConfig{Timeout: 5 * time.Second})
	meta, err := scraper.Scrape(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, "Only Title", meta.Title)
	require.Empty(t, meta.Description)
}

func TestCollyScraperStatusClassification(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status int
		kind   content.ErrorKind
	}{
		{http.StatusNotFound, content.KindDataShape},
		{http.StatusGone, content.KindDataShape},
		{http.StatusTooManyRequests, content.KindRateLimited},
		{http.StatusBadGateway, content.KindTransient},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))

		scraper := NewCollyScraper(ScraperConfig{Timeout: time.Second})
		_, err := scraper.Scrape(context.Background(), srv.URL)
		srv.Close()
		require.Error(t, err, tc.status)
		require.Equal(t, tc.kind, content.Classify(err), tc.status)
	}
}

func TestCollyScraperCapsText(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("word ", 2000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html><body><p>" + long + "</p></body></html>"))
	}))
	defer srv.Close()

	scraper := NewCollyScraper(ScraperConfig{Timeout: 5 * time.Second, MaxTextChars: 100})
	meta, err := scraper.Scrape(context.Background(), srv.URL)
	require.NoError(t, err)
	require.LessOrEqual(t, len(meta.Text), 100)
	require.False(t, strings.HasSuffix(meta.Text, " "))
}
