// Package enrich implements the metadata enrichment stage: scraping page
// metadata, merging it into records non-destructively, and sweeping stale
// records back through the pipeline.
package enrich

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/curatorhq/curator/internal/content"
)

// ScraperConfig controls collector behavior.
type ScraperConfig struct {
	UserAgent    string
	Timeout      time.Duration
	MaxTextChars int
	MaxLinks     int
}

// CollyScraper extracts page metadata with a gocolly collector. Each Scrape
// clones the base collector, so one instance serves concurrent workers.
type CollyScraper struct {
	cfg           ScraperConfig
	baseCollector *colly.Collector
}

// NewCollyScraper builds a CollyScraper.
func NewCollyScraper(cfg ScraperConfig) *CollyScraper {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxTextChars <= 0 {
		cfg.MaxTextChars = 20000
	}
	if cfg.MaxLinks <= 0 {
		cfg.MaxLinks = 100
	}
	// Synchronous is colly's default; passing colly.Async(false) would
	// accidentally enable async mode on colly v2.1.0, whose Async option
	// ignores its argument.
	c := colly.NewCollector()
	c.IgnoreRobotsTxt = false
	return &CollyScraper{cfg: cfg, baseCollector: c}
}

// Scrape fetches the page and extracts its metadata. Open Graph values win
// over plain HTML ones; the text body is whitespace-collapsed and capped.
func (s *CollyScraper) Scrape(ctx context.Context, rawURL string) (content.PageMetadata, error) {
	var (
		meta     content.PageMetadata
		ogTitle  string
		ogDesc   string
		fetchErr error
	)

	collector := s.baseCollector.Clone()
	if s.cfg.UserAgent != "" {
		collector.UserAgent = s.cfg.UserAgent
	}
	collector.SetRequestTimeout(s.cfg.Timeout)

	collector.OnResponse(func(r *colly.Response) {
		meta.FinalURL = r.Request.URL.String()
	})

	collector.OnHTML("title", func(e *colly.HTMLElement) {
		if meta.Title == "" {
			meta.Title = collapse(e.Text)
		}
	})
	collector.OnHTML(`meta[property="og:title"]`, func(e *colly.HTMLElement) {
		ogTitle = collapse(e.Attr("content"))
	})
	collector.OnHTML(`meta[name="description"]`, func(e *colly.HTMLElement) {
		if meta.Description == "" {
			meta.Description = collapse(e.Attr("content"))
		}
	})
	collector.OnHTML(`meta[property="og:description"]`, func(e *colly.HTMLElement) {
		ogDesc = collapse(e.Attr("content"))
	})
	collector.OnHTML(`meta[property="og:site_name"]`, func(e *colly.HTMLElement) {
		meta.SiteName = collapse(e.Attr("content"))
	})
	collector.OnHTML(`meta[property="og:image"]`, func(e *colly.HTMLElement) {
		if meta.ImageURL == "" {
			meta.ImageURL = strings.TrimSpace(e.Attr("content"))
		}
	})
	collector.OnHTML("a[href]", func(e *colly.HTMLElement) {
		if len(meta.Links) >= s.cfg.MaxLinks {
			return
		}
		link := e.Request.AbsoluteURL(e.Attr("href"))
		if u, err := url.Parse(link); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return
		}
		meta.Links = append(meta.Links, link)
	})
	collector.OnHTML("body", func(e *colly.HTMLElement) {
		if meta.Text == "" {
			meta.Text = truncateText(collapse(e.Text), s.cfg.MaxTextChars)
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		status := 0
		if r != nil {
			status = r.StatusCode
		}
		fetchErr = classifyScrapeError(status, err)
	})

	if err := s.visit(ctx, collector, rawURL, &fetchErr); err != nil {
		return content.PageMetadata{}, err
	}
	if ogTitle != "" {
		meta.Title = ogTitle
	}
	if ogDesc != "" {
		meta.Description = ogDesc
	}
	if meta.FinalURL == "" {
		meta.FinalURL = rawURL
	}
	return meta, nil
}

func (s *CollyScraper) visit(ctx context.Context, collector *colly.Collector, rawURL string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return &content.TransientError{Err: fmt.Errorf("scrape canceled: %w", ctx.Err())}
	case err := <-done:
		if *fetchErr != nil {
			return *fetchErr
		}
		if err != nil {
			return &content.TransientError{Err: fmt.Errorf("visit %s: %w", rawURL, err)}
		}
		return nil
	}
}

// classifyScrapeError maps a fetch failure into a typed pipeline error so the
// retry policy can tell a flaky upstream from a permanently dead page.
func classifyScrapeError(status int, err error) error {
	switch {
	case status == http.StatusTooManyRequests:
		return &content.RateLimitedError{Err: fmt.Errorf("scrape got status %d: %w", status, err)}
	case status == http.StatusNotFound || status == http.StatusGone:
		return &content.DataShapeError{Err: fmt.Errorf("page missing, status %d: %w", status, err)}
	case status >= 400 && status < 500:
		return &content.DataShapeError{Err: fmt.Errorf("scrape got status %d: %w", status, err)}
	default:
		return &content.TransientError{Err: fmt.Errorf("scrape failed, status %d: %w", status, err)}
	}
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncateText(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := s[:max]
	if idx := strings.LastIndexByte(cut, ' '); idx > 0 {
		cut = cut[:idx]
	}
	return cut
}
