package ingest

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/mmcdole/gofeed"

	"github.com/curatorhq/curator/internal/content"
)

// FeedAdapter pulls items from RSS/Atom/JSON feeds.
type FeedAdapter struct {
	parser    *gofeed.Parser
	sanitizer *bluemonday.Policy
}

// NewFeedAdapter constructs a FeedAdapter. Feed descriptions frequently carry
// HTML; they are stripped to plain text before entering the pipeline.
func NewFeedAdapter(userAgent string, timeout time.Duration) *FeedAdapter {
	parser := gofeed.NewParser()
	parser.UserAgent = userAgent
	if timeout > 0 {
		parser.Client = &http.Client{Timeout: timeout}
	}
	return &FeedAdapter{
		parser:    parser,
		sanitizer: bluemonday.StrictPolicy(),
	}
}

func (a *FeedAdapter) Kind() content.SourceKind           { return content.SourceKindFeed }
func (a *FeedAdapter) WorkflowType() content.WorkflowType { return content.WorkflowFeedIngestion }
func (a *FeedAdapter) Sync() bool                         { return false }

// Fetch downloads and parses the source's feed_url. Items without a link are
// passed through with a blank URL and counted as failures by the runner.
func (a *FeedAdapter) Fetch(ctx context.Context, src content.Source) ([]content.Item, error) {
	feedURL := stringConfig(src.Config, "feed_url")
	if feedURL == "" {
		return nil, &content.ConfigurationError{
			Key: "feed_url",
			Err: fmt.Errorf("source %s has no feed_url configured", src.ID),
		}
	}

	parsed, err := a.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, &content.TransientError{Err: fmt.Errorf("parse feed %s: %w", feedURL, err)}
	}

	items := make([]content.Item, 0, len(parsed.Items))
	for _, fi := range parsed.Items {
		items = append(items, a.mapItem(parsed, fi))
	}
	return items, nil
}

func (a *FeedAdapter) mapItem(feed *gofeed.Feed, fi *gofeed.Item) content.Item {
	item := content.Item{
		URL:         fi.Link,
		Title:       strings.TrimSpace(a.sanitizer.Sanitize(fi.Title)),
		Description: strings.TrimSpace(a.sanitizer.Sanitize(fi.Description)),
		PublishedAt: fi.PublishedParsed,
		Tags:        fi.Categories,
	}
	if fi.Image != nil {
		item.ImageURL = fi.Image.URL
	}

	payload := map[string]any{
		"feed_title": feed.Title,
	}
	if fi.GUID != "" {
		payload["guid"] = fi.GUID
	}
	if len(fi.Authors) > 0 && fi.Authors[0] != nil {
		payload["author"] = fi.Authors[0].Name
	}
	item.Payload = map[string]any{"feed": payload}
	return item
}

func stringConfig(cfg map[string]any, key string) string {
	v, ok := cfg[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

// intConfig reads an integer source config value. JSON round-trips leave
// numbers as float64, so several numeric types are accepted.
func intConfig(cfg map[string]any, key string) int {
	switch v := cfg[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
