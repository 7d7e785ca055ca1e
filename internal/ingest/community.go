package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/curatorhq/curator/internal/content"
)

// CommunityAdapter pulls posts from a community board API. Unlike the search
// adapter it deduplicates only; an already imported post is never rewritten
// by a later run.
type CommunityAdapter struct {
	client    *http.Client
	userAgent string
	sanitizer *bluemonday.Policy
}

// NewCommunityAdapter constructs a CommunityAdapter.
func NewCommunityAdapter(userAgent string, timeout time.Duration) *CommunityAdapter {
	return &CommunityAdapter{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
		sanitizer: bluemonday.StrictPolicy(),
	}
}

func (a *CommunityAdapter) Kind() content.SourceKind { return content.SourceKindCommunity }
func (a *CommunityAdapter) WorkflowType() content.WorkflowType {
	return content.WorkflowCommunityIngestion
}
func (a *CommunityAdapter) Sync() bool { return false }

type communityResponse struct {
	Posts []communityPost `json:"posts"`
}

type communityPost struct {
	ID     string   `json:"id"`
	Title  string   `json:"title"`
	URL    string   `json:"url"`
	Body   string   `json:"body"`
	Author string   `json:"author"`
	Score  int      `json:"score"`
	Tags   []string `json:"tags"`
}

// Fetch lists recent posts from the source's board.
func (a *CommunityAdapter) Fetch(ctx context.Context, src content.Source) ([]content.Item, error) {
	endpoint := stringConfig(src.Config, "endpoint")
	if endpoint == "" {
		return nil, &content.ConfigurationError{
			Key: "endpoint",
			Err: fmt.Errorf("source %s has no endpoint configured", src.ID),
		}
	}
	board := stringConfig(src.Config, "board")
	if board == "" {
		return nil, &content.ConfigurationError{
			Key: "board",
			Err: fmt.Errorf("source %s has no board configured", src.ID),
		}
	}

	params := url.Values{}
	params.Set("board", board)
	if max := intConfig(src.Config, "max_posts"); max > 0 {
		params.Set("limit", fmt.Sprintf("%d", max))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, &content.ConfigurationError{Key: "endpoint", Err: err}
	}
	if key := stringConfig(src.Config, "api_key"); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	if a.userAgent != "" {
		req.Header.Set("User-Agent", a.userAgent)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, &content.TransientError{Err: fmt.Errorf("community api request: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxAPIBody))
	if err != nil {
		return nil, &content.TransientError{Err: fmt.Errorf("read community api response: %w", err)}
	}
	if err := classifyStatus(resp.StatusCode, "community api"); err != nil {
		return nil, err
	}

	var parsed communityResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &content.DataShapeError{Err: fmt.Errorf("decode community response: %w", err)}
	}

	items := make([]content.Item, 0, len(parsed.Posts))
	for _, p := range parsed.Posts {
		items = append(items, content.Item{
			URL:         p.URL,
			Title:       strings.TrimSpace(a.sanitizer.Sanitize(p.Title)),
			Description: strings.TrimSpace(a.sanitizer.Sanitize(p.Body)),
			Tags:        p.Tags,
			Payload: map[string]any{
				"community": map[string]any{
					"post_id": p.ID,
					"board":   board,
					"author":  p.Author,
					"score":   p.Score,
				},
			},
		})
	}
	return items, nil
}
