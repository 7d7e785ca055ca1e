package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/curatorhq/curator/internal/content"
)

// maxAPIBody bounds how much of an upstream API response is read.
const maxAPIBody = 4 << 20

// SearchAPIAdapter queries an external search API and syncs its result set.
// Re-running the same query refreshes previously imported records.
type SearchAPIAdapter struct {
	client    *http.Client
	userAgent string
}

// NewSearchAPIAdapter constructs a SearchAPIAdapter.
func NewSearchAPIAdapter(userAgent string, timeout time.Duration) *SearchAPIAdapter {
	return &SearchAPIAdapter{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
	}
}

func (a *SearchAPIAdapter) Kind() content.SourceKind { return content.SourceKindSearchAPI }
func (a *SearchAPIAdapter) WorkflowType() content.WorkflowType {
	return content.WorkflowSearchIngestion
}
func (a *SearchAPIAdapter) Sync() bool { return true }

type searchResponse struct {
	Results []searchResult `json:"results"`
}

type searchResult struct {
	Title     string `json:"title"`
	URL       string `json:"url"`
	Snippet   string `json:"snippet"`
	Thumbnail string `json:"thumbnail"`
	Position  int    `json:"position"`
}

// Fetch runs the source's configured query against its endpoint.
func (a *SearchAPIAdapter) Fetch(ctx context.Context, src content.Source) ([]content.Item, error) {
	endpoint := stringConfig(src.Config, "endpoint")
	if endpoint == "" {
		return nil, &content.ConfigurationError{
			Key: "endpoint",
			Err: fmt.Errorf("source %s has no endpoint configured", src.ID),
		}
	}
	apiKey := stringConfig(src.Config, "api_key")
	if apiKey == "" {
		return nil, &content.ConfigurationError{
			Key: "api_key",
			Err: fmt.Errorf("source %s has no api_key configured", src.ID),
		}
	}
	query := stringConfig(src.Config, "query")
	if query == "" {
		return nil, &content.ConfigurationError{
			Key: "query",
			Err: fmt.Errorf("source %s has no query configured", src.ID),
		}
	}

	params := url.Values{}
	params.Set("q", query)
	if loc := stringConfig(src.Config, "location"); loc != "" {
		params.Set("location", loc)
	}
	if lang := stringConfig(src.Config, "language"); lang != "" {
		params.Set("hl", lang)
	}
	if max := intConfig(src.Config, "max_results"); max > 0 {
		params.Set("num", strconv.Itoa(max))
	}

	body, err := a.get(ctx, endpoint+"?"+params.Encode(), apiKey)
	if err != nil {
		return nil, err
	}

	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &content.DataShapeError{Err: fmt.Errorf("decode search response: %w", err)}
	}

	items := make([]content.Item, 0, len(resp.Results))
	for i, r := range resp.Results {
		position := r.Position
		if position == 0 {
			position = i + 1
		}
		items = append(items, content.Item{
			URL:         r.URL,
			Title:       r.Title,
			Description: r.Snippet,
			ImageURL:    r.Thumbnail,
			Payload: map[string]any{
				"search": map[string]any{
					"query":    query,
					"position": position,
					"snippet":  r.Snippet,
				},
			},
		})
	}
	return items, nil
}

func (a *SearchAPIAdapter) get(ctx context.Context, rawURL, apiKey string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &content.ConfigurationError{Key: "endpoint", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	if a.userAgent != "" {
		req.Header.Set("User-Agent", a.userAgent)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, &content.TransientError{Err: fmt.Errorf("search api request: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxAPIBody))
	if err != nil {
		return nil, &content.TransientError{Err: fmt.Errorf("read search api response: %w", err)}
	}
	if err := classifyStatus(resp.StatusCode, "search api"); err != nil {
		return nil, err
	}
	return body, nil
}

// classifyStatus maps an upstream HTTP status into a typed pipeline error.
func classifyStatus(status int, what string) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &content.ConfigurationError{
			Key: "api_key",
			Err: fmt.Errorf("%s rejected credentials with status %d", what, status),
		}
	case status == http.StatusTooManyRequests:
		return &content.RateLimitedError{Err: fmt.Errorf("%s returned status %d", what, status)}
	case status >= 500:
		return &content.TransientError{Err: fmt.Errorf("%s returned status %d", what, status)}
	default:
		return &content.DataShapeError{Err: fmt.Errorf("%s returned unexpected status %d", what, status)}
	}
}
