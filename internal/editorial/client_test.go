package editorial

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/curatorhq/curator/internal/content"
)

func TestHTTPClientComplete(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer key-123", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "gpt-4o-mini", req.Model)
		require.Len(t, req.Messages, 2)
		require.Equal(t, "system", req.Messages[0].Role)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"model": "gpt-4o-mini",
			"choices": [{"message": {"role": "assistant", "content": "{\"summary\":\"s\"}"}}],
			"usage": {"prompt_tokens": 120, "completion_tokens": 40}
		}`))
	}))
	defer srv.Close()

	client := NewHTTPClient(HTTPClientConfig{
		BaseURL: srv.URL,
		APIKey:  "key-123",
		Model:   "gpt-4o-mini",
		Timeout: 5 * time.Second,
	})
	got, err := client.Complete(context.Background(), Request{System: "sys", User: "usr", MaxTokens: 100})
	require.NoError(t, err)
	require.Equal(t, `{"summary":"s"}`, got.Content)
	require.Equal(t, 120, got.PromptTokens)
	require.Equal(t, 40, got.CompletionTokens)
	require.Equal(t, "gpt-4o-mini", got.Model)
}

func TestHTTPClientMissingCredentials(t *testing.T) {
	t.Parallel()

	client := NewHTTPClient(HTTPClientConfig{BaseURL: "https://api.example.com"})
	_, err := client.Complete(context.Background(), Request{User: "usr"})
	require.Error(t, err)
	require.Equal(t, content.KindConfiguration, content.Classify(err))

	client = NewHTTPClient(HTTPClientConfig{APIKey: "key"})
	_, err = client.Complete(context.Background(), Request{User: "usr"})
	require.Error(t, err)
	require.Equal(t, content.KindConfiguration, content.Classify(err))
}

func TestHTTPClientStatusClassification(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status int
		kind   content.ErrorKind
	}{
		{http.StatusUnauthorized, content.KindConfiguration},
		{http.StatusTooManyRequests, content.KindRateLimited},
		{http.StatusServiceUnavailable, content.KindTransient},
		{http.StatusBadRequest, content.KindDataShape},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte(`{"error": {"message": "nope"}}`))
		}))

		client := NewHTTPClient(HTTPClientConfig{BaseURL: srv.URL, APIKey: "key", Model: "m"})
		_, err := client.Complete(context.Background(), Request{User: "usr"})
		srv.Close()
		require.Error(t, err, tc.status)
		require.Equal(t, tc.kind, content.Classify(err), tc.status)
	}
}

func TestHTTPClientEmptyChoicesIsDataShapeError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices": [], "usage": {}}`))
	}))
	defer srv.Close()

	client := NewHTTPClient(HTTPClientConfig{BaseURL: srv.URL, APIKey: "key", Model: "m"})
	_, err := client.Complete(context.Background(), Request{User: "usr"})
	require.Error(t, err)
	require.Equal(t, content.KindDataShape, content.Classify(err))
}
