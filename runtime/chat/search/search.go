// Package search defines the web-search collaborator used to ground answers
// with fresh context. Search is strictly best-effort: the session swallows
// provider failures (logging them) and proceeds without search context.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/HoomanBuilds/nosana-chat/runtime/chat/stream"
)

type (
	// Provider performs a web search. Implementations may fail; callers treat
	// any error as "no search context available".
	Provider interface {
		Search(ctx context.Context, query string, opts Options) (*Result, error)
	}

	// Options tunes a search call.
	Options struct {
		// MaxResults caps the number of hits returned. Zero means provider
		// default.
		MaxResults int
	}

	// Result is the provider response.
	Result struct {
		// Results are the ranked hits.
		Results []stream.SearchHit `json:"results"`
		// Answer is an optional synthesized answer some providers return.
		Answer string `json:"answer,omitempty"`
	}

	// HTTPProvider calls a JSON search API (POST with an API key header).
	HTTPProvider struct {
		endpoint string
		apiKey   string
		client   *http.Client
	}
)

// NewHTTPProvider builds a Provider against the given JSON search endpoint.
func NewHTTPProvider(endpoint, apiKey string, client *http.Client) (*HTTPProvider, error) {
	if endpoint == "" {
		return nil, errors.New("search endpoint is required")
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPProvider{endpoint: endpoint, apiKey: apiKey, client: client}, nil
}

// Search posts the query and decodes the hits.
func (p *HTTPProvider) Search(ctx context.Context, query string, opts Options) (*Result, error) {
	body, err := json.Marshal(map[string]any{
		"query":       query,
		"max_results": opts.MaxResults,
	})
	if err != nil {
		return nil, fmt.Errorf("encode search request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("X-API-KEY", p.apiKey)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search request: unexpected status %d", resp.StatusCode)
	}
	var out Result
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	return &out, nil
}

// ContextBlock renders hits into a compact system-prompt block the
// generation strategies can prepend to the conversation.
func ContextBlock(res *Result) string {
	if res == nil || len(res.Results) == 0 {
		return ""
	}
	var b bytes.Buffer
	b.WriteString("Web search results:\n")
	for i, hit := range res.Results {
		fmt.Fprintf(&b, "%d. %s (%s)\n%s\n", i+1, hit.Title, hit.URL, hit.Content)
	}
	if res.Answer != "" {
		fmt.Fprintf(&b, "Summary: %s\n", res.Answer)
	}
	return b.String()
}
