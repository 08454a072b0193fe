// Package httpexec executes confirmed deployment actions against the
// deployment service's JSON API. The service owns wallet signing and
// on-chain submission; the gateway only relays the action name and the
// model-generated arguments that the user approved.
package httpexec

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/HoomanBuilds/nosana-chat/features/deploy"
)

// Executor implements deploy.Executor over HTTP.
type Executor struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// New builds an Executor against the deployment service endpoint.
func New(endpoint, apiKey string, client *http.Client) (*Executor, error) {
	if endpoint == "" {
		return nil, errors.New("deployer endpoint is required")
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Executor{endpoint: endpoint, apiKey: apiKey, client: client}, nil
}

// Execute posts the action and decodes the outcome. A non-2xx response or a
// response reporting failure is surfaced as an error so the tool bridge
// produces a failed follow-up turn.
func (e *Executor) Execute(ctx context.Context, action deploy.Action, args json.RawMessage) (*deploy.Outcome, error) {
	body, err := json.Marshal(map[string]any{
		"action": string(action),
		"args":   args,
	})
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", action, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", action, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", action, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%s request: status %d: %s", action, resp.StatusCode, bytes.TrimSpace(detail))
	}
	var out deploy.Outcome
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", action, err)
	}
	if !out.Success {
		return nil, fmt.Errorf("%s failed: %s", action, out.Summary)
	}
	return &out, nil
}
