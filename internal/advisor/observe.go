// Package advisor implements a headless economy steward. It observes the
// session via the API, decides deterministically, and acts through the
// player action endpoints.
package advisor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lucylow/quaternion/internal/engine"
)

// Observer fetches economy state from the API.
type Observer struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewObserver creates an Observer targeting the given API base URL.
func NewObserver(baseURL string) *Observer {
	return &Observer{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Observe fetches the latest snapshot.
func (o *Observer) Observe(ctx context.Context) (*engine.TickOutput, error) {
	var out engine.TickOutput
	if err := o.fetchJSON(ctx, "/api/v1/snapshot", &out); err != nil {
		return nil, fmt.Errorf("fetch snapshot: %w", err)
	}
	return &out, nil
}

// Ready reports whether the API answers its status endpoint.
func (o *Observer) Ready(ctx context.Context) bool {
	var status map[string]any
	return o.fetchJSON(ctx, "/api/v1/status", &status) == nil
}

// fetchJSON GETs a path and decodes the JSON response into target.
func (o *Observer) fetchJSON(ctx context.Context, path string, target any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := o.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("GET %s returned %d: %s", path, resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
