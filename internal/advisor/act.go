package advisor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lucylow/quaternion/internal/engine"
)

// Actor executes decisions via the action endpoints.
type Actor struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewActor creates an Actor targeting the given API base URL.
func NewActor(baseURL string) *Actor {
	return &Actor{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Act sends d to its endpoint. A rejected action (insufficient
// resources, expired puzzle) is returned as a result, not an error.
func (a *Actor) Act(ctx context.Context, d Decision) (engine.ActionResult, error) {
	var (
		path string
		body any
	)
	switch d.Action {
	case ActionResolve:
		path = "/api/v1/puzzles/" + url.PathEscape(d.PuzzleID) + "/resolve"
		body = map[string]string{"option": d.OptionID}
	case ActionAccept:
		path = "/api/v1/offers/" + url.PathEscape(d.OfferID) + "/accept"
	case ActionConvert:
		path = "/api/v1/routes/" + url.PathEscape(d.RouteID) + "/convert"
		body = map[string]float64{"amount": d.Amount}
	default:
		return engine.ActionResult{}, fmt.Errorf("unknown action %q", d.Action)
	}

	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return engine.ActionResult{}, fmt.Errorf("marshal %s: %w", d.Action, err)
		}
		rd = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+path, rd)
	if err != nil {
		return engine.ActionResult{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.HTTPClient.Do(req)
	if err != nil {
		return engine.ActionResult{}, fmt.Errorf("POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return engine.ActionResult{}, fmt.Errorf("read response: %w", err)
	}

	// Domain rejections carry a JSON result; anything else is transport.
	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		return engine.ActionResult{}, fmt.Errorf("%s failed (%d): %s", d.Action, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	var result engine.ActionResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return engine.ActionResult{}, fmt.Errorf("decode response: %w", err)
	}
	return result, nil
}
