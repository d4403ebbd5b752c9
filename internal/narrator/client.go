package narrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultAPIURL = "https://api.anthropic.com/v1/messages"
	apiVersion    = "2023-06-01"
	defaultModel  = "claude-haiku-4-5-20251001"
)

// Client wraps the Anthropic Messages API.
type Client struct {
	apiKey     string
	apiURL     string
	model      string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// Option configures a Client.
type Option func(*Client)

// WithAPIURL points the client at a different endpoint.
func WithAPIURL(url string) Option {
	return func(c *Client) { c.apiURL = url }
}

// WithModel overrides the model name. Empty keeps the default.
func WithModel(model string) Option {
	return func(c *Client) {
		if model != "" {
			c.model = model
		}
	}
}

// WithRateLimit caps calls per minute.
func WithRateLimit(perMinute int) Option {
	return func(c *Client) {
		if perMinute > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(float64(perMinute)/60), perMinute)
		}
	}
}

// NewClient creates a Messages API client.
// Returns nil if apiKey is empty (narration disabled).
func NewClient(apiKey string, opts ...Option) *Client {
	if apiKey == "" {
		return nil
	}
	c := &Client{
		apiKey: apiKey,
		apiURL: defaultAPIURL,
		model:  defaultModel,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(20.0/60), 20), // conservative
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Enabled returns true if the client has a valid API key.
func (c *Client) Enabled() bool {
	return c != nil && c.apiKey != ""
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type request struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Messages  []message `json:"messages"`
}

type response struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Complete sends a prompt and returns the response text.
func (c *Client) Complete(ctx context.Context, system, userPrompt string, maxTokens int) (string, error) {
	if !c.Enabled() {
		return "", fmt.Errorf("narrator client not configured")
	}
	if !c.limiter.Allow() {
		return "", fmt.Errorf("rate limit exceeded")
	}

	body, err := json.Marshal(request{
		Model:     c.model,
		MaxTokens: maxTokens,
		System:    system,
		Messages:  []message{{Role: "user", Content: userPrompt}},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("API call: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("API error %d: %s", resp.StatusCode, string(respBody))
	}

	var apiResp response
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}
	if len(apiResp.Content) == 0 {
		return "", fmt.Errorf("empty response")
	}

	slog.Debug("narrator call",
		"input_tokens", apiResp.Usage.InputTokens,
		"output_tokens", apiResp.Usage.OutputTokens,
	)
	return apiResp.Content[0].Text, nil
}

const systemPrompt = `You are the dispatcher voice of a frontier colony's economic command. Rewrite the given title and description as terse in-world flavour. Keep every number and resource name. Reply with a single JSON object: {"title": "...", "description": "..."}. Title under 6 words, description under 40 words.`

// Enhance rewrites the subject's flavour text.
func (c *Client) Enhance(ctx context.Context, s Subject) (Override, error) {
	prompt := fmt.Sprintf("Kind: %s\nTitle: %s\nDescription: %s\nInstability: %.0f/200",
		s.Kind, s.Title, s.Description, s.Instability)
	if len(s.Tags) > 0 {
		prompt += "\nCommander style: " + strings.Join(s.Tags, ", ")
	}

	text, err := c.Complete(ctx, systemPrompt, prompt, 200)
	if err != nil {
		return Override{}, err
	}
	return parseOverride(text)
}

// parseOverride accepts a JSON object, possibly wrapped in prose or a
// code fence, and falls back to treating the whole reply as a
// description.
func parseOverride(text string) (Override, error) {
	text = strings.TrimSpace(text)
	if start, end := strings.Index(text, "{"), strings.LastIndex(text, "}"); start >= 0 && end > start {
		var o Override
		if err := json.Unmarshal([]byte(text[start:end+1]), &o); err == nil && !o.Empty() {
			o.Title = strings.TrimSpace(o.Title)
			o.Description = strings.TrimSpace(o.Description)
			return o, nil
		}
	}
	if text == "" {
		return Override{}, fmt.Errorf("empty narration")
	}
	return Override{Description: text}, nil
}
