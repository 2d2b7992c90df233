// Package llm talks to the decision model: prompt construction, provider
// payloads, and response parsing into Decisions.
package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"droidpilot/pkg/config"
)

// Doer is the transport seam; *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Default endpoints per provider mode.
const (
	openAIDefaultBaseURL = "https://api.openai.com/v1"
	geminiBaseURL        = "https://generativelanguage.googleapis.com/v1beta"
	claudeBaseURL        = "https://api.anthropic.com/v1"

	claudeAPIVersion = "2023-06-01"
)

const (
	defaultTimeout = 120 * time.Second
	maxTokens      = 1024
	temperature    = 0.1
)

// Client queries one model provider. The provider mode fixes the request and
// response shapes; everything else is configuration.
type Client struct {
	mode    string
	model   string
	apiKey  string
	baseURL string
	timeout time.Duration
	http    Doer
}

// NewClient builds a Client for the configured api_mode. The API key falls
// back to the <MODE>_API_KEY environment variable. An enabled proxy routes
// all provider traffic.
func NewClient(cfg config.LLMConfig, proxy config.ProxyConfig) (*Client, error) {
	mode := cfg.APIMode
	provider, ok := cfg.Providers[mode]
	if !ok {
		return nil, fmt.Errorf("llm provider %q not configured", mode)
	}

	apiKey := provider.APIKey
	if apiKey == "" {
		apiKey = os.Getenv(strings.ToUpper(mode) + "_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("api key for %s not found", mode)
	}

	timeout := defaultTimeout
	if provider.Timeout > 0 {
		timeout = time.Duration(provider.Timeout) * time.Second
	}

	transport := http.DefaultTransport
	if proxy.Enabled {
		server := proxy.Server
		if server == "" {
			server = "http://127.0.0.1:7890"
		}
		proxyURL, err := url.Parse(server)
		if err != nil {
			return nil, fmt.Errorf("parse proxy server %q: %w", server, err)
		}
		slog.Info("routing llm traffic through proxy", "server", server)
		transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
	}

	c := &Client{
		mode:    mode,
		model:   provider.Model,
		apiKey:  apiKey,
		baseURL: provider.BaseURL,
		timeout: timeout,
		http:    &http.Client{Transport: transport, Timeout: timeout},
	}
	slog.Info("llm client initialized", "mode", mode, "model", provider.Model)
	return c, nil
}

// SetDoer replaces the transport (for testing).
func (c *Client) SetDoer(d Doer) { c.http = d }

// Query sends one prompt (plus up to two screenshots) to the provider and
// parses the reply. Transport and HTTP-status failures yield a synthetic
// error Decision with a nil error so the step records what happened; a reply
// that arrives but cannot be parsed returns a non-nil error, which the caller
// may retry.
func (c *Client) Query(ctx context.Context, prompt string, images [][]byte) (Decision, string, Usage, error) {
	req, err := c.buildRequest(ctx, prompt, images)
	if err != nil {
		return errorDecision(err), "", Usage{}, nil
	}

	resp, err := c.http.Do(req)
	if err != nil {
		slog.Error("llm request failed", "mode", c.mode, "err", err)
		return errorDecision(err), "", Usage{}, nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errorDecision(err), "", Usage{}, nil
	}
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("llm api returned %s: %s", resp.Status, truncateBody(body))
		slog.Error("llm request rejected", "mode", c.mode, "status", resp.Status)
		return errorDecision(err), "", Usage{}, nil
	}

	raw, usage := c.extract(body)
	decision, err := ParseDecision(raw, true)
	if err != nil {
		return Decision{}, raw, usage, err
	}
	return decision, raw, usage, nil
}

func (c *Client) buildRequest(ctx context.Context, prompt string, images [][]byte) (*http.Request, error) {
	var endpoint string
	var payload any

	switch c.mode {
	case "openai":
		base := c.baseURL
		if base == "" {
			base = openAIDefaultBaseURL
		}
		endpoint = strings.TrimSuffix(base, "/") + "/chat/completions"
		payload = c.openAIPayload(prompt, images)
	case "gemini":
		endpoint = fmt.Sprintf("%s/models/%s:generateContent?key=%s", geminiBaseURL, c.model, c.apiKey)
		payload = c.geminiPayload(prompt, images)
	case "claude":
		endpoint = claudeBaseURL + "/messages"
		payload = c.claudePayload(prompt, images)
	default:
		return nil, fmt.Errorf("unsupported api mode: %s", c.mode)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", c.mode, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	switch c.mode {
	case "openai":
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	case "claude":
		req.Header.Set("x-api-key", c.apiKey)
		req.Header.Set("anthropic-version", claudeAPIVersion)
	}
	return req, nil
}

// openAIPayload builds a chat-completions request: system prompt, then one
// user message carrying the screenshots (before, then after) followed by the
// text prompt, with JSON response mode forced.
func (c *Client) openAIPayload(prompt string, images [][]byte) any {
	content := make([]map[string]any, 0, len(images)+1)
	for _, img := range images {
		content = append(content, map[string]any{
			"type": "image_url",
			"image_url": map[string]any{
				"url": "data:image/png;base64," + base64.StdEncoding.EncodeToString(img),
			},
		})
	}
	content = append(content, map[string]any{"type": "text", "text": prompt})

	return map[string]any{
		"model": c.model,
		"messages": []map[string]any{
			{"role": "system", "content": SystemPrompt},
			{"role": "user", "content": content},
		},
		"max_tokens":      maxTokens,
		"temperature":     temperature,
		"response_format": map[string]string{"type": "json_object"},
	}
}

func (c *Client) geminiPayload(prompt string, images [][]byte) any {
	parts := make([]map[string]any, 0, len(images)+1)
	for _, img := range images {
		parts = append(parts, map[string]any{
			"inline_data": map[string]any{
				"mime_type": "image/png",
				"data":      base64.StdEncoding.EncodeToString(img),
			},
		})
	}
	parts = append(parts, map[string]any{"text": prompt})

	return map[string]any{
		"system_instruction": map[string]any{
			"parts": []map[string]any{{"text": SystemPrompt}},
		},
		"contents": []map[string]any{{"parts": parts}},
		"generationConfig": map[string]any{
			"temperature":      temperature,
			"maxOutputTokens":  maxTokens,
			"responseMimeType": "application/json",
		},
	}
}

func (c *Client) claudePayload(prompt string, images [][]byte) any {
	content := make([]map[string]any, 0, len(images)+1)
	for _, img := range images {
		content = append(content, map[string]any{
			"type": "image",
			"source": map[string]any{
				"type":       "base64",
				"media_type": "image/png",
				"data":       base64.StdEncoding.EncodeToString(img),
			},
		})
	}
	content = append(content, map[string]any{"type": "text", "text": prompt})

	return map[string]any{
		"model":       c.model,
		"system":      SystemPrompt,
		"max_tokens":  maxTokens,
		"temperature": temperature,
		"messages":    []map[string]any{{"role": "user", "content": content}},
	}
}

// extract pulls the reply text and token usage out of the provider-specific
// response envelope. Usage is zero when the provider omits it.
func (c *Client) extract(body []byte) (string, Usage) {
	doc := string(body)
	switch c.mode {
	case "openai":
		return gjson.Get(doc, "choices.0.message.content").String(), Usage{
			PromptTokens:     int(gjson.Get(doc, "usage.prompt_tokens").Int()),
			CompletionTokens: int(gjson.Get(doc, "usage.completion_tokens").Int()),
			TotalTokens:      int(gjson.Get(doc, "usage.total_tokens").Int()),
		}
	case "gemini":
		usage := Usage{
			PromptTokens:     int(gjson.Get(doc, "usageMetadata.promptTokenCount").Int()),
			CompletionTokens: int(gjson.Get(doc, "usageMetadata.candidatesTokenCount").Int()),
			TotalTokens:      int(gjson.Get(doc, "usageMetadata.totalTokenCount").Int()),
		}
		return gjson.Get(doc, "candidates.0.content.parts.0.text").String(), usage
	case "claude":
		in := int(gjson.Get(doc, "usage.input_tokens").Int())
		out := int(gjson.Get(doc, "usage.output_tokens").Int())
		return gjson.Get(doc, "content.0.text").String(), Usage{
			PromptTokens:     in,
			CompletionTokens: out,
			TotalTokens:      in + out,
		}
	}
	return "", Usage{}
}

func errorDecision(err error) Decision {
	return Decision{
		Thought: "Error: API call failed.",
		Action:  ErrorAction(err.Error()),
	}
}

func truncateBody(body []byte) string {
	const limit = 300
	if len(body) > limit {
		return string(body[:limit]) + "..."
	}
	return string(body)
}
