// Package gemini implements the AI provider port against the Gemini REST API.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/fairyhunter13/ai-job-matcher/internal/adapter/observability"
	"github.com/fairyhunter13/ai-job-matcher/internal/config"
	"github.com/fairyhunter13/ai-job-matcher/internal/domain"
)

// Client performs single-attempt calls against the Gemini API. Credential
// rotation, throttling, and retry policy live in the dispatcher; this client
// only classifies each outcome so the dispatcher can react.
type Client struct {
	baseURL string
	genHC   *http.Client
	embedHC *http.Client
}

// readSnippet reads up to n bytes from r and returns it as a string. The
// snippet feeds rate-limit classification, so it must carry the real body.
func readSnippet(r io.Reader, n int) string {
	if r == nil || n <= 0 {
		return ""
	}
	b, _ := io.ReadAll(io.LimitReader(r, int64(n)))
	return string(b)
}

// New constructs a Gemini client with sensible timeouts.
func New(cfg config.Config) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.GeminiBaseURL, "/"),
		genHC:   &http.Client{Timeout: 60 * time.Second},
		embedHC: &http.Client{Timeout: 30 * time.Second},
	}
}

// isQuotaSignal reports whether a response body carries a quota exhaustion
// marker. Gemini sometimes signals quota problems with a 400 status and a
// RESOURCE_EXHAUSTED code instead of a plain 429.
func isQuotaSignal(body string) bool {
	return strings.Contains(body, "RESOURCE_EXHAUSTED") ||
		strings.Contains(strings.ToLower(body), "quota")
}

// Generate calls models/{model}:generateContent once and returns the first
// candidate's concatenated text. The credential is sent as a header and never
// appears in the URL, logs, or wrapped errors.
func (c *Client) Generate(ctx domain.Context, credential, model, prompt string, maxTokens int, temperature float64) (string, error) {
	if credential == "" {
		return "", fmt.Errorf("%w: empty credential", domain.ErrInvalidArgument)
	}
	body := map[string]any{
		"contents": []map[string]any{
			{"parts": []map[string]string{{"text": prompt}}},
		},
		"generationConfig": map[string]any{
			"temperature":     temperature,
			"maxOutputTokens": maxTokens,
		},
	}
	b, _ := json.Marshal(body)

	endpoint := c.baseURL + "/models/" + model + ":generateContent"
	start := time.Now()
	r, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(b))
	if err != nil {
		return "", fmt.Errorf("op=gemini.Generate: %w", err)
	}
	r.Header.Set("x-goog-api-key", credential)
	r.Header.Set("Content-Type", "application/json")
	resp, err := c.genHC.Do(r)
	observability.AIRequestDuration.WithLabelValues("generate").Observe(time.Since(start).Seconds())
	if err != nil {
		observability.AIRequestsTotal.WithLabelValues("generate", "transport").Inc()
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: op=gemini.Generate", domain.ErrUpstreamTimeout)
		}
		return "", fmt.Errorf("op=gemini.Generate: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := readSnippet(resp.Body, 512)
		return "", c.classifyFailure("generate", model, resp.StatusCode, snippet)
	}

	var out struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		observability.AIRequestsTotal.WithLabelValues("generate", "decode_error").Inc()
		slog.Error("ai provider decode error", slog.String("op", "generate"), slog.String("model", model), slog.Any("error", err))
		return "", fmt.Errorf("%w: decode generateContent response: %v", domain.ErrSchemaInvalid, err)
	}
	if len(out.Candidates) == 0 || len(out.Candidates[0].Content.Parts) == 0 {
		observability.AIRequestsTotal.WithLabelValues("generate", "empty").Inc()
		return "", fmt.Errorf("%w: empty candidates from provider", domain.ErrSchemaInvalid)
	}
	var sb strings.Builder
	for _, p := range out.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	observability.AIRequestsTotal.WithLabelValues("generate", "ok").Inc()
	return sb.String(), nil
}

// Embed calls models/{model}:embedContent once and returns the vector.
func (c *Client) Embed(ctx domain.Context, credential, model, text string) ([]float32, error) {
	if credential == "" {
		return nil, fmt.Errorf("%w: empty credential", domain.ErrInvalidArgument)
	}
	body := map[string]any{
		"model": "models/" + model,
		"content": map[string]any{
			"parts": []map[string]string{{"text": text}},
		},
	}
	b, _ := json.Marshal(body)

	endpoint := c.baseURL + "/models/" + model + ":embedContent"
	start := time.Now()
	r, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("op=gemini.Embed: %w", err)
	}
	r.Header.Set("x-goog-api-key", credential)
	r.Header.Set("Content-Type", "application/json")
	resp, err := c.embedHC.Do(r)
	observability.AIRequestDuration.WithLabelValues("embed").Observe(time.Since(start).Seconds())
	if err != nil {
		observability.AIRequestsTotal.WithLabelValues("embed", "transport").Inc()
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: op=gemini.Embed", domain.ErrUpstreamTimeout)
		}
		return nil, fmt.Errorf("op=gemini.Embed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := readSnippet(resp.Body, 512)
		return nil, c.classifyFailure("embed", model, resp.StatusCode, snippet)
	}

	var out struct {
		Embedding struct {
			Values []float32 `json:"values"`
		} `json:"embedding"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		observability.AIRequestsTotal.WithLabelValues("embed", "decode_error").Inc()
		slog.Error("ai provider decode error", slog.String("op", "embed"), slog.String("model", model), slog.Any("error", err))
		return nil, fmt.Errorf("%w: decode embedContent response: %v", domain.ErrSchemaInvalid, err)
	}
	if len(out.Embedding.Values) == 0 {
		observability.AIRequestsTotal.WithLabelValues("embed", "empty").Inc()
		return nil, fmt.Errorf("%w: empty embedding from provider", domain.ErrSchemaInvalid)
	}
	observability.AIRequestsTotal.WithLabelValues("embed", "ok").Inc()
	return out.Embedding.Values, nil
}

// classifyFailure maps a non-2xx provider response to a domain error. Body
// snippets are logged, never folded into the returned error, so that quota
// details cannot leak into client-facing messages.
func (c *Client) classifyFailure(op, model string, status int, snippet string) error {
	switch {
	case status == http.StatusTooManyRequests || isQuotaSignal(snippet):
		observability.AIRequestsTotal.WithLabelValues(op, "rate_limited").Inc()
		slog.Warn("ai provider rate limited",
			slog.String("op", op), slog.String("model", model), slog.Int("status", status))
		return fmt.Errorf("%w: op=%s status=%d", domain.ErrUpstreamRateLimit, op, status)
	case status >= 400 && status < 500:
		observability.AIRequestsTotal.WithLabelValues(op, "client_error").Inc()
		slog.Warn("ai provider 4xx",
			slog.String("op", op), slog.String("model", model), slog.Int("status", status), slog.String("body", snippet))
		return fmt.Errorf("%w: op=%s status=%d", domain.ErrInvalidArgument, op, status)
	default:
		observability.AIRequestsTotal.WithLabelValues(op, "server_error").Inc()
		slog.Error("ai provider non-2xx",
			slog.String("op", op), slog.String("model", model), slog.Int("status", status), slog.String("body", snippet))
		return fmt.Errorf("op=%s status=%d: upstream failure", op, status)
	}
}
