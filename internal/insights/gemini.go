// Package insights asks a hosted text-generation model for coaching advice on a finished
// session. Only the session summary is sent.
package insights

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"example.com/repcount/internal/exercise"
	"example.com/repcount/internal/recorder"
)

const (
	defaultModel   = "gemini-1.5-flash"
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta/models"
	defaultRequest = "Provide your best, concise plan."
)

var (
	// ErrNotConfigured means no API key was supplied.
	ErrNotConfigured = errors.New("insights provider not configured")
	// ErrUnreachable wraps transport failures talking to the provider.
	ErrUnreachable = errors.New("insights provider unreachable")
	// ErrEmptyResponse means the provider answered without any text.
	ErrEmptyResponse = errors.New("insights provider returned no text")
)

// StatusError is returned for non-2xx provider responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("insights provider returned %d: %s", e.StatusCode, e.Body)
}

// Config configures the Gemini client.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// GeminiClient calls the generateContent endpoint.
type GeminiClient struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
}

// NewGeminiClient returns a client. An empty API key yields a client whose calls fail with
// ErrNotConfigured.
func NewGeminiClient(cfg Config) *GeminiClient {
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &GeminiClient{
		apiKey:     cfg.APIKey,
		endpoint:   fmt.Sprintf("%s/%s:generateContent", strings.TrimRight(cfg.BaseURL, "/"), url.PathEscape(cfg.Model)),
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

// Generate returns coaching advice for the session summary. prompt is the optional user request.
func (c *GeminiClient) Generate(ctx context.Context, kind exercise.Kind, summary recorder.Summary, prompt string) (string, error) {
	if c.apiKey == "" {
		return "", ErrNotConfigured
	}

	body, err := json.Marshal(generateRequest{
		Contents: []content{{Role: "user", Parts: []part{{Text: BuildPrompt(kind, summary, prompt)}}}},
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"?key="+url.QueryEscape(c.apiKey), bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnreachable, redact(err, c.apiKey))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 500))
		return "", &StatusError{StatusCode: resp.StatusCode, Body: string(data)}
	}

	var payload generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("%w: decode: %v", ErrEmptyResponse, err)
	}
	if len(payload.Candidates) == 0 || len(payload.Candidates[0].Content.Parts) == 0 {
		return "", ErrEmptyResponse
	}
	text := payload.Candidates[0].Content.Parts[0].Text
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// redact keeps the API key out of error messages, which embed the request URL.
func redact(err error, key string) string {
	return strings.ReplaceAll(err.Error(), url.QueryEscape(key), "REDACTED")
}
