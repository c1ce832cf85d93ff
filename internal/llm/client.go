package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/acme/triple-line-dialer/internal/config"
	apperrors "github.com/acme/triple-line-dialer/pkg/errors"
)

const (
	defaultModel = "gpt-4o-mini"
	systemPrompt = "You summarise sales call notes for a CRM. Reply with one or two plain sentences covering the prospect's interest and the agreed next step."
)

// Summarizer turns free-form call notes into a short summary.
type Summarizer interface {
	Summarize(ctx context.Context, notes string) (string, error)
	Configured() bool
}

// Client calls an OpenAI-compatible chat completions API.
type Client struct {
	api     *openai.Client
	apiKey  string
	model   string
	limiter *rate.Limiter
}

// NewClient builds a client from config.
func NewClient(cfg config.LLMConfig) *Client {
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	oc.HTTPClient = &http.Client{Timeout: timeout}

	return &Client{
		api:     openai.NewClientWithConfig(oc),
		apiKey:  cfg.APIKey,
		model:   model,
		limiter: rate.NewLimiter(limit, 1),
	}
}

// Configured reports whether an API key is present.
func (c *Client) Configured() bool {
	return c.apiKey != ""
}

// Summarize returns a short summary of notes.
func (c *Client) Summarize(ctx context.Context, notes string) (string, error) {
	if !c.Configured() {
		return "", fmt.Errorf("llm: api key missing: %w", apperrors.ErrNeedsSetup)
	}
	notes = strings.TrimSpace(notes)
	if notes == "" {
		return "", fmt.Errorf("llm: empty notes: %w", apperrors.ErrValidation)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("llm: rate limit wait: %w", err)
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: notes},
		},
		Temperature: 0.2,
		MaxTokens:   160,
	})
	if err != nil {
		return "", classify(err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("llm: empty completion: %w", apperrors.ErrUnavailable)
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func classify(err error) error {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	if status == http.StatusTooManyRequests {
		return fmt.Errorf("llm: rate limited: %w", apperrors.ErrQuotaExceeded)
	}
	return fmt.Errorf("llm: request (status %d): %v: %w", status, err, apperrors.ErrUnavailable)
}

var _ Summarizer = (*Client)(nil)
