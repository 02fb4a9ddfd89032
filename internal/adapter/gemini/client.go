// Package gemini adapts the Gemini generateContent API to domain.SummaryGenerator.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"google.golang.org/genai"

	"github.com/couchcryptid/uavo-incident-aggregator/internal/domain"
	"github.com/couchcryptid/uavo-incident-aggregator/internal/observability"
)

const (
	defaultModel    = "gemini-2.5-flash"
	temperature     = 0.2
	maxOutputTokens = 256
)

// Options configures a Client.
type Options struct {
	APIKey  string
	Model   string
	BaseURL string // empty uses the public endpoint

	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

// Client implements domain.SummaryGenerator using Gemini.
type Client struct {
	models  *genai.Models
	model   string
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewClient creates a Gemini client. It does not contact the API.
func NewClient(ctx context.Context, opts Options, metrics *observability.Metrics, logger *slog.Logger) (*Client, error) {
	if opts.APIKey == "" {
		return nil, errors.New("gemini: API key is required")
	}
	if opts.Model == "" {
		opts.Model = defaultModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      opts.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPClient:  opts.HTTPClient,
		HTTPOptions: genai.HTTPOptions{BaseURL: opts.BaseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	return &Client{
		models:  client.Models,
		model:   opts.Model,
		metrics: metrics,
		logger:  logger,
	}, nil
}

// Generate sends the prompt as a single-turn request and returns the text of
// the first candidate.
func (c *Client) Generate(ctx context.Context, prompt domain.Prompt) (string, error) {
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(prompt.System, genai.RoleModel),
		Temperature:       genai.Ptr(float32(temperature)),
		MaxOutputTokens:   int32(maxOutputTokens),
	}

	start := time.Now()
	resp, err := c.models.GenerateContent(ctx, c.model,
		[]*genai.Content{genai.NewContentFromText(prompt.User, genai.RoleUser)},
		cfg,
	)
	c.metrics.GenerationDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return "", fmt.Errorf("gemini generate content: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return "", errors.New("gemini returned no text")
	}
	c.logger.Debug("summary generated", "model", c.model, "chars", len(text))
	return text, nil
}
