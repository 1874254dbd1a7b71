package narrative

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/qninhdt/lumen-tales/server/internal/apperr"
	"github.com/qninhdt/lumen-tales/server/internal/logger"
	"github.com/qninhdt/lumen-tales/server/internal/metrics"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

const defaultBaseURL = "https://openrouter.ai/api/v1"

// Config configures the continuation client
type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration
	MaxRetries int
}

// Continuer writes the next story segment from the story so far and the
// reader's choice
type Continuer struct {
	client     *openai.Client
	model      string
	timeout    time.Duration
	maxRetries int
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

// headerTransport tags every request with the application identity
type headerTransport struct {
	base http.RoundTripper
}

func (t headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("HTTP-Referer", "https://lumen-tales.local")
	req.Header.Set("X-Title", "Lumen Tales")
	return t.base.RoundTrip(req)
}

// NewContinuer creates a continuation client
func NewContinuer(cfg Config, log *zap.Logger, m *metrics.Metrics) (*Continuer, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("LLM_API_KEY not set")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = "google/gemini-2.0-flash-001"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 2
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	oc.HTTPClient = &http.Client{Transport: headerTransport{base: http.DefaultTransport}}

	return &Continuer{
		client:     openai.NewClientWithConfig(oc),
		model:      cfg.Model,
		timeout:    cfg.Timeout,
		maxRetries: cfg.MaxRetries,
		logger:     logger.OrNop(log).Named("narrative"),
		metrics:    m,
	}, nil
}

func buildPrompt(storyContext, choiceText string) string {
	return fmt.Sprintf(`You are an interactive storyteller for Lumen Tales, a platform for interactive narratives.

Current story context:
%s

User choice:
%s

Continue the story based on this choice. Write 2-3 paragraphs (150-300 words) that advance the narrative in an engaging way. End with 2-3 new choices for the reader, one per line, each starting with "- ".`,
		storyContext, choiceText)
}

// Complete returns the raw model text for a continuation
func (c *Continuer) Complete(ctx context.Context, storyContext, choiceText string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: buildPrompt(storyContext, choiceText)},
		},
		Temperature: 0.7,
		TopP:        0.95,
		MaxTokens:   800,
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		resp, err := c.client.CreateChatCompletion(ctx, req)
		if err == nil && len(resp.Choices) > 0 && strings.TrimSpace(resp.Choices[0].Message.Content) != "" {
			return resp.Choices[0].Message.Content, nil
		}
		if err == nil {
			err = errors.New("empty completion")
		}
		lastErr = err
		c.logger.Warn("Continuation attempt failed", zap.Int("attempt", attempt), zap.Error(err))
		if ctx.Err() != nil {
			break
		}
	}
	return "", apperr.GenerationFailed("failed to generate story continuation", lastErr)
}

// Continue generates and parses the next segment
func (c *Continuer) Continue(ctx context.Context, storyContext, choiceText string) (*Continuation, error) {
	text, err := c.Complete(ctx, storyContext, choiceText)
	c.metrics.Generation("continuation", err)
	if err != nil {
		return nil, err
	}
	return ParseContinuation(text), nil
}
