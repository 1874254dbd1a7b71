package imagegen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/qninhdt/lumen-tales/server/internal/apperr"
	"github.com/qninhdt/lumen-tales/server/internal/logger"
	"github.com/qninhdt/lumen-tales/server/internal/metrics"
	"github.com/qninhdt/lumen-tales/server/internal/story"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// CharacterRequest asks for a portrait of one character
type CharacterRequest struct {
	Character story.Character `json:"character"`
	Emotion   string          `json:"emotion"`
	Outfit    string          `json:"outfit"`
	Scene     string          `json:"scene"`
	Prompt    string          `json:"prompt"`
}

// SceneRequest asks for an illustration of a scene
type SceneRequest struct {
	Scene      story.Scene       `json:"scene"`
	Characters []story.Character `json:"characters"`
	Prompt     string            `json:"prompt"`
}

type generateResponse struct {
	ImageURL string `json:"imageUrl"`
	Error    string `json:"error,omitempty"`
}

// Config configures the client
type Config struct {
	CharacterEndpoint string
	SceneEndpoint     string
	Timeout           time.Duration
	RatePerSecond     float64 // 0 disables throttling
}

// Client talks to the image-generation service
type Client struct {
	characterURL string
	sceneURL     string
	httpClient   *http.Client
	limiter      *rate.Limiter
	logger       *zap.Logger
	metrics      *metrics.Metrics
}

// NewClient creates a new image-generation client
func NewClient(cfg Config, log *zap.Logger, m *metrics.Metrics) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1)
	}
	return &Client{
		characterURL: cfg.CharacterEndpoint,
		sceneURL:     cfg.SceneEndpoint,
		httpClient:   &http.Client{Timeout: cfg.Timeout},
		limiter:      limiter,
		logger:       logger.OrNop(log).Named("imagegen"),
		metrics:      m,
	}
}

// GenerateCharacterImage returns the image reference for a character portrait
func (c *Client) GenerateCharacterImage(ctx context.Context, req CharacterRequest) (string, error) {
	url, err := c.post(ctx, "character", c.characterURL, req)
	c.metrics.Generation("character", err)
	return url, err
}

// GenerateSceneImage returns the image reference for a scene illustration
func (c *Client) GenerateSceneImage(ctx context.Context, req SceneRequest) (string, error) {
	url, err := c.post(ctx, "scene", c.sceneURL, req)
	c.metrics.Generation("scene", err)
	return url, err
}

func (c *Client) post(ctx context.Context, kind, endpoint string, payload interface{}) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	log := c.logger.With(zap.String("kind", kind), zap.Int("status", resp.StatusCode), zap.Duration("latency", time.Since(start)))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Warn("Image generation rejected")
		return "", apperr.GenerationFailed(fmt.Sprintf("failed to generate %s image: %s", kind, resp.Status), nil)
	}

	var out generateResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", apperr.GenerationFailed(fmt.Sprintf("failed to generate %s image", kind), err)
	}
	if out.ImageURL == "" {
		return "", apperr.GenerationFailed(fmt.Sprintf("failed to generate %s image: empty image reference", kind), nil)
	}

	log.Debug("Image generated")
	return out.ImageURL, nil
}
