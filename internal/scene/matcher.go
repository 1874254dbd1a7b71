package scene

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/qninhdt/lumen-tales/server/internal/character"
	"github.com/qninhdt/lumen-tales/server/internal/emotion"
	"github.com/qninhdt/lumen-tales/server/internal/imagegen"
	"github.com/qninhdt/lumen-tales/server/internal/logger"
	"github.com/qninhdt/lumen-tales/server/internal/metrics"
	"github.com/qninhdt/lumen-tales/server/internal/story"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Generator produces a scene image reference from a request
type Generator interface {
	GenerateSceneImage(ctx context.Context, req imagegen.SceneRequest) (string, error)
}

// PortraitRenderer renders a character in a given emotion
type PortraitRenderer interface {
	GenerateCharacterImage(ctx context.Context, c *story.Character, emotion, outfit, scene string) (*character.Image, error)
}

// Image is a generated scene illustration bound to its inputs
type Image struct {
	ID           string    `json:"id"`
	SceneID      string    `json:"scene_id"`
	ImageURL     string    `json:"image_url"`
	CharacterIDs []string  `json:"character_ids"`
	Prompt       string    `json:"prompt"`
	Timestamp    time.Time `json:"timestamp"`
}

// Rendering is a scene illustration plus a portrait per participating character
type Rendering struct {
	Scene     *Image                      `json:"scene"`
	Portraits map[string]*character.Image `json:"portraits"`
}

// Config tunes a Matcher
type Config struct {
	CacheTTL    time.Duration
	Timeout     time.Duration // bounds one generation call; defaults to 60s
	Parallelism int
}

// Matcher turns scenes into illustration prompts and caches the results by
// scene id and content
type Matcher struct {
	gen         Generator
	portraits   PortraitRenderer
	cache       *cache.Cache
	group       singleflight.Group
	parallelism int
	timeout     time.Duration
	now         func() time.Time
	logger      *zap.Logger
	metrics     *metrics.Metrics
}

// NewMatcher creates a matcher. portraits may be nil when only scene images are needed.
func NewMatcher(gen Generator, portraits PortraitRenderer, cfg Config, log *zap.Logger, m *metrics.Metrics) *Matcher {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 30 * time.Minute
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 4
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Matcher{
		gen:         gen,
		portraits:   portraits,
		cache:       cache.New(cfg.CacheTTL, 2*cfg.CacheTTL),
		parallelism: cfg.Parallelism,
		timeout:     cfg.Timeout,
		now:         time.Now,
		logger:      logger.OrNop(log).Named("scene"),
		metrics:     m,
	}
}

// CacheKey identifies a scene revision
func CacheKey(s *story.Scene) string {
	sum := sha256.Sum256([]byte(s.Content))
	return "scene_" + s.ID + "_" + hex.EncodeToString(sum[:8])
}

// GenerateSceneImage returns the cached illustration for this scene revision
// or generates one
func (m *Matcher) GenerateSceneImage(ctx context.Context, s *story.Scene, characters map[string]story.Character) (*Image, error) {
	key := CacheKey(s)
	if v, ok := m.cache.Get(key); ok {
		m.metrics.CacheHit("scene")
		img := v.(Image)
		return &img, nil
	}
	m.metrics.CacheMiss("scene")

	sc := *s
	ch := m.group.DoChan(key, func() (interface{}, error) {
		return m.generate(context.WithoutCancel(ctx), key, &sc, characters)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			m.logger.Warn("Scene image generation failed", zap.String("scene", s.ID), zap.Error(res.Err))
			return nil, res.Err
		}
		img := res.Val.(Image)
		return &img, nil
	}
}

// generate runs one generation call, detached from the callers that share it,
// and caches only a result produced within the timeout
func (m *Matcher) generate(ctx context.Context, key string, s *story.Scene, characters map[string]story.Character) (Image, error) {
	if v, ok := m.cache.Get(key); ok {
		return v.(Image), nil
	}

	genCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	ordered := orderCharacters(s, characters)
	prompt := BuildPrompt(s, ordered)
	url, err := m.gen.GenerateSceneImage(genCtx, imagegen.SceneRequest{
		Scene:      *s,
		Characters: ordered,
		Prompt:     prompt,
	})
	if err != nil {
		return Image{}, err
	}
	if err := genCtx.Err(); err != nil {
		return Image{}, err
	}

	ids := make([]string, len(ordered))
	for i, c := range ordered {
		ids[i] = c.ID
	}
	img := Image{
		ID:           uuid.New().String(),
		SceneID:      s.ID,
		ImageURL:     url,
		CharacterIDs: ids,
		Prompt:       prompt,
		Timestamp:    m.now(),
	}
	m.cache.Set(key, img, cache.DefaultExpiration)
	return img, nil
}

// RenderScene generates the scene illustration and, in parallel, a portrait of
// every participating character in its mapped emotion. Characters without a
// mapped emotion are drawn neutral.
func (m *Matcher) RenderScene(ctx context.Context, s *story.Scene, characters map[string]story.Character, emotions map[string]string) (*Rendering, error) {
	out := &Rendering{Portraits: make(map[string]*character.Image)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.parallelism)

	g.Go(func() error {
		img, err := m.GenerateSceneImage(gctx, s, characters)
		if err != nil {
			return err
		}
		mu.Lock()
		out.Scene = img
		mu.Unlock()
		return nil
	})

	if m.portraits != nil {
		setting := s.Setting
		if setting == "" {
			setting = character.Default
		}
		for _, c := range orderCharacters(s, characters) {
			c := c
			label := emotions[c.ID]
			if label == "" {
				label = emotion.Neutral
			}
			g.Go(func() error {
				img, err := m.portraits.GenerateCharacterImage(gctx, &c, label, character.Default, setting)
				if err != nil {
					return err
				}
				mu.Lock()
				out.Portraits[c.ID] = img
				mu.Unlock()
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
