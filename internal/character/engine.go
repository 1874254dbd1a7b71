package character

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/qninhdt/lumen-tales/server/internal/imagegen"
	"github.com/qninhdt/lumen-tales/server/internal/logger"
	"github.com/qninhdt/lumen-tales/server/internal/metrics"
	"github.com/qninhdt/lumen-tales/server/internal/story"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Default is the outfit and scene value that adds nothing to the prompt
const Default = "default"

// DefaultTimeout bounds one generation call
const DefaultTimeout = 60 * time.Second

// DefaultStyleSuffix closes every prompt
const DefaultStyleSuffix = "High quality, detailed, digital art style."

// Generator produces a character image reference from a request
type Generator interface {
	GenerateCharacterImage(ctx context.Context, req imagegen.CharacterRequest) (string, error)
}

// Image is a generated portrait bound to the inputs that produced it
type Image struct {
	ID          string          `json:"id"`
	CharacterID string          `json:"character_id"`
	Emotion     string          `json:"emotion"`
	Outfit      string          `json:"outfit"`
	Scene       string          `json:"scene"`
	ImageURL    string          `json:"image_url"`
	Prompt      string          `json:"prompt"`
	Character   story.Character `json:"character"`
	Timestamp   time.Time       `json:"timestamp"`
}

// Tuple returns the rendering tuple of the image
func (i Image) Tuple() Tuple {
	return Tuple{Emotion: i.Emotion, Outfit: i.Outfit, Scene: i.Scene}
}

// Engine renders characters consistently and caches renders per character
type Engine struct {
	gen         Generator
	cache       Cache
	scorer      Scorer
	group       singleflight.Group
	styleSuffix string
	timeout     time.Duration
	now         func() time.Time
	logger      *zap.Logger
	metrics     *metrics.Metrics
}

// Option configures an Engine
type Option func(*Engine)

func WithCache(c Cache) Option { return func(e *Engine) { e.cache = c } }
func WithScorer(s Scorer) Option { return func(e *Engine) { e.scorer = s } }
func WithStyleSuffix(s string) Option { return func(e *Engine) { e.styleSuffix = s } }
func WithTimeout(d time.Duration) Option { return func(e *Engine) { e.timeout = d } }
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }
func WithMetrics(m *metrics.Metrics) Option { return func(e *Engine) { e.metrics = m } }
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = logger.OrNop(l).Named("character") }
}

// NewEngine creates an engine backed by gen
func NewEngine(gen Generator, opts ...Option) *Engine {
	e := &Engine{
		gen:         gen,
		styleSuffix: DefaultStyleSuffix,
		timeout:     DefaultTimeout,
		now:         time.Now,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.cache == nil {
		e.cache = NewBucketCache(10, LRU{})
	}
	if e.scorer == nil {
		e.scorer = AttributeScorer{}
	}
	return e
}

func bucketKey(characterID string) string {
	return "character_" + characterID
}

func normalize(v string) string {
	if v == "" {
		return Default
	}
	return v
}

// GenerateCharacterImage returns the cached render for the tuple or generates
// one. Concurrent requests for the same tuple share one generation call, which
// runs detached from any single caller and is bounded by the engine timeout. A
// caller whose ctx ends stops waiting without affecting the others.
func (e *Engine) GenerateCharacterImage(ctx context.Context, c *story.Character, emotion, outfit, scene string) (*Image, error) {
	tuple := Tuple{Emotion: emotion, Outfit: normalize(outfit), Scene: normalize(scene)}
	bucket := bucketKey(c.ID)

	if img, ok := e.cache.Lookup(bucket, tuple); ok {
		e.metrics.CacheHit("character")
		return &img, nil
	}
	e.metrics.CacheMiss("character")

	char := *c
	flightKey := fmt.Sprintf("%s|%s|%s|%s", bucket, tuple.Emotion, tuple.Outfit, tuple.Scene)
	ch := e.group.DoChan(flightKey, func() (interface{}, error) {
		return e.generate(context.WithoutCancel(ctx), bucket, &char, tuple)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			e.logger.Warn("Character image generation failed", zap.String("character", c.ID), zap.Error(res.Err))
			return nil, res.Err
		}
		img := res.Val.(Image)
		return &img, nil
	}
}

// generate performs one generation call and caches a complete result
func (e *Engine) generate(ctx context.Context, bucket string, c *story.Character, tuple Tuple) (Image, error) {
	if img, ok := e.cache.Lookup(bucket, tuple); ok {
		return img, nil
	}

	genCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		genCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	prompt := e.BuildPrompt(c, tuple.Emotion, tuple.Outfit, tuple.Scene)
	url, err := e.gen.GenerateCharacterImage(genCtx, imagegen.CharacterRequest{
		Character: *c,
		Emotion:   tuple.Emotion,
		Outfit:    tuple.Outfit,
		Scene:     tuple.Scene,
		Prompt:    prompt,
	})
	if err != nil {
		return Image{}, err
	}
	// a call that outlived its deadline must leave the cache untouched
	if err := genCtx.Err(); err != nil {
		return Image{}, err
	}

	img := Image{
		ID:          uuid.New().String(),
		CharacterID: c.ID,
		Emotion:     tuple.Emotion,
		Outfit:      tuple.Outfit,
		Scene:       tuple.Scene,
		ImageURL:    url,
		Prompt:      prompt,
		Character:   *c,
		Timestamp:   e.now(),
	}
	e.cache.Insert(bucket, img)
	return img, nil
}

// BuildPrompt renders the deterministic prompt for a character tuple
func (e *Engine) BuildPrompt(c *story.Character, emotion, outfit, scene string) string {
	a := c.Attributes
	age := a.Age
	if age == "" {
		age = "adult"
	}
	gender := a.Gender
	if gender == "" {
		gender = "unspecified"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "A %s %s %s character named %s", emotion, age, gender, c.Name)
	if a.HairColor != "" {
		fmt.Fprintf(&b, " with %s hair", a.HairColor)
	}
	if a.EyeColor != "" {
		fmt.Fprintf(&b, ", %s eyes", a.EyeColor)
	}
	if a.SkinTone != "" {
		fmt.Fprintf(&b, ", %s skin", a.SkinTone)
	}
	if a.Height != "" || a.Build != "" {
		fmt.Fprintf(&b, ", %s %s build", a.Height, a.Build)
	}
	if outfit != "" && outfit != Default {
		fmt.Fprintf(&b, ", wearing %s", outfit)
	}
	if scene != "" && scene != Default {
		fmt.Fprintf(&b, ", in a %s setting", scene)
	}
	if c.Description != "" {
		fmt.Fprintf(&b, ". %s", c.Description)
	}
	fmt.Fprintf(&b, ". %s", e.styleSuffix)
	return b.String()
}

// Images returns the cached renders of a character, newest first
func (e *Engine) Images(characterID string) []Image {
	return e.cache.Images(bucketKey(characterID))
}

// ForgetCharacter drops every cached render of a character
func (e *Engine) ForgetCharacter(characterID string) {
	e.cache.Clear(bucketKey(characterID))
}
