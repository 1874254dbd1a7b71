package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds server configuration read from the environment
type Config struct {
	Port        string `envconfig:"PORT" default:"8080"`
	DBPath      string `envconfig:"DB_PATH" default:"lumen.db"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogEncoding string `envconfig:"LOG_ENCODING" default:"json"`
	JWTSecret   string `envconfig:"JWT_SECRET"`
	OperatorKey string `envconfig:"OPERATOR_API_KEY"`

	StoreDriver   string `envconfig:"STORE_DRIVER" default:"sqlite"`
	RedisAddr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	ProgressTTL     time.Duration `envconfig:"PROGRESS_TTL" default:"0s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`

	ImageCharacterEndpoint string        `envconfig:"IMAGE_CHARACTER_ENDPOINT" default:"http://localhost:3000/api/ai/generate-character"`
	ImageSceneEndpoint     string        `envconfig:"IMAGE_SCENE_ENDPOINT" default:"http://localhost:3000/api/ai/generate-scene"`
	ImageTimeout           time.Duration `envconfig:"IMAGE_TIMEOUT" default:"60s"`
	ImageRatePerSecond     float64       `envconfig:"IMAGE_RATE_PER_SECOND" default:"2"`
	ImageStyleSuffix       string        `envconfig:"IMAGE_STYLE_SUFFIX" default:"High quality, detailed, digital art style."`

	LLMBaseURL string `envconfig:"LLM_BASE_URL" default:"https://openrouter.ai/api/v1"`
	LLMAPIKey  string `envconfig:"LLM_API_KEY"`
	LLMModel   string `envconfig:"LLM_MODEL" default:"google/gemini-2.0-flash-001"`

	EmotionCacheTTL        time.Duration `envconfig:"EMOTION_CACHE_TTL" default:"1h"`
	EmotionCacheMaxEntries int           `envconfig:"EMOTION_CACHE_MAX_ENTRIES" default:"5000"`
	CharacterCacheSize     int           `envconfig:"CHARACTER_CACHE_SIZE" default:"10"`
	CharacterEviction      string        `envconfig:"CHARACTER_EVICTION" default:"lru"`
	SceneCacheTTL          time.Duration `envconfig:"SCENE_CACHE_TTL" default:"30m"`

	ArtifactQueueSize int           `envconfig:"ARTIFACT_QUEUE_SIZE" default:"1024"`
	ArtifactJobMaxAge time.Duration `envconfig:"ARTIFACT_JOB_MAX_AGE" default:"30m"`

	PathMaxDepth int `envconfig:"PATH_MAX_DEPTH" default:"10"`
	PathMaxPaths int `envconfig:"PATH_MAX_PATHS" default:"10000"`

	RateLimitRPS float64 `envconfig:"RATE_LIMIT_RPS" default:"100"`
	MaxBodyBytes int64   `envconfig:"MAX_BODY_BYTES" default:"1048576"`
}

// Load reads an optional .env file and then the process environment
func Load() (*Config, error) {
	// .env is optional; a missing file is not an error
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks enumerated and numeric settings
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case "sqlite", "redis":
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	switch c.CharacterEviction {
	case "lru", "recency":
	default:
		return fmt.Errorf("unknown CHARACTER_EVICTION %q", c.CharacterEviction)
	}
	if c.CharacterCacheSize <= 0 {
		return fmt.Errorf("CHARACTER_CACHE_SIZE must be positive")
	}
	if c.PathMaxDepth <= 0 {
		return fmt.Errorf("PATH_MAX_DEPTH must be positive")
	}
	return nil
}
