package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/qninhdt/lumen-tales/server/internal/api"
	"github.com/qninhdt/lumen-tales/server/internal/branch"
	"github.com/qninhdt/lumen-tales/server/internal/character"
	"github.com/qninhdt/lumen-tales/server/internal/config"
	"github.com/qninhdt/lumen-tales/server/internal/db"
	"github.com/qninhdt/lumen-tales/server/internal/emotion"
	"github.com/qninhdt/lumen-tales/server/internal/imagegen"
	"github.com/qninhdt/lumen-tales/server/internal/logger"
	"github.com/qninhdt/lumen-tales/server/internal/metrics"
	mw "github.com/qninhdt/lumen-tales/server/internal/middleware"
	"github.com/qninhdt/lumen-tales/server/internal/narrative"
	"github.com/qninhdt/lumen-tales/server/internal/progress"
	"github.com/qninhdt/lumen-tales/server/internal/render"
	"github.com/qninhdt/lumen-tales/server/internal/scene"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zl, err := logger.New(logger.Config{Level: cfg.LogLevel, Encoding: cfg.LogEncoding})
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer zl.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, zl); err != nil {
		zl.Fatal("Server error", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, zl *zap.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Stories and token balances always live in SQLite
	database, err := db.NewDB(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	var store progress.ProgressStore = database
	if cfg.StoreDriver == "redis" {
		client, err := db.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return err
		}
		defer client.Close()
		store = db.NewRedisProgressStore(client, cfg.ProgressTTL, zl)
	}

	images := imagegen.NewClient(imagegen.Config{
		CharacterEndpoint: cfg.ImageCharacterEndpoint,
		SceneEndpoint:     cfg.ImageSceneEndpoint,
		Timeout:           cfg.ImageTimeout,
		RatePerSecond:     cfg.ImageRatePerSecond,
	}, zl, m)

	var policy character.Policy = character.LRU{}
	if cfg.CharacterEviction == "recency" {
		policy = character.RecencyCap{}
	}
	characters := character.NewEngine(images,
		character.WithCache(character.NewBucketCache(cfg.CharacterCacheSize, policy)),
		character.WithStyleSuffix(cfg.ImageStyleSuffix),
		character.WithTimeout(cfg.ImageTimeout),
		character.WithLogger(zl),
		character.WithMetrics(m),
	)

	emotions := emotion.NewMapper(emotion.Config{
		CacheTTL:   cfg.EmotionCacheTTL,
		MaxEntries: cfg.EmotionCacheMaxEntries,
	}, zl, m)
	scenes := scene.NewMatcher(images, characters, scene.Config{CacheTTL: cfg.SceneCacheTTL, Timeout: cfg.ImageTimeout}, zl, m)

	rules := branch.NewManager(branch.WithLedger(database), branch.WithLogger(zl))
	queue := progress.NewJobQueue(cfg.ArtifactQueueSize, cfg.ArtifactJobMaxAge)
	metrics.RegisterQueueDepth(reg, queue.Count)
	controller := progress.NewController(database, store, rules,
		progress.WithQueue(queue),
		progress.WithLogger(zl),
		progress.WithMetrics(m),
	)
	pipeline := render.NewPipeline(database, controller.Queue(), emotions, scenes, zl)

	deps := api.Deps{
		Stories:     database,
		Progress:    controller,
		Rules:       rules,
		Emotions:    emotions,
		Characters:  characters,
		Scenes:      scenes,
		Pipeline:    pipeline,
		Tokens:      database,
		Auth:        mw.NewAuthenticator(cfg.JWTSecret, zl),
		Limiter:     mw.NewRateLimiter(cfg.RateLimitRPS, max(1, int(cfg.RateLimitRPS))),
		Gatherer:    reg,
		Paths:       branch.PathOptions{MaxDepth: cfg.PathMaxDepth, MaxPaths: cfg.PathMaxPaths},
		OperatorKey: cfg.OperatorKey,
		MaxBody:     cfg.MaxBodyBytes,
		Logger:      zl,
	}
	if cfg.OperatorKey == "" {
		zl.Warn("OPERATOR_API_KEY not set, operator routes disabled")
	}
	if cfg.LLMAPIKey != "" {
		continuer, err := narrative.NewContinuer(narrative.Config{
			APIKey:  cfg.LLMAPIKey,
			BaseURL: cfg.LLMBaseURL,
			Model:   cfg.LLMModel,
		}, zl, m)
		if err != nil {
			return err
		}
		deps.Continuer = continuer
	} else {
		zl.Warn("LLM_API_KEY not set, story continuation disabled")
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: api.NewServer(deps),
	}

	errCh := make(chan error, 1)
	go func() {
		zl.Info("Starting server", zap.String("addr", srv.Addr), zap.String("store", cfg.StoreDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	zl.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
