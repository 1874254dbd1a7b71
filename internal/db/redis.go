package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/qninhdt/lumen-tales/server/internal/logger"
	"github.com/qninhdt/lumen-tales/server/internal/story"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisProgressStore keeps progress records in Redis under
// user:<userID>:<key>
type RedisProgressStore struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisClient connects and pings Redis
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("unable to ping redis at %s: %w", addr, err)
	}
	return client, nil
}

// NewRedisProgressStore creates a store; ttl 0 keeps records forever
func NewRedisProgressStore(client *redis.Client, ttl time.Duration, log *zap.Logger) *RedisProgressStore {
	return &RedisProgressStore{
		client: client,
		ttl:    ttl,
		logger: logger.OrNop(log).Named("redis_progress"),
	}
}

func progressRedisKey(userID, key string) string {
	return fmt.Sprintf("user:%s:%s", userID, key)
}

// GetProgress reads a record; nil when absent
func (r *RedisProgressStore) GetProgress(ctx context.Context, userID, key string) (*story.Progress, error) {
	raw, err := r.client.Get(ctx, progressRedisKey(userID, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read progress from redis: %w", err)
	}

	var p story.Progress
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("failed to decode progress %s: %w", key, err)
	}
	return &p, nil
}

// SaveProgress writes a record
func (r *RedisProgressStore) SaveProgress(ctx context.Context, userID, key string, p *story.Progress) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode progress: %w", err)
	}
	if err := r.client.Set(ctx, progressRedisKey(userID, key), raw, r.ttl).Err(); err != nil {
		r.logger.Error("Failed to save progress", zap.String("user", userID), zap.String("key", key), zap.Error(err))
		return fmt.Errorf("failed to save progress to redis: %w", err)
	}
	return nil
}

// DeleteProgress removes a record
func (r *RedisProgressStore) DeleteProgress(ctx context.Context, userID, key string) error {
	if err := r.client.Del(ctx, progressRedisKey(userID, key)).Err(); err != nil {
		return fmt.Errorf("failed to delete progress from redis: %w", err)
	}
	return nil
}
