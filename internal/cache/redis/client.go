package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/wprank/backend/internal/metrics"
	"github.com/wprank/backend/pkg/config"
	"github.com/wprank/backend/pkg/logger"
)

const (
	generationKey = "leaderboard:generation"
	cacheType     = "leaderboard"
)

type Client struct {
	client redis.UniversalClient
}

func NewClient(cfg config.RedisConfig) (*Client, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", addr))

	return &Client{client: client}, nil
}

// NewFromClient wraps an existing connection.
func NewFromClient(client redis.UniversalClient) *Client {
	return &Client{client: client}
}

// Redis exposes the underlying connection for the domain rate limiter.
func (c *Client) Redis() redis.UniversalClient {
	return c.client
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) generation(ctx context.Context) (int64, error) {
	gen, err := c.client.Get(ctx, generationKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read leaderboard generation: %w", err)
	}
	return gen, nil
}

func pageKey(gen int64, limit, offset int) string {
	return fmt.Sprintf("leaderboard:%d:%d:%d", gen, limit, offset)
}

// GetLeaderboard decodes a cached page into page. It reports false on a
// miss.
func (c *Client) GetLeaderboard(ctx context.Context, limit, offset int, page any) (bool, error) {
	gen, err := c.generation(ctx)
	if err != nil {
		return false, err
	}

	data, err := c.client.Get(ctx, pageKey(gen, limit, offset)).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.CacheMisses.WithLabelValues(cacheType).Inc()
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get leaderboard cache: %w", err)
	}

	if err := json.Unmarshal(data, page); err != nil {
		return false, fmt.Errorf("failed to unmarshal leaderboard page: %w", err)
	}

	metrics.CacheHits.WithLabelValues(cacheType).Inc()
	logger.Debug("Leaderboard cache hit", zap.Int("limit", limit), zap.Int("offset", offset))
	return true, nil
}

func (c *Client) SetLeaderboard(ctx context.Context, limit, offset int, page any, ttl time.Duration) error {
	gen, err := c.generation(ctx)
	if err != nil {
		return err
	}

	data, err := json.Marshal(page)
	if err != nil {
		return fmt.Errorf("failed to marshal leaderboard page: %w", err)
	}

	if err := c.client.Set(ctx, pageKey(gen, limit, offset), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set leaderboard cache: %w", err)
	}
	return nil
}

// RanksChanged bumps the generation so every cached page is bypassed. Old
// pages expire on their own TTL.
func (c *Client) RanksChanged(ctx context.Context) error {
	gen, err := c.client.Incr(ctx, generationKey).Result()
	if err != nil {
		return fmt.Errorf("failed to bump leaderboard generation: %w", err)
	}
	logger.Debug("Leaderboard cache invalidated", zap.Int64("generation", gen))
	return nil
}
