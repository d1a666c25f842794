package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/wprank/backend/pkg/logger"
)

const (
	keyPrefix = "ratelimit:domain:"
	minPoll   = 10 * time.Millisecond
)

// Redis reserves a per-domain slot with SET NX PX. The key expiring is what
// frees the domain for the next request, from any process.
type Redis struct {
	client   redis.UniversalClient
	interval time.Duration
}

func NewRedis(client redis.UniversalClient, interval time.Duration) *Redis {
	return &Redis{client: client, interval: interval}
}

func (r *Redis) Wait(ctx context.Context, domain string) error {
	key := keyPrefix + domain

	for {
		ok, err := r.client.SetNX(ctx, key, 1, r.interval).Result()
		if err != nil {
			return fmt.Errorf("failed to reserve domain slot: %w", err)
		}
		if ok {
			return nil
		}

		wait, err := r.client.PTTL(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("failed to read domain slot ttl: %w", err)
		}
		if wait < minPoll || wait > r.interval {
			wait = minPoll
		}

		logger.Debug("Waiting for domain slot", zap.String("domain", domain), zap.Duration("wait", wait))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
