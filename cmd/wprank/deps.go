package main

import (
	"fmt"

	"go.uber.org/zap"

	rediscache "github.com/wprank/backend/internal/cache/redis"
	"github.com/wprank/backend/internal/detector"
	"github.com/wprank/backend/internal/ingestion"
	"github.com/wprank/backend/internal/performance"
	"github.com/wprank/backend/internal/queue"
	"github.com/wprank/backend/internal/ranking"
	"github.com/wprank/backend/internal/ratelimit"
	"github.com/wprank/backend/internal/storage/sqlite"
	"github.com/wprank/backend/pkg/logger"
)

// deps holds the long-lived clients shared by the subcommands.
type deps struct {
	store *sqlite.Client
	// cache is nil when Redis is disabled.
	cache *rediscache.Client
	queue *queue.Queue
}

func openDeps() (*deps, error) {
	store, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		return nil, err
	}

	if err := store.InitSchema(); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	d := &deps{store: store, queue: queue.New(store, cfg.Queue)}

	if cfg.Redis.Enabled {
		cache, err := rediscache.NewClient(cfg.Redis)
		if err != nil {
			store.Close()
			return nil, err
		}
		d.cache = cache
	}

	return d, nil
}

func (d *deps) Close() {
	if d.cache != nil {
		if err := d.cache.Close(); err != nil {
			logger.Warn("Failed to close redis client", zap.Error(err))
		}
	}
	if err := d.store.Close(); err != nil {
		logger.Warn("Failed to close database", zap.Error(err))
	}
}

// rankingEngine wires the cache as a listener so cached leaderboard pages
// are invalidated by every recomputation.
func (d *deps) rankingEngine() *ranking.Engine {
	if d.cache != nil {
		return ranking.NewEngine(d.store, cfg.Ranking, d.cache)
	}
	return ranking.NewEngine(d.store, cfg.Ranking)
}

// domainLimiter is shared by every worker process when Redis is enabled,
// and local to this process otherwise.
func (d *deps) domainLimiter() ratelimit.DomainLimiter {
	interval := cfg.Crawler.MinDomainInterval()
	if d.cache != nil {
		logger.Info("Using redis domain rate limiter", zap.Duration("interval", interval))
		return ratelimit.WithMetrics(ratelimit.NewRedis(d.cache.Redis(), interval))
	}
	return ratelimit.WithMetrics(ratelimit.NewLocal(interval))
}

func (d *deps) processor(engine *ranking.Engine) *ingestion.Processor {
	det := detector.New(cfg.Crawler, d.domainLimiter(), detector.NewHTTPClient(cfg.Crawler))
	perf := performance.NewClient(cfg.Performance)

	if cfg.Performance.APIKey == "" {
		logger.Warn("No performance API key configured; snapshots will have no performance score")
	}

	return ingestion.NewProcessor(d.queue, det, perf, d.store, engine, cfg.Queue, cfg.Crawler.SkipNonWordPress)
}
