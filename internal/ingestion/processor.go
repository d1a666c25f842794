// Package ingestion drains the crawl queue: it claims items, runs detection
// and performance fetches, persists results and keeps ranks current.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wprank/backend/internal/detector"
	"github.com/wprank/backend/internal/metrics"
	"github.com/wprank/backend/internal/performance"
	"github.com/wprank/backend/internal/queue"
	"github.com/wprank/backend/internal/storage/models"
	"github.com/wprank/backend/pkg/config"
	"github.com/wprank/backend/pkg/logger"
)

// Outcome labels for processed items.
const (
	OutcomeAnalyzed         = "analyzed"
	OutcomeNotWordPress     = "not_wordpress"
	OutcomeRobotsDisallowed = "robots_disallowed"
	OutcomeRetry            = "retry"
	OutcomeFailed           = "failed"
	OutcomeLost             = "claim_lost"
)

type WorkQueue interface {
	Claim(ctx context.Context) (*models.QueueItem, error)
	Complete(ctx context.Context, item *models.QueueItem, result string) error
	Fail(ctx context.Context, item *models.QueueItem, reason string) (queue.Transition, error)
	RecoverStale(ctx context.Context) (int64, error)
	Stats(ctx context.Context) (*models.QueueStats, error)
}

type Analyzer interface {
	Analyze(ctx context.Context, domain string) detector.Result
}

type PerformanceFetcher interface {
	FetchBoth(ctx context.Context, domain string) performance.Combined
}

type SiteStore interface {
	SaveCrawl(ctx context.Context, site *models.Site, snap *models.SiteMetricsSnapshot) (int64, error)
	SaveSite(ctx context.Context, site *models.Site) (int64, error)
	SetSiteStatus(ctx context.Context, domain string, status models.SiteStatus, lastError string, now time.Time) error
	HasRankEntry(ctx context.Context, domain string) (bool, error)
}

type Ranker interface {
	UpdateSite(ctx context.Context, siteID int64) error
	Recompute(ctx context.Context) ([]models.RankEntry, error)
}

type Processor struct {
	queue       WorkQueue
	detector    Analyzer
	performance PerformanceFetcher
	sites       SiteStore
	ranker      Ranker

	cfg       config.QueueConfig
	skipNonWP bool
	now       func() time.Time
}

func NewProcessor(
	q WorkQueue,
	analyzer Analyzer,
	perf PerformanceFetcher,
	sites SiteStore,
	ranker Ranker,
	cfg config.QueueConfig,
	skipNonWordPress bool,
) *Processor {
	return &Processor{
		queue:       q,
		detector:    analyzer,
		performance: perf,
		sites:       sites,
		ranker:      ranker,
		cfg:         cfg,
		skipNonWP:   skipNonWordPress,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Run recovers stale claims, then processes batches until ctx is cancelled,
// sleeping PollInterval whenever a batch finds nothing to do. In-flight items
// finish after cancellation; no new items are claimed.
func (p *Processor) Run(ctx context.Context) error {
	ctx = logger.With(ctx, zap.String("component", "processor"))
	log := logger.FromContext(ctx)

	if _, err := p.queue.RecoverStale(ctx); err != nil {
		log.Error("Stale claim recovery failed", zap.Error(err))
	}

	log.Info("Queue processor started",
		zap.Int("batch_size", p.cfg.BatchSize),
		zap.Int("concurrency", p.cfg.Concurrency),
	)

	for {
		n, err := p.RunBatch(ctx)
		if err != nil && ctx.Err() == nil {
			log.Error("Batch failed", zap.Error(err))
		}

		if ctx.Err() != nil {
			log.Info("Queue processor stopped")
			return nil
		}

		if n == 0 || err != nil {
			timer := time.NewTimer(p.cfg.PollInterval)
			select {
			case <-ctx.Done():
				timer.Stop()
				log.Info("Queue processor stopped")
				return nil
			case <-timer.C:
			}
		}
	}
}

// RunBatch processes up to BatchSize items with Concurrency workers and
// returns how many were processed. Each worker claims one item at a time.
func (p *Processor) RunBatch(ctx context.Context) (int, error) {
	workers := p.cfg.Concurrency
	if workers < 1 {
		workers = 1
	}

	var (
		budget    = int64(p.cfg.BatchSize)
		claimed   int64
		processed int64
		g         errgroup.Group
	)

	for i := 0; i < workers; i++ {
		wctx := logger.With(ctx, zap.Int("worker", i))
		g.Go(func() error {
			for ctx.Err() == nil {
				if atomic.AddInt64(&claimed, 1) > budget {
					return nil
				}

				item, err := p.queue.Claim(ctx)
				if errors.Is(err, queue.ErrQueueEmpty) {
					return nil
				}
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return fmt.Errorf("failed to claim queue item: %w", err)
				}

				p.ProcessItem(wctx, item)
				atomic.AddInt64(&processed, 1)
			}
			return nil
		})
	}

	err := g.Wait()
	p.recordDepth(ctx)
	return int(processed), err
}

// ProcessItem runs the per-item protocol under its own timeout. The item
// context is detached from ctx so shutdown does not abandon a claimed item
// halfway through.
func (p *Processor) ProcessItem(ctx context.Context, item *models.QueueItem) string {
	itemCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.ItemTimeout)
	defer cancel()
	itemCtx = logger.With(itemCtx, zap.String("item_id", item.ID), zap.String("domain", item.Domain))

	start := time.Now()
	outcome := p.process(itemCtx, item)

	metrics.ItemsProcessed.WithLabelValues(outcome).Inc()
	metrics.CrawlDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())

	logger.FromContext(itemCtx).Info("Queue item processed",
		zap.String("outcome", outcome),
		zap.Int("attempt_count", item.AttemptCount),
		zap.Duration("duration", time.Since(start)),
	)
	return outcome
}

func (p *Processor) process(ctx context.Context, item *models.QueueItem) (outcome string) {
	defer func() {
		if r := recover(); r != nil {
			outcome = p.fail(ctx, item, fmt.Sprintf("%s: panic: %v", detector.ErrCodeAnalysisFailed, r))
		}
	}()

	res := p.detector.Analyze(ctx, item.Domain)

	switch res.Status {
	case detector.StatusSkipped:
		if err := p.sites.SetSiteStatus(ctx, item.Domain, models.SiteStatusBlocked, res.Error, p.now()); err != nil {
			return p.fail(ctx, item, persistenceError(err))
		}
		if err := p.dropRank(ctx, item.Domain); err != nil {
			return p.fail(ctx, item, rankError(err))
		}
		return p.complete(ctx, item, models.ResultRobotsDisallowed, OutcomeRobotsDisallowed)
	case detector.StatusFailed:
		return p.fail(ctx, item, res.Error)
	}

	now := p.now()
	site := &models.Site{
		Domain:      item.Domain,
		IsWordPress: res.IsWordPress,
		WPVersion:   res.WPVersion,
		ThemeName:   res.ThemeName,
		PluginCount: res.PluginCount,
		Status:      models.SiteStatusActive,
		LastCrawlAt: &now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if !res.IsWordPress && p.skipNonWP {
		if _, err := p.sites.SaveSite(ctx, site); err != nil {
			return p.fail(ctx, item, persistenceError(err))
		}
		if err := p.dropRank(ctx, item.Domain); err != nil {
			return p.fail(ctx, item, rankError(err))
		}
		return p.complete(ctx, item, models.ResultNotWordPress, OutcomeNotWordPress)
	}

	perf := p.performance.FetchBoth(ctx, item.Domain)
	snap := &models.SiteMetricsSnapshot{
		CrawlID:          uuid.NewString(),
		PerformanceScore: perf.Score,
		Vitals:           perf.Vitals(),
		PluginCount:      res.PluginCount,
		PluginEvidence:   res.PluginEvidence,
		ThemeName:        res.ThemeName,
		CreatedAt:        now,
	}
	if perf.Desktop != nil {
		snap.DesktopScore = &perf.Desktop.Score
	}
	if perf.Mobile != nil {
		snap.MobileScore = &perf.Mobile.Score
	}

	siteID, err := p.sites.SaveCrawl(ctx, site, snap)
	if err != nil {
		return p.fail(ctx, item, persistenceError(err))
	}

	if site.IsWordPress {
		err = p.ranker.UpdateSite(ctx, siteID)
	} else {
		err = p.dropRank(ctx, item.Domain)
	}
	if err != nil {
		return p.fail(ctx, item, rankError(err))
	}

	result := models.ResultAnalyzed
	if !site.IsWordPress {
		result = models.ResultNotWordPress
	}
	return p.complete(ctx, item, result, OutcomeAnalyzed)
}

func (p *Processor) complete(ctx context.Context, item *models.QueueItem, result, outcome string) string {
	err := p.queue.Complete(ctx, item, result)
	if err == nil {
		return outcome
	}
	if errors.Is(err, queue.ErrClaimLost) {
		logger.FromContext(ctx).Warn("Queue item claim lost before completion")
		return OutcomeLost
	}
	return p.fail(ctx, item, persistenceError(err))
}

// fail moves the item through the retry state machine and marks the site as
// errored on a best-effort basis.
func (p *Processor) fail(ctx context.Context, item *models.QueueItem, reason string) string {
	log := logger.FromContext(ctx)

	t, err := p.queue.Fail(ctx, item, reason)
	if err != nil {
		if errors.Is(err, queue.ErrClaimLost) {
			log.Warn("Queue item claim lost before failure was recorded")
			return OutcomeLost
		}
		log.Error("Failed to record queue item failure", zap.String("reason", reason), zap.Error(err))
		return OutcomeRetry
	}

	if err := p.sites.SetSiteStatus(ctx, item.Domain, models.SiteStatusError, reason, p.now()); err != nil {
		log.Debug("Could not mark site as errored", zap.Error(err))
	} else if err := p.dropRank(ctx, item.Domain); err != nil {
		log.Warn("Could not drop rank of errored site", zap.Error(err))
	}

	if t.Status == models.QueueStatusFailed {
		return OutcomeFailed
	}
	return OutcomeRetry
}

func (p *Processor) recordDepth(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	stats, err := p.queue.Stats(ctx)
	if err != nil {
		return
	}
	metrics.QueueDepth.WithLabelValues(string(models.QueueStatusPending)).Set(float64(stats.Pending))
	metrics.QueueDepth.WithLabelValues(string(models.QueueStatusProcessing)).Set(float64(stats.Processing))
	metrics.QueueDepth.WithLabelValues(string(models.QueueStatusCompleted)).Set(float64(stats.Completed))
	metrics.QueueDepth.WithLabelValues(string(models.QueueStatusFailed)).Set(float64(stats.Failed))
}

// dropRank runs a full pass when domain still holds a rank row after leaving
// ranking eligibility, so the leaderboard stops listing it.
func (p *Processor) dropRank(ctx context.Context, domain string) error {
	held, err := p.sites.HasRankEntry(ctx, domain)
	if err != nil || !held {
		return err
	}
	_, err = p.ranker.Recompute(ctx)
	return err
}

func rankError(err error) string {
	return fmt.Sprintf("rank_update_failed: %v", err)
}

func persistenceError(err error) string {
	return fmt.Sprintf("persistence_failed: %v", err)
}
