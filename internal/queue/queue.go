// Package queue implements the crawl queue state machine on top of a
// durable store: submission, claiming, completion and retry with backoff.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wprank/backend/internal/domainname"
	"github.com/wprank/backend/internal/storage/models"
	"github.com/wprank/backend/pkg/config"
	"github.com/wprank/backend/pkg/logger"
)

var (
	ErrInvalidDomain   = errors.New("invalid domain")
	ErrQueueEmpty      = models.ErrQueueEmpty
	ErrAlreadyQueued   = models.ErrActiveItemExists
	ErrRecentlyCrawled = models.ErrRecentlyCrawled
	ErrNotFound        = models.ErrNotFound
	ErrClaimLost       = models.ErrClaimLost
)

// Store is the persistence the queue needs. The sqlite client implements it.
type Store interface {
	Enqueue(ctx context.Context, item *models.QueueItem, recrawlSince time.Time) error
	ClaimNext(ctx context.Context, now time.Time) (*models.QueueItem, error)
	MarkCompleted(ctx context.Context, id, result string, now time.Time) error
	MarkRetry(ctx context.Context, id string, attempts int, nextAttemptAt time.Time, lastError string, now time.Time) error
	MarkFailed(ctx context.Context, id string, attempts int, lastError string, now time.Time) error
	RecoverStale(ctx context.Context, claimedBefore, now time.Time) (int64, error)
	GetQueueItem(ctx context.Context, id string) (*models.QueueItem, error)
	QueueStats(ctx context.Context) (*models.QueueStats, error)
}

type Queue struct {
	store Store
	cfg   config.QueueConfig
	now   func() time.Time
}

func New(store Store, cfg config.QueueConfig) *Queue {
	return &Queue{
		store: store,
		cfg:   cfg,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source. Tests use it to step through backoff.
func (q *Queue) WithClock(now func() time.Time) *Queue {
	q.now = now
	return q
}

// Submit normalizes raw and enqueues it unless the site was crawled within
// the recrawl window or the domain already has a pending or processing item.
func (q *Queue) Submit(ctx context.Context, raw string, priority int, source string) (*models.QueueItem, error) {
	domain, err := domainname.Normalize(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDomain, err)
	}

	now := q.now()
	item := &models.QueueItem{
		ID:        uuid.NewString(),
		Domain:    domain,
		Priority:  priority,
		Status:    models.QueueStatusPending,
		Source:    source,
		CreatedAt: now,
		UpdatedAt: now,
	}

	var recrawlSince time.Time
	if q.cfg.RecrawlAfter > 0 {
		recrawlSince = now.Add(-q.cfg.RecrawlAfter)
	}

	if err := q.store.Enqueue(ctx, item, recrawlSince); err != nil {
		return nil, err
	}

	logger.Info("Domain queued",
		zap.String("id", item.ID),
		zap.String("domain", domain),
		zap.Int("priority", priority),
		zap.String("source", source),
	)
	return item, nil
}

// Claim moves the next eligible item to processing. It returns ErrQueueEmpty
// when nothing is ready.
func (q *Queue) Claim(ctx context.Context) (*models.QueueItem, error) {
	return q.store.ClaimNext(ctx, q.now())
}

func (q *Queue) Complete(ctx context.Context, item *models.QueueItem, result string) error {
	if err := q.store.MarkCompleted(ctx, item.ID, result, q.now()); err != nil {
		return err
	}
	item.Status = models.QueueStatusCompleted
	item.Result = result
	return nil
}

// Fail records a failed attempt. The item goes back to pending with a
// backoff delay, or to failed once the retry budget is spent.
func (q *Queue) Fail(ctx context.Context, item *models.QueueItem, reason string) (Transition, error) {
	now := q.now()
	t := NextAfterFailure(item.AttemptCount, q.cfg.MaxRetries, q.cfg.BackoffCap(), now)

	var err error
	if t.Status == models.QueueStatusFailed {
		err = q.store.MarkFailed(ctx, item.ID, t.AttemptCount, reason, now)
	} else {
		err = q.store.MarkRetry(ctx, item.ID, t.AttemptCount, *t.NextAttemptAt, reason, now)
	}
	if err != nil {
		return Transition{}, err
	}

	item.Status = t.Status
	item.AttemptCount = t.AttemptCount
	item.NextAttemptAt = t.NextAttemptAt
	item.LastError = reason

	fields := []zap.Field{
		zap.String("id", item.ID),
		zap.String("domain", item.Domain),
		zap.Int("attempt_count", t.AttemptCount),
		zap.String("reason", reason),
	}
	if t.NextAttemptAt != nil {
		logger.Warn("Crawl attempt failed, rescheduled", append(fields, zap.Time("next_attempt_at", *t.NextAttemptAt))...)
	} else {
		logger.Error("Crawl attempts exhausted", fields...)
	}

	return t, nil
}

// RecoverStale returns items stuck in processing longer than StaleAfter to
// pending.
func (q *Queue) RecoverStale(ctx context.Context) (int64, error) {
	now := q.now()
	n, err := q.store.RecoverStale(ctx, now.Add(-q.cfg.StaleAfter), now)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logger.Warn("Recovered stale queue items", zap.Int64("count", n))
	}
	return n, nil
}

func (q *Queue) Get(ctx context.Context, id string) (*models.QueueItem, error) {
	return q.store.GetQueueItem(ctx, id)
}

func (q *Queue) Stats(ctx context.Context) (*models.QueueStats, error) {
	return q.store.QueueStats(ctx)
}
