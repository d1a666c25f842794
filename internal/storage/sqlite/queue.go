package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/wprank/backend/internal/storage/models"
	"github.com/wprank/backend/pkg/logger"
)

const (
	queueColumns = `id, domain, priority, status, attempt_count, next_attempt_at, last_error,
		source, result, claimed_at, completed_at, created_at, updated_at`

	// claimCandidates is how many eligible rows a claim looks at before
	// re-reading; other workers may win some of them.
	claimCandidates = 5
	maxClaimRounds  = 3
)

type queueRow struct {
	ID            string        `db:"id"`
	Domain        string        `db:"domain"`
	Priority      int           `db:"priority"`
	Status        string        `db:"status"`
	AttemptCount  int           `db:"attempt_count"`
	NextAttemptAt sql.NullInt64 `db:"next_attempt_at"`
	LastError     string        `db:"last_error"`
	Source        string        `db:"source"`
	Result        string        `db:"result"`
	ClaimedAt     sql.NullInt64 `db:"claimed_at"`
	CompletedAt   sql.NullInt64 `db:"completed_at"`
	CreatedAt     int64         `db:"created_at"`
	UpdatedAt     int64         `db:"updated_at"`
}

func (r queueRow) toModel() *models.QueueItem {
	return &models.QueueItem{
		ID:            r.ID,
		Domain:        r.Domain,
		Priority:      r.Priority,
		Status:        models.QueueStatus(r.Status),
		AttemptCount:  r.AttemptCount,
		NextAttemptAt: timePtr(r.NextAttemptAt),
		LastError:     r.LastError,
		Source:        r.Source,
		Result:        r.Result,
		ClaimedAt:     timePtr(r.ClaimedAt),
		CompletedAt:   timePtr(r.CompletedAt),
		CreatedAt:     fromMillis(r.CreatedAt),
		UpdatedAt:     fromMillis(r.UpdatedAt),
	}
}

// Enqueue inserts a pending item after checking, in the same transaction,
// that the site was not crawled at or after recrawlSince and that the domain
// has no active item. A zero recrawlSince skips the site check.
func (c *Client) Enqueue(ctx context.Context, item *models.QueueItem, recrawlSince time.Time) error {
	return c.withTx(ctx, func(tx *sqlx.Tx) error {
		if !recrawlSince.IsZero() {
			var lastCrawl sql.NullInt64
			err := tx.GetContext(ctx, &lastCrawl, `SELECT last_crawl_at FROM sites WHERE domain = ?`, item.Domain)
			switch {
			case errors.Is(err, sql.ErrNoRows):
			case err != nil:
				return fmt.Errorf("failed to check site: %w", err)
			case lastCrawl.Valid && lastCrawl.Int64 >= toMillis(recrawlSince):
				return models.ErrRecentlyCrawled
			}
		}

		var active int
		err := tx.GetContext(ctx, &active,
			`SELECT COUNT(*) FROM queue_items WHERE domain = ? AND status IN ('pending', 'processing')`,
			item.Domain,
		)
		if err != nil {
			return fmt.Errorf("failed to check queue: %w", err)
		}
		if active > 0 {
			return models.ErrActiveItemExists
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO queue_items (id, domain, priority, status, attempt_count, next_attempt_at,
				last_error, source, result, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, '', ?, '', ?, ?)`,
			item.ID,
			item.Domain,
			item.Priority,
			string(models.QueueStatusPending),
			item.AttemptCount,
			nullMillis(item.NextAttemptAt),
			item.Source,
			toMillis(item.CreatedAt),
			toMillis(item.UpdatedAt),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return models.ErrActiveItemExists
			}
			return fmt.Errorf("failed to insert queue item: %w", err)
		}

		return nil
	})
}

// ClaimNext moves the highest-priority eligible pending item to processing.
// The claim is a conditional update on status, so two workers (or two
// processes) can never both win the same row.
func (c *Client) ClaimNext(ctx context.Context, now time.Time) (*models.QueueItem, error) {
	nowMs := toMillis(now)

	for round := 0; round < maxClaimRounds; round++ {
		var ids []string
		err := c.db.SelectContext(ctx, &ids, `
			SELECT id FROM queue_items
			WHERE status = 'pending' AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
			ORDER BY priority DESC, created_at ASC, rowid ASC
			LIMIT ?`,
			nowMs, claimCandidates,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to select claim candidates: %w", err)
		}
		if len(ids) == 0 {
			return nil, models.ErrQueueEmpty
		}

		for _, id := range ids {
			res, err := c.exec(ctx, `
				UPDATE queue_items SET status = 'processing', claimed_at = ?, updated_at = ?
				WHERE id = ? AND status = 'pending'`,
				nowMs, nowMs, id,
			)
			if err != nil {
				return nil, fmt.Errorf("failed to claim queue item: %w", err)
			}
			if n, _ := res.RowsAffected(); n != 1 {
				continue
			}

			item, err := c.GetQueueItem(ctx, id)
			if err != nil {
				return nil, err
			}
			logger.Debug("Queue item claimed", zap.String("id", id), zap.String("domain", item.Domain))
			return item, nil
		}
	}

	return nil, models.ErrQueueEmpty
}

func (c *Client) GetQueueItem(ctx context.Context, id string) (*models.QueueItem, error) {
	var row queueRow
	err := c.db.GetContext(ctx, &row, `SELECT `+queueColumns+` FROM queue_items WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get queue item: %w", err)
	}
	return row.toModel(), nil
}

// ActiveItemForDomain returns the pending or processing item for a domain.
func (c *Client) ActiveItemForDomain(ctx context.Context, domain string) (*models.QueueItem, error) {
	var row queueRow
	err := c.db.GetContext(ctx, &row, `
		SELECT `+queueColumns+` FROM queue_items
		WHERE domain = ? AND status IN ('pending', 'processing')`, domain)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active queue item: %w", err)
	}
	return row.toModel(), nil
}

func (c *Client) MarkCompleted(ctx context.Context, id, result string, now time.Time) error {
	res, err := c.exec(ctx, `
		UPDATE queue_items
		SET status = 'completed', result = ?, next_attempt_at = NULL, completed_at = ?, updated_at = ?
		WHERE id = ? AND status = 'processing'`,
		result, toMillis(now), toMillis(now), id,
	)
	return requireClaimed(res, err, "complete")
}

// MarkRetry returns a processing item to pending with the given attempt
// count and next eligible time.
func (c *Client) MarkRetry(ctx context.Context, id string, attempts int, nextAttemptAt time.Time, lastError string, now time.Time) error {
	res, err := c.exec(ctx, `
		UPDATE queue_items
		SET status = 'pending', attempt_count = ?, next_attempt_at = ?, last_error = ?,
			claimed_at = NULL, updated_at = ?
		WHERE id = ? AND status = 'processing'`,
		attempts, toMillis(nextAttemptAt), truncate(lastError, maxErrorLength), toMillis(now), id,
	)
	return requireClaimed(res, err, "reschedule")
}

// MarkFailed moves a processing item to the terminal failed state.
func (c *Client) MarkFailed(ctx context.Context, id string, attempts int, lastError string, now time.Time) error {
	res, err := c.exec(ctx, `
		UPDATE queue_items
		SET status = 'failed', attempt_count = ?, next_attempt_at = NULL, last_error = ?,
			completed_at = ?, updated_at = ?
		WHERE id = ? AND status = 'processing'`,
		attempts, truncate(lastError, maxErrorLength), toMillis(now), toMillis(now), id,
	)
	return requireClaimed(res, err, "fail")
}

// RecoverStale resets items whose claim is older than claimedBefore back to
// pending. They become eligible immediately.
func (c *Client) RecoverStale(ctx context.Context, claimedBefore, now time.Time) (int64, error) {
	res, err := c.exec(ctx, `
		UPDATE queue_items
		SET status = 'pending', claimed_at = NULL, next_attempt_at = NULL,
			last_error = 'reclaimed after stale processing claim', updated_at = ?
		WHERE status = 'processing' AND claimed_at < ?`,
		toMillis(now), toMillis(claimedBefore),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to recover stale queue items: %w", err)
	}
	return res.RowsAffected()
}

func (c *Client) QueueStats(ctx context.Context) (*models.QueueStats, error) {
	rows, err := c.db.QueryxContext(ctx, `SELECT status, COUNT(*) FROM queue_items GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to query queue stats: %w", err)
	}
	defer rows.Close()

	stats := &models.QueueStats{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan queue stats: %w", err)
		}
		switch models.QueueStatus(status) {
		case models.QueueStatusPending:
			stats.Pending = count
		case models.QueueStatusProcessing:
			stats.Processing = count
		case models.QueueStatusCompleted:
			stats.Completed = count
		case models.QueueStatusFailed:
			stats.Failed = count
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate queue stats: %w", err)
	}
	return stats, nil
}

func requireClaimed(res sql.Result, err error, action string) error {
	if err != nil {
		return fmt.Errorf("failed to %s queue item: %w", action, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to %s queue item: %w", action, err)
	}
	if n != 1 {
		return models.ErrClaimLost
	}
	return nil
}
