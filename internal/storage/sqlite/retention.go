package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/wprank/backend/pkg/logger"
)

// CleanupResult counts rows removed by Cleanup.
type CleanupResult struct {
	QueueItems int64
	Snapshots  int64
}

// Cleanup deletes terminal queue items finished before cutoff and snapshots
// created before cutoff. The newest snapshot of every site is always kept,
// and pending or processing items are never touched.
func (c *Client) Cleanup(ctx context.Context, cutoff time.Time) (CleanupResult, error) {
	var result CleanupResult
	cut := toMillis(cutoff)

	err := c.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			DELETE FROM queue_items
			WHERE status IN ('completed', 'failed') AND COALESCE(completed_at, updated_at) < ?`, cut)
		if err != nil {
			return fmt.Errorf("failed to delete queue items: %w", err)
		}
		result.QueueItems, _ = res.RowsAffected()

		res, err = tx.ExecContext(ctx, `
			DELETE FROM site_metrics_snapshots
			WHERE created_at < ?
			AND rowid NOT IN (
				SELECT (
					SELECT s2.rowid FROM site_metrics_snapshots s2
					WHERE s2.site_id = s1.site_id
					ORDER BY s2.created_at DESC, s2.rowid DESC
					LIMIT 1
				)
				FROM site_metrics_snapshots s1
				GROUP BY s1.site_id
			)`, cut)
		if err != nil {
			return fmt.Errorf("failed to delete snapshots: %w", err)
		}
		result.Snapshots, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return CleanupResult{}, err
	}

	logger.Info("Retention cleanup finished",
		zap.Time("cutoff", cutoff),
		zap.Int64("queue_items", result.QueueItems),
		zap.Int64("snapshots", result.Snapshots),
	)
	return result, nil
}
