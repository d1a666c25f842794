package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/wprank/backend/internal/storage/models"
)

// latestSnapshotJoin selects the newest snapshot per site. rowid breaks ties
// between snapshots written in the same millisecond.
const latestSnapshotJoin = `
	LEFT JOIN site_metrics_snapshots snap ON snap.rowid = (
		SELECT s2.rowid FROM site_metrics_snapshots s2
		WHERE s2.site_id = s.id
		ORDER BY s2.created_at DESC, s2.rowid DESC
		LIMIT 1
	)`

type rankingInputRow struct {
	SiteID           int64           `db:"site_id"`
	Domain           string          `db:"domain"`
	PerformanceScore sql.NullFloat64 `db:"performance_score"`
	PluginCount      sql.NullInt64   `db:"plugin_count"`
}

func (r rankingInputRow) toModel() models.RankingInput {
	return models.RankingInput{
		SiteID:           r.SiteID,
		Domain:           r.Domain,
		PerformanceScore: floatPtr(r.PerformanceScore),
		PluginCount:      int(r.PluginCount.Int64),
	}
}

// RankingInputs returns every active WordPress site that has at least one
// snapshot, paired with its most recent one.
func (c *Client) RankingInputs(ctx context.Context) ([]models.RankingInput, error) {
	var rows []rankingInputRow
	err := c.db.SelectContext(ctx, &rows, `
		SELECT s.id AS site_id, s.domain, snap.performance_score, snap.plugin_count
		FROM sites s`+latestSnapshotJoin+`
		WHERE s.status = 'active' AND s.is_wordpress = 1 AND snap.site_id IS NOT NULL
		ORDER BY s.domain`)
	if err != nil {
		return nil, fmt.Errorf("failed to load ranking inputs: %w", err)
	}

	inputs := make([]models.RankingInput, 0, len(rows))
	for _, r := range rows {
		inputs = append(inputs, r.toModel())
	}
	return inputs, nil
}

// RankingInput returns the latest measurement for one site regardless of its
// eligibility.
func (c *Client) RankingInput(ctx context.Context, siteID int64) (*models.RankingInput, error) {
	var row rankingInputRow
	err := c.db.GetContext(ctx, &row, `
		SELECT s.id AS site_id, s.domain, snap.performance_score, snap.plugin_count
		FROM sites s`+latestSnapshotJoin+`
		WHERE s.id = ? AND snap.site_id IS NOT NULL`, siteID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load ranking input: %w", err)
	}
	in := row.toModel()
	return &in, nil
}

// SaveScore writes one site's efficiency score, keeping its current rank
// until the next full recomputation.
func (c *Client) SaveScore(ctx context.Context, siteID int64, score float64, now time.Time) error {
	_, err := c.exec(ctx, `
		INSERT INTO rank_entries (site_id, efficiency_score, global_rank, updated_at)
		VALUES (?, ?, 0, ?)
		ON CONFLICT(site_id) DO UPDATE SET
			efficiency_score = excluded.efficiency_score,
			updated_at = excluded.updated_at`,
		siteID, score, toMillis(now),
	)
	if err != nil {
		return fmt.Errorf("failed to save efficiency score: %w", err)
	}
	return nil
}

// ReplaceRanks swaps the whole rank table for entries in one transaction, so
// readers see either the previous assignment or the new one.
func (c *Client) ReplaceRanks(ctx context.Context, entries []models.RankEntry) error {
	return c.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM rank_entries`); err != nil {
			return fmt.Errorf("failed to clear rank entries: %w", err)
		}

		stmt, err := tx.PreparexContext(ctx, `
			INSERT INTO rank_entries (site_id, efficiency_score, global_rank, updated_at)
			VALUES (?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare rank insert: %w", err)
		}
		defer stmt.Close()

		for _, e := range entries {
			if _, err := stmt.ExecContext(ctx, e.SiteID, e.EfficiencyScore, e.GlobalRank, toMillis(e.UpdatedAt)); err != nil {
				return fmt.Errorf("failed to insert rank entry for site %d: %w", e.SiteID, err)
			}
		}
		return nil
	})
}

type rankRow struct {
	SiteID          int64   `db:"site_id"`
	Domain          string  `db:"domain"`
	EfficiencyScore float64 `db:"efficiency_score"`
	GlobalRank      int     `db:"global_rank"`
	UpdatedAt       int64   `db:"updated_at"`
}

func (c *Client) GetRankEntry(ctx context.Context, siteID int64) (*models.RankEntry, error) {
	var row rankRow
	err := c.db.GetContext(ctx, &row, `
		SELECT r.site_id, s.domain, r.efficiency_score, r.global_rank, r.updated_at
		FROM rank_entries r JOIN sites s ON s.id = r.site_id
		WHERE r.site_id = ?`, siteID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rank entry: %w", err)
	}
	return &models.RankEntry{
		SiteID:          row.SiteID,
		Domain:          row.Domain,
		EfficiencyScore: row.EfficiencyScore,
		GlobalRank:      row.GlobalRank,
		UpdatedAt:       fromMillis(row.UpdatedAt),
	}, nil
}

// HasRankEntry reports whether the domain's site currently holds a rank row.
func (c *Client) HasRankEntry(ctx context.Context, domain string) (bool, error) {
	var n int
	err := c.db.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM rank_entries r JOIN sites s ON s.id = r.site_id
		WHERE s.domain = ?`, domain)
	if err != nil {
		return false, fmt.Errorf("failed to look up rank entry: %w", err)
	}
	return n > 0, nil
}

// RankEntries returns all entries ordered by rank with unranked sites last.
func (c *Client) RankEntries(ctx context.Context) ([]models.RankEntry, error) {
	var rows []rankRow
	err := c.db.SelectContext(ctx, &rows, `
		SELECT r.site_id, s.domain, r.efficiency_score, r.global_rank, r.updated_at
		FROM rank_entries r JOIN sites s ON s.id = r.site_id
		ORDER BY r.global_rank = 0, r.global_rank, s.domain`)
	if err != nil {
		return nil, fmt.Errorf("failed to list rank entries: %w", err)
	}

	entries := make([]models.RankEntry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, models.RankEntry{
			SiteID:          r.SiteID,
			Domain:          r.Domain,
			EfficiencyScore: r.EfficiencyScore,
			GlobalRank:      r.GlobalRank,
			UpdatedAt:       fromMillis(r.UpdatedAt),
		})
	}
	return entries, nil
}

type leaderboardRow struct {
	Rank             int             `db:"global_rank"`
	Domain           string          `db:"domain"`
	EfficiencyScore  float64         `db:"efficiency_score"`
	PerformanceScore sql.NullFloat64 `db:"performance_score"`
	PluginCount      int             `db:"plugin_count"`
	ThemeName        string          `db:"theme_name"`
	LastCrawlAt      sql.NullInt64   `db:"last_crawl_at"`
}

// Leaderboard returns one page of ranked sites and the total number of
// ranked sites.
func (c *Client) Leaderboard(ctx context.Context, limit, offset int) ([]models.LeaderboardRow, int, error) {
	var total int
	if err := c.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM rank_entries WHERE global_rank > 0`); err != nil {
		return nil, 0, fmt.Errorf("failed to count leaderboard: %w", err)
	}

	var rows []leaderboardRow
	err := c.db.SelectContext(ctx, &rows, `
		SELECT r.global_rank, s.domain, r.efficiency_score, snap.performance_score,
			s.plugin_count, s.theme_name, s.last_crawl_at
		FROM rank_entries r
		JOIN sites s ON s.id = r.site_id`+latestSnapshotJoin+`
		WHERE r.global_rank > 0
		ORDER BY r.global_rank, s.domain
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query leaderboard: %w", err)
	}

	result := make([]models.LeaderboardRow, 0, len(rows))
	for _, r := range rows {
		result = append(result, models.LeaderboardRow{
			Rank:             r.Rank,
			Domain:           r.Domain,
			EfficiencyScore:  r.EfficiencyScore,
			PerformanceScore: floatPtr(r.PerformanceScore),
			PluginCount:      r.PluginCount,
			ThemeName:        r.ThemeName,
			LastCrawlAt:      timePtr(r.LastCrawlAt),
		})
	}
	return result, total, nil
}
