package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/wprank/backend/internal/storage/models"
)

const siteColumns = `id, domain, is_wordpress, wp_version, theme_name, plugin_count, status,
	last_crawl_at, last_error, created_at, updated_at`

type siteRow struct {
	ID          int64         `db:"id"`
	Domain      string        `db:"domain"`
	IsWordPress bool          `db:"is_wordpress"`
	WPVersion   string        `db:"wp_version"`
	ThemeName   string        `db:"theme_name"`
	PluginCount int           `db:"plugin_count"`
	Status      string        `db:"status"`
	LastCrawlAt sql.NullInt64 `db:"last_crawl_at"`
	LastError   string        `db:"last_error"`
	CreatedAt   int64         `db:"created_at"`
	UpdatedAt   int64         `db:"updated_at"`
}

func (r siteRow) toModel() *models.Site {
	return &models.Site{
		ID:          r.ID,
		Domain:      r.Domain,
		IsWordPress: r.IsWordPress,
		WPVersion:   r.WPVersion,
		ThemeName:   r.ThemeName,
		PluginCount: r.PluginCount,
		Status:      models.SiteStatus(r.Status),
		LastCrawlAt: timePtr(r.LastCrawlAt),
		LastError:   r.LastError,
		CreatedAt:   fromMillis(r.CreatedAt),
		UpdatedAt:   fromMillis(r.UpdatedAt),
	}
}

type snapshotRow struct {
	SiteID           int64           `db:"site_id"`
	CrawlID          string          `db:"crawl_id"`
	PerformanceScore sql.NullFloat64 `db:"performance_score"`
	DesktopScore     sql.NullFloat64 `db:"desktop_score"`
	MobileScore      sql.NullFloat64 `db:"mobile_score"`
	FCPMs            sql.NullFloat64 `db:"fcp_ms"`
	LCPMs            sql.NullFloat64 `db:"lcp_ms"`
	CLS              sql.NullFloat64 `db:"cls"`
	TBTMs            sql.NullFloat64 `db:"tbt_ms"`
	SIMs             sql.NullFloat64 `db:"si_ms"`
	TTIMs            sql.NullFloat64 `db:"tti_ms"`
	PluginCount      int             `db:"plugin_count"`
	PluginEvidence   string          `db:"plugin_evidence"`
	ThemeName        string          `db:"theme_name"`
	CreatedAt        int64           `db:"created_at"`
}

func (r snapshotRow) toModel() (*models.SiteMetricsSnapshot, error) {
	var evidence []string
	if err := json.Unmarshal([]byte(r.PluginEvidence), &evidence); err != nil {
		return nil, fmt.Errorf("failed to decode plugin evidence: %w", err)
	}

	return &models.SiteMetricsSnapshot{
		SiteID:           r.SiteID,
		CrawlID:          r.CrawlID,
		PerformanceScore: floatPtr(r.PerformanceScore),
		DesktopScore:     floatPtr(r.DesktopScore),
		MobileScore:      floatPtr(r.MobileScore),
		Vitals: models.WebVitals{
			FCPMs: floatPtr(r.FCPMs),
			LCPMs: floatPtr(r.LCPMs),
			CLS:   floatPtr(r.CLS),
			TBTMs: floatPtr(r.TBTMs),
			SIMs:  floatPtr(r.SIMs),
			TTIMs: floatPtr(r.TTIMs),
		},
		PluginCount:    r.PluginCount,
		PluginEvidence: evidence,
		ThemeName:      r.ThemeName,
		CreatedAt:      fromMillis(r.CreatedAt),
	}, nil
}

// SaveCrawl upserts the site by domain and appends the snapshot in one
// transaction. It returns the site id.
func (c *Client) SaveCrawl(ctx context.Context, site *models.Site, snap *models.SiteMetricsSnapshot) (int64, error) {
	evidence := snap.PluginEvidence
	if evidence == nil {
		evidence = []string{}
	}
	evidenceJSON, err := json.Marshal(evidence)
	if err != nil {
		return 0, fmt.Errorf("failed to encode plugin evidence: %w", err)
	}

	var siteID int64
	err = c.withTx(ctx, func(tx *sqlx.Tx) error {
		id, err := upsertSite(ctx, tx, site)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO site_metrics_snapshots (site_id, crawl_id, performance_score, desktop_score,
				mobile_score, fcp_ms, lcp_ms, cls, tbt_ms, si_ms, tti_ms, plugin_count,
				plugin_evidence, theme_name, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id,
			snap.CrawlID,
			nullFloat(snap.PerformanceScore),
			nullFloat(snap.DesktopScore),
			nullFloat(snap.MobileScore),
			nullFloat(snap.Vitals.FCPMs),
			nullFloat(snap.Vitals.LCPMs),
			nullFloat(snap.Vitals.CLS),
			nullFloat(snap.Vitals.TBTMs),
			nullFloat(snap.Vitals.SIMs),
			nullFloat(snap.Vitals.TTIMs),
			snap.PluginCount,
			string(evidenceJSON),
			snap.ThemeName,
			toMillis(snap.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to insert snapshot: %w", err)
		}

		siteID = id
		return nil
	})
	if err != nil {
		return 0, err
	}

	site.ID = siteID
	snap.SiteID = siteID
	return siteID, nil
}

// SaveSite upserts a site without a snapshot; used for sites that were
// checked but not analyzed.
func (c *Client) SaveSite(ctx context.Context, site *models.Site) (int64, error) {
	var siteID int64
	err := c.withTx(ctx, func(tx *sqlx.Tx) error {
		id, err := upsertSite(ctx, tx, site)
		siteID = id
		return err
	})
	if err != nil {
		return 0, err
	}
	site.ID = siteID
	return siteID, nil
}

func upsertSite(ctx context.Context, tx *sqlx.Tx, site *models.Site) (int64, error) {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO sites (domain, is_wordpress, wp_version, theme_name, plugin_count, status,
			last_crawl_at, last_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(domain) DO UPDATE SET
			is_wordpress = excluded.is_wordpress,
			wp_version = excluded.wp_version,
			theme_name = excluded.theme_name,
			plugin_count = excluded.plugin_count,
			status = excluded.status,
			last_crawl_at = excluded.last_crawl_at,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at`,
		site.Domain,
		site.IsWordPress,
		site.WPVersion,
		site.ThemeName,
		site.PluginCount,
		string(site.Status),
		nullMillis(site.LastCrawlAt),
		truncate(site.LastError, maxErrorLength),
		toMillis(site.CreatedAt),
		toMillis(site.UpdatedAt),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert site: %w", err)
	}

	var id int64
	if err := tx.GetContext(ctx, &id, `SELECT id FROM sites WHERE domain = ?`, site.Domain); err != nil {
		return 0, fmt.Errorf("failed to read site id: %w", err)
	}
	return id, nil
}

// SetSiteStatus records a status on an existing site, or creates a bare row
// for a domain that has never been saved.
func (c *Client) SetSiteStatus(ctx context.Context, domain string, status models.SiteStatus, lastError string, now time.Time) error {
	_, err := c.exec(ctx, `
		INSERT INTO sites (domain, status, last_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(domain) DO UPDATE SET
			status = excluded.status,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at`,
		domain, string(status), truncate(lastError, maxErrorLength), toMillis(now), toMillis(now),
	)
	if err != nil {
		return fmt.Errorf("failed to set site status: %w", err)
	}
	return nil
}

func (c *Client) GetSite(ctx context.Context, domain string) (*models.Site, error) {
	var row siteRow
	err := c.db.GetContext(ctx, &row, `SELECT `+siteColumns+` FROM sites WHERE domain = ?`, domain)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get site: %w", err)
	}
	return row.toModel(), nil
}

// LatestSnapshot returns the most recent snapshot for a site. Ties on
// created_at are broken by insertion order.
func (c *Client) LatestSnapshot(ctx context.Context, siteID int64) (*models.SiteMetricsSnapshot, error) {
	var row snapshotRow
	err := c.db.GetContext(ctx, &row, `
		SELECT site_id, crawl_id, performance_score, desktop_score, mobile_score, fcp_ms, lcp_ms,
			cls, tbt_ms, si_ms, tti_ms, plugin_count, plugin_evidence, theme_name, created_at
		FROM site_metrics_snapshots
		WHERE site_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1`, siteID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest snapshot: %w", err)
	}
	return row.toModel()
}
