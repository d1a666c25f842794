package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/wprank/backend/pkg/logger"
	"github.com/wprank/backend/pkg/retry"
)

// maxErrorLength bounds last_error columns.
const maxErrorLength = 1000

type Client struct {
	db    *sqlx.DB
	retry retry.Config
}

// NewClient opens the database at dbPath. Any URI form accepted by
// go-sqlite3 works, including "file:name?mode=memory&cache=shared".
func NewClient(dbPath string) (*Client, error) {
	sep := "?"
	if strings.Contains(dbPath, "?") {
		sep = "&"
	}
	dsn := dbPath + sep + "_busy_timeout=5000&_foreign_keys=on&_journal_mode=WAL"

	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite has a single writer; one pooled connection keeps this process
	// from contending with itself. Contention with other processes sharing
	// the file is absorbed by busy_timeout and the retry policy.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return NewClientFromDB(db.DB, "sqlite3"), nil
}

// NewClientFromDB wraps an existing handle. Tests use it with sqlmock.
func NewClientFromDB(db *sql.DB, driverName string) *Client {
	policy := retry.DefaultConfig()
	policy.Retryable = isBusy
	policy.Logger = logger.Named("sqlite")

	return &Client{
		db:    sqlx.NewDb(db, driverName),
		retry: policy,
	}
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sites (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		domain TEXT NOT NULL UNIQUE,
		is_wordpress INTEGER NOT NULL DEFAULT 0,
		wp_version TEXT NOT NULL DEFAULT '',
		theme_name TEXT NOT NULL DEFAULT '',
		plugin_count INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'pending',
		last_crawl_at INTEGER,
		last_error TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sites_eligible ON sites(status, is_wordpress);

	CREATE TABLE IF NOT EXISTS queue_items (
		id TEXT PRIMARY KEY,
		domain TEXT NOT NULL,
		priority INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'pending',
		attempt_count INTEGER NOT NULL DEFAULT 0,
		next_attempt_at INTEGER,
		last_error TEXT NOT NULL DEFAULT '',
		source TEXT NOT NULL DEFAULT '',
		result TEXT NOT NULL DEFAULT '',
		claimed_at INTEGER,
		completed_at INTEGER,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_queue_active_domain
		ON queue_items(domain) WHERE status IN ('pending', 'processing');
	CREATE INDEX IF NOT EXISTS idx_queue_dequeue ON queue_items(status, priority DESC, created_at);

	CREATE TABLE IF NOT EXISTS site_metrics_snapshots (
		site_id INTEGER NOT NULL,
		crawl_id TEXT NOT NULL,
		performance_score REAL,
		desktop_score REAL,
		mobile_score REAL,
		fcp_ms REAL,
		lcp_ms REAL,
		cls REAL,
		tbt_ms REAL,
		si_ms REAL,
		tti_ms REAL,
		plugin_count INTEGER NOT NULL DEFAULT 0,
		plugin_evidence TEXT NOT NULL DEFAULT '[]',
		theme_name TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		PRIMARY KEY (site_id, crawl_id),
		FOREIGN KEY (site_id) REFERENCES sites(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_snapshots_site_created ON site_metrics_snapshots(site_id, created_at);

	CREATE TABLE IF NOT EXISTS rank_entries (
		site_id INTEGER PRIMARY KEY,
		efficiency_score REAL NOT NULL DEFAULT 0,
		global_rank INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL,
		FOREIGN KEY (site_id) REFERENCES sites(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_rank_global ON rank_entries(global_rank);
	`

	if _, err := c.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

// withTx runs fn in a transaction, rolling back on any error and retrying the
// whole unit when SQLite reports the database busy or locked.
func (c *Client) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	return retry.Do(ctx, c.retry, func() error {
		tx, err := c.db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}

		if err := fn(tx); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				logger.Warn("Transaction rollback failed", zap.Error(rbErr))
			}
			return err
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit transaction: %w", err)
		}
		return nil
	})
}

// exec runs a single statement under the busy retry policy.
func (c *Client) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return retry.DoWithResult(ctx, c.retry, func() (sql.Result, error) {
		return c.db.ExecContext(ctx, query, args...)
	})
}

func isBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromMillis(n.Int64)
	return &t
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	// Avoid cutting a multi-byte rune in half.
	cut := n
	for cut > 0 && (s[cut]&0xC0) == 0x80 {
		cut--
	}
	return s[:cut]
}
