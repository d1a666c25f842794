package models

import "time"

type SiteStatus string

const (
	SiteStatusPending SiteStatus = "pending"
	SiteStatusActive  SiteStatus = "active"
	SiteStatusError   SiteStatus = "error"
	SiteStatusBlocked SiteStatus = "blocked"
)

type QueueStatus string

const (
	QueueStatusPending    QueueStatus = "pending"
	QueueStatusProcessing QueueStatus = "processing"
	QueueStatusCompleted  QueueStatus = "completed"
	QueueStatusFailed     QueueStatus = "failed"
)

// Terminal reports whether no automatic transition leaves this status.
func (s QueueStatus) Terminal() bool {
	return s == QueueStatusCompleted || s == QueueStatusFailed
}

// Result codes recorded on completed queue items.
const (
	ResultAnalyzed         = "analyzed"
	ResultNotWordPress     = "not_wordpress"
	ResultRobotsDisallowed = "robots_txt_disallowed"
)

type Site struct {
	ID          int64
	Domain      string
	IsWordPress bool
	WPVersion   string
	ThemeName   string
	PluginCount int
	Status      SiteStatus
	LastCrawlAt *time.Time
	LastError   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type QueueItem struct {
	ID            string
	Domain        string
	Priority      int
	Status        QueueStatus
	AttemptCount  int
	NextAttemptAt *time.Time
	LastError     string
	Source        string
	Result        string
	ClaimedAt     *time.Time
	CompletedAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// WebVitals are the timing audits reported by the performance API.
// Durations are in milliseconds; CLS is unitless.
type WebVitals struct {
	FCPMs *float64
	LCPMs *float64
	CLS   *float64
	TBTMs *float64
	SIMs  *float64
	TTIMs *float64
}

type SiteMetricsSnapshot struct {
	SiteID           int64
	CrawlID          string
	PerformanceScore *float64
	DesktopScore     *float64
	MobileScore      *float64
	Vitals           WebVitals
	PluginCount      int
	PluginEvidence   []string
	ThemeName        string
	CreatedAt        time.Time
}

type RankEntry struct {
	SiteID          int64
	Domain          string
	EfficiencyScore float64
	GlobalRank      int
	UpdatedAt       time.Time
}

// LeaderboardRow is the read model joining a rank with its site and latest
// snapshot.
type LeaderboardRow struct {
	Rank             int
	Domain           string
	EfficiencyScore  float64
	PerformanceScore *float64
	PluginCount      int
	ThemeName        string
	LastCrawlAt      *time.Time
}

type QueueStats struct {
	Pending    int
	Processing int
	Completed  int
	Failed     int
}

// RankingInput is the latest measurement of one ranking-eligible site.
type RankingInput struct {
	SiteID           int64
	Domain           string
	PerformanceScore *float64
	PluginCount      int
}
