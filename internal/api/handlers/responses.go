package handlers

import (
	"time"

	"github.com/wprank/backend/internal/storage/models"
)

type queueItemResponse struct {
	ID            string     `json:"id"`
	Domain        string     `json:"domain"`
	Priority      int        `json:"priority"`
	Status        string     `json:"status"`
	AttemptCount  int        `json:"attempt_count"`
	NextAttemptAt *time.Time `json:"next_attempt_at,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
	Source        string     `json:"source,omitempty"`
	Result        string     `json:"result,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

func newQueueItemResponse(item *models.QueueItem) queueItemResponse {
	return queueItemResponse{
		ID:            item.ID,
		Domain:        item.Domain,
		Priority:      item.Priority,
		Status:        string(item.Status),
		AttemptCount:  item.AttemptCount,
		NextAttemptAt: item.NextAttemptAt,
		LastError:     item.LastError,
		Source:        item.Source,
		Result:        item.Result,
		CreatedAt:     item.CreatedAt,
		UpdatedAt:     item.UpdatedAt,
		CompletedAt:   item.CompletedAt,
	}
}

type leaderboardEntry struct {
	Rank             int        `json:"rank"`
	Domain           string     `json:"domain"`
	EfficiencyScore  float64    `json:"efficiency_score"`
	PerformanceScore *float64   `json:"performance_score"`
	PluginCount      int        `json:"plugin_count"`
	ThemeName        string     `json:"theme_name,omitempty"`
	LastCrawlAt      *time.Time `json:"last_crawl_at,omitempty"`
}

type leaderboardPage struct {
	Entries []leaderboardEntry `json:"entries"`
	Total   int                `json:"total"`
	Limit   int                `json:"limit"`
	Offset  int                `json:"offset"`
}

func newLeaderboardPage(rows []models.LeaderboardRow, total, limit, offset int) leaderboardPage {
	entries := make([]leaderboardEntry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, leaderboardEntry{
			Rank:             r.Rank,
			Domain:           r.Domain,
			EfficiencyScore:  r.EfficiencyScore,
			PerformanceScore: r.PerformanceScore,
			PluginCount:      r.PluginCount,
			ThemeName:        r.ThemeName,
			LastCrawlAt:      r.LastCrawlAt,
		})
	}
	return leaderboardPage{Entries: entries, Total: total, Limit: limit, Offset: offset}
}

type vitalsResponse struct {
	FCPMs *float64 `json:"fcp_ms"`
	LCPMs *float64 `json:"lcp_ms"`
	CLS   *float64 `json:"cls"`
	TBTMs *float64 `json:"tbt_ms"`
	SIMs  *float64 `json:"si_ms"`
	TTIMs *float64 `json:"tti_ms"`
}

type snapshotResponse struct {
	CrawlID          string         `json:"crawl_id"`
	PerformanceScore *float64       `json:"performance_score"`
	DesktopScore     *float64       `json:"desktop_score"`
	MobileScore      *float64       `json:"mobile_score"`
	Vitals           vitalsResponse `json:"vitals"`
	PluginCount      int            `json:"plugin_count"`
	PluginEvidence   []string       `json:"plugin_evidence"`
	ThemeName        string         `json:"theme_name,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

type rankResponse struct {
	EfficiencyScore float64   `json:"efficiency_score"`
	GlobalRank      int       `json:"global_rank"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type siteResponse struct {
	Domain         string            `json:"domain"`
	IsWordPress    bool              `json:"is_wordpress"`
	WPVersion      string            `json:"wp_version,omitempty"`
	ThemeName      string            `json:"theme_name,omitempty"`
	PluginCount    int               `json:"plugin_count"`
	Status         string            `json:"status"`
	LastCrawlAt    *time.Time        `json:"last_crawl_at,omitempty"`
	LastError      string            `json:"last_error,omitempty"`
	LatestSnapshot *snapshotResponse `json:"latest_snapshot"`
	Rank           *rankResponse     `json:"rank"`
}

func newSiteResponse(site *models.Site, snap *models.SiteMetricsSnapshot, rank *models.RankEntry) siteResponse {
	resp := siteResponse{
		Domain:      site.Domain,
		IsWordPress: site.IsWordPress,
		WPVersion:   site.WPVersion,
		ThemeName:   site.ThemeName,
		PluginCount: site.PluginCount,
		Status:      string(site.Status),
		LastCrawlAt: site.LastCrawlAt,
		LastError:   site.LastError,
	}

	if snap != nil {
		resp.LatestSnapshot = &snapshotResponse{
			CrawlID:          snap.CrawlID,
			PerformanceScore: snap.PerformanceScore,
			DesktopScore:     snap.DesktopScore,
			MobileScore:      snap.MobileScore,
			Vitals: vitalsResponse{
				FCPMs: snap.Vitals.FCPMs,
				LCPMs: snap.Vitals.LCPMs,
				CLS:   snap.Vitals.CLS,
				TBTMs: snap.Vitals.TBTMs,
				SIMs:  snap.Vitals.SIMs,
				TTIMs: snap.Vitals.TTIMs,
			},
			PluginCount:    snap.PluginCount,
			PluginEvidence: snap.PluginEvidence,
			ThemeName:      snap.ThemeName,
			CreatedAt:      snap.CreatedAt,
		}
	}

	if rank != nil {
		resp.Rank = &rankResponse{
			EfficiencyScore: rank.EfficiencyScore,
			GlobalRank:      rank.GlobalRank,
			UpdatedAt:       rank.UpdatedAt,
		}
	}
	return resp
}
