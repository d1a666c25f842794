package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wprank/backend/internal/storage/models"
)

func TestRankingInputsUsesLatestSnapshotOfEligibleSites(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	site, snap := crawlFixture("a.com", "a1", baseTime, 40, 10)
	_, err := c.SaveCrawl(ctx, site, snap)
	require.NoError(t, err)
	site, snap = crawlFixture("a.com", "a2", baseTime.Add(time.Hour), 90, 2)
	_, err = c.SaveCrawl(ctx, site, snap)
	require.NoError(t, err)

	notWP, snap := crawlFixture("b.com", "b1", baseTime, 99, 0)
	notWP.IsWordPress = false
	_, err = c.SaveCrawl(ctx, notWP, snap)
	require.NoError(t, err)

	require.NoError(t, c.SetSiteStatus(ctx, "c.com", models.SiteStatusBlocked, "", baseTime))

	inputs, err := c.RankingInputs(ctx)
	require.NoError(t, err)
	require.Len(t, inputs, 1)
	assert.Equal(t, "a.com", inputs[0].Domain)
	require.NotNil(t, inputs[0].PerformanceScore)
	assert.Equal(t, 90.0, *inputs[0].PerformanceScore)
	assert.Equal(t, 2, inputs[0].PluginCount)

	one, err := c.RankingInput(ctx, notWP.ID)
	require.NoError(t, err)
	assert.Equal(t, "b.com", one.Domain)
}

func TestHasRankEntry(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	site, snap := crawlFixture("a.com", "a1", baseTime, 70, 1)
	id, err := c.SaveCrawl(ctx, site, snap)
	require.NoError(t, err)

	held, err := c.HasRankEntry(ctx, "a.com")
	require.NoError(t, err)
	assert.False(t, held)

	require.NoError(t, c.ReplaceRanks(ctx, []models.RankEntry{{SiteID: id, EfficiencyScore: 0.8, GlobalRank: 1, UpdatedAt: baseTime}}))
	held, err = c.HasRankEntry(ctx, "a.com")
	require.NoError(t, err)
	assert.True(t, held)

	held, err = c.HasRankEntry(ctx, "unknown.com")
	require.NoError(t, err)
	assert.False(t, held)

	require.NoError(t, c.ReplaceRanks(ctx, nil))
	held, err = c.HasRankEntry(ctx, "a.com")
	require.NoError(t, err)
	assert.False(t, held)
}

func TestReplaceRanksAndLeaderboard(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	ids := map[string]int64{}
	for _, d := range []string{"a.com", "b.com", "c.com"} {
		site, snap := crawlFixture(d, d+"-1", baseTime, 70, 1)
		id, err := c.SaveCrawl(ctx, site, snap)
		require.NoError(t, err)
		ids[d] = id
	}

	require.NoError(t, c.SaveScore(ctx, ids["a.com"], 0.5, baseTime))

	entries := []models.RankEntry{
		{SiteID: ids["b.com"], EfficiencyScore: 0.9, GlobalRank: 1, UpdatedAt: baseTime},
		{SiteID: ids["a.com"], EfficiencyScore: 0.5, GlobalRank: 2, UpdatedAt: baseTime},
		{SiteID: ids["c.com"], EfficiencyScore: 0, GlobalRank: 0, UpdatedAt: baseTime},
	}
	require.NoError(t, c.ReplaceRanks(ctx, entries))

	rows, total, err := c.Leaderboard(ctx, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, total, "unranked sites are not counted")
	require.Len(t, rows, 2)
	assert.Equal(t, "b.com", rows[0].Domain)
	assert.Equal(t, 1, rows[0].Rank)
	require.NotNil(t, rows[0].PerformanceScore)
	assert.Equal(t, 70.0, *rows[0].PerformanceScore)

	page, _, err := c.Leaderboard(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "a.com", page[0].Domain)

	all, err := c.RankEntries(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c.com", all[2].Domain)

	// A second replacement drops entries that are no longer present.
	require.NoError(t, c.ReplaceRanks(ctx, entries[:1]))
	_, err = c.GetRankEntry(ctx, ids["a.com"])
	assert.ErrorIs(t, err, models.ErrNotFound)
}
