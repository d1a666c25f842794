package ranking

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wprank/backend/internal/storage/models"
	"github.com/wprank/backend/internal/storage/sqlite"
	"github.com/wprank/backend/pkg/config"
)

var weights = config.RankingConfig{PSIWeight: 0.70, PluginWeight: 0.30}

func f64(v float64) *float64 { return &v }

func TestScore(t *testing.T) {
	tests := []struct {
		name    string
		psi     *float64
		plugins int
		want    float64
	}{
		{"perfect", f64(100), 0, 1.0},
		{"zero psi many plugins", f64(0), 50, 0.0059},
		{"winsorized", f64(0), 500, 0.0059},
		{"missing psi", nil, 0, 0.3},
		{"psi above range", f64(140), 0, 1.0},
		{"negative psi", f64(-5), 1, 0.15},
		{"typical", f64(85), 9, 0.625},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Score(tt.psi, tt.plugins, weights))
		})
	}
}

func TestRankTieBreaks(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	zero := config.RankingConfig{PSIWeight: 0, PluginWeight: 0}

	// Plugin-only weighting ties scores while keeping them positive.
	pluginOnly := config.RankingConfig{PSIWeight: 0, PluginWeight: 1}
	inputs := []models.RankingInput{
		{SiteID: 1, Domain: "b.com", PerformanceScore: f64(50), PluginCount: 3},
		{SiteID: 2, Domain: "a.com", PerformanceScore: f64(50), PluginCount: 3},
		{SiteID: 3, Domain: "c.com", PerformanceScore: f64(90), PluginCount: 3},
		{SiteID: 4, Domain: "d.com", PerformanceScore: f64(90), PluginCount: 1},
	}

	entries := Rank(inputs, pluginOnly, now)
	var order []string
	for _, e := range entries {
		order = append(order, e.Domain)
	}
	// d.com wins on score; c.com on psi; a.com before b.com on domain.
	assert.Equal(t, []string{"d.com", "c.com", "a.com", "b.com"}, order)
	for i, e := range entries {
		assert.Equal(t, i+1, e.GlobalRank)
	}

	for _, e := range Rank(inputs, zero, now) {
		assert.Zero(t, e.GlobalRank, "score of zero is unranked")
	}
}

func TestRankPluginCountBreaksPSITie(t *testing.T) {
	// Equal score and psi, different raw plugin counts above the ceiling.
	inputs := []models.RankingInput{
		{SiteID: 1, Domain: "a.com", PerformanceScore: f64(60), PluginCount: 80},
		{SiteID: 2, Domain: "b.com", PerformanceScore: f64(60), PluginCount: 55},
	}
	entries := Rank(inputs, weights, time.Now())
	assert.Equal(t, entries[0].EfficiencyScore, entries[1].EfficiencyScore)
	assert.Equal(t, "b.com", entries[0].Domain)
}

func TestRankIsDeterministic(t *testing.T) {
	now := time.Now()
	inputs := []models.RankingInput{
		{SiteID: 1, Domain: "x.com", PerformanceScore: f64(70), PluginCount: 4},
		{SiteID: 2, Domain: "y.com", PerformanceScore: nil, PluginCount: 0},
		{SiteID: 3, Domain: "z.com", PerformanceScore: f64(70), PluginCount: 4},
	}
	first := Rank(inputs, weights, now)
	reversed := []models.RankingInput{inputs[2], inputs[1], inputs[0]}
	assert.Equal(t, first, Rank(reversed, weights, now))
}

type recordingListener struct{ calls int }

func (r *recordingListener) RanksChanged(context.Context) error {
	r.calls++
	return nil
}

func TestEngineUpdateSiteAgainstStore(t *testing.T) {
	store, err := sqlite.NewClient("file:" + uuid.NewString() + "?mode=memory&cache=shared")
	require.NoError(t, err)
	require.NoError(t, store.InitSchema())
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	at := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	save := func(domain string, psi float64, plugins int) int64 {
		id, err := store.SaveCrawl(ctx,
			&models.Site{Domain: domain, IsWordPress: true, Status: models.SiteStatusActive, LastCrawlAt: &at, CreatedAt: at, UpdatedAt: at},
			&models.SiteMetricsSnapshot{CrawlID: uuid.NewString(), PerformanceScore: &psi, PluginCount: plugins, CreatedAt: at},
		)
		require.NoError(t, err)
		return id
	}

	slow := save("slow.com", 40, 20)
	fast := save("fast.com", 95, 2)

	listener := &recordingListener{}
	engine := NewEngine(store, weights, listener)
	require.NoError(t, engine.UpdateSite(ctx, fast))
	assert.Equal(t, 1, listener.calls)

	fastEntry, err := store.GetRankEntry(ctx, fast)
	require.NoError(t, err)
	assert.Equal(t, 1, fastEntry.GlobalRank)
	assert.Equal(t, Score(f64(95), 2, weights), fastEntry.EfficiencyScore)

	slowEntry, err := store.GetRankEntry(ctx, slow)
	require.NoError(t, err)
	assert.Equal(t, 2, slowEntry.GlobalRank)

	first, err := store.RankEntries(ctx)
	require.NoError(t, err)
	_, err = engine.Recompute(ctx)
	require.NoError(t, err)
	second, err := store.RankEntries(ctx)
	require.NoError(t, err)

	for i := range first {
		assert.Equal(t, first[i].SiteID, second[i].SiteID)
		assert.Equal(t, first[i].GlobalRank, second[i].GlobalRank)
		assert.Equal(t, first[i].EfficiencyScore, second[i].EfficiencyScore)
	}
}
