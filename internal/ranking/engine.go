// Package ranking scores sites by efficiency and assigns their global rank.
package ranking

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wprank/backend/internal/metrics"
	"github.com/wprank/backend/internal/storage/models"
	"github.com/wprank/backend/pkg/config"
	"github.com/wprank/backend/pkg/logger"
)

// pluginCeiling winsorizes plugin counts before scoring.
const pluginCeiling = 50

type Store interface {
	RankingInputs(ctx context.Context) ([]models.RankingInput, error)
	RankingInput(ctx context.Context, siteID int64) (*models.RankingInput, error)
	SaveScore(ctx context.Context, siteID int64, score float64, now time.Time) error
	ReplaceRanks(ctx context.Context, entries []models.RankEntry) error
}

// Listener is told after every successful full recomputation.
type Listener interface {
	RanksChanged(ctx context.Context) error
}

// Score is W_psi * clamp(psi/100) + W_plugin / (1 + min(plugins, 50)),
// rounded to four decimals. A nil psi counts as 0.
func Score(psi *float64, plugins int, w config.RankingConfig) float64 {
	var p float64
	if psi != nil {
		p = math.Min(math.Max(*psi/100, 0), 1)
	}

	if plugins < 0 {
		plugins = 0
	}
	if plugins > pluginCeiling {
		plugins = pluginCeiling
	}
	pluginTerm := 1 / (1 + float64(plugins))

	return round4(w.PSIWeight*p + w.PluginWeight*pluginTerm)
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

type scored struct {
	in    models.RankingInput
	score float64
	psi   float64
}

// Rank scores inputs and orders them by score, raw performance score,
// plugin count (ascending) and domain. Sites scoring above zero get ranks
// 1..N in that order; the rest get 0.
func Rank(inputs []models.RankingInput, w config.RankingConfig, now time.Time) []models.RankEntry {
	rows := make([]scored, 0, len(inputs))
	for _, in := range inputs {
		var psi float64
		if in.PerformanceScore != nil {
			psi = *in.PerformanceScore
		}
		rows = append(rows, scored{in: in, score: Score(in.PerformanceScore, in.PluginCount, w), psi: psi})
	}

	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if a.psi != b.psi {
			return a.psi > b.psi
		}
		if a.in.PluginCount != b.in.PluginCount {
			return a.in.PluginCount < b.in.PluginCount
		}
		return a.in.Domain < b.in.Domain
	})

	entries := make([]models.RankEntry, 0, len(rows))
	next := 1
	for _, r := range rows {
		rank := 0
		if r.score > 0 {
			rank = next
			next++
		}
		entries = append(entries, models.RankEntry{
			SiteID:          r.in.SiteID,
			Domain:          r.in.Domain,
			EfficiencyScore: r.score,
			GlobalRank:      rank,
			UpdatedAt:       now,
		})
	}
	return entries
}

type Engine struct {
	store     Store
	weights   config.RankingConfig
	listeners []Listener
	now       func() time.Time

	// mu keeps recomputations in this process from interleaving their read
	// and replace steps.
	mu sync.Mutex
}

func NewEngine(store Store, weights config.RankingConfig, listeners ...Listener) *Engine {
	return &Engine{
		store:     store,
		weights:   weights,
		listeners: listeners,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Recompute ranks every active WordPress site from its latest snapshot and
// replaces the rank table in one transaction.
func (e *Engine) Recompute(ctx context.Context) ([]models.RankEntry, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()

	inputs, err := e.store.RankingInputs(ctx)
	if err != nil {
		return nil, err
	}

	entries := Rank(inputs, e.weights, e.now())
	if err := e.store.ReplaceRanks(ctx, entries); err != nil {
		return nil, fmt.Errorf("failed to replace ranks: %w", err)
	}

	ranked := 0
	for _, en := range entries {
		if en.GlobalRank > 0 {
			ranked++
		}
	}
	metrics.RankDuration.Observe(time.Since(start).Seconds())
	metrics.RankedSites.Set(float64(ranked))

	for _, l := range e.listeners {
		if err := l.RanksChanged(ctx); err != nil {
			logger.Warn("Rank listener failed", zap.Error(err))
		}
	}

	logger.Info("Ranks recomputed",
		zap.Int("sites", len(entries)),
		zap.Int("ranked", ranked),
		zap.Duration("duration", time.Since(start)),
	)
	return entries, nil
}

// UpdateSite stores one site's fresh score and then runs a full pass, since
// every position depends on every other site.
func (e *Engine) UpdateSite(ctx context.Context, siteID int64) error {
	in, err := e.store.RankingInput(ctx, siteID)
	if err != nil {
		return fmt.Errorf("failed to load ranking input: %w", err)
	}

	score := Score(in.PerformanceScore, in.PluginCount, e.weights)
	if err := e.store.SaveScore(ctx, siteID, score, e.now()); err != nil {
		return err
	}

	_, err = e.Recompute(ctx)
	return err
}
