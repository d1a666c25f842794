package metrics

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ItemsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wprank_queue_items_processed_total",
			Help: "Queue items processed, by outcome",
		},
		[]string{"outcome"},
	)

	CrawlDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wprank_crawl_duration_seconds",
			Help:    "Time spent processing one queue item",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 80, 160, 300},
		},
		[]string{"outcome"},
	)

	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "wprank_queue_items",
			Help: "Queue items by status",
		},
		[]string{"status"},
	)

	PerformanceCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wprank_performance_api_calls_total",
			Help: "Performance API calls, by strategy and result",
		},
		[]string{"strategy", "result"},
	)

	RankDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "wprank_rank_recompute_duration_seconds",
			Help:    "Full rank recomputation duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
	)

	RankedSites = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "wprank_ranked_sites",
			Help: "Sites holding a numeric rank after the last recomputation",
		},
	)

	RateLimitWaits = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "wprank_domain_rate_limit_wait_seconds",
			Help:    "Time spent waiting for a per-domain request slot",
			Buckets: []float64{0, 0.1, 0.25, 0.5, 1, 2, 5},
		},
	)

	Submissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wprank_submissions_total",
			Help: "Domain submissions, by result",
		},
		[]string{"result"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wprank_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wprank_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)
)

var registerOnce sync.Once

// Init registers the collectors with the default registry. Safe to call more
// than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			ItemsProcessed,
			CrawlDuration,
			QueueDepth,
			PerformanceCalls,
			RankDuration,
			RankedSites,
			RateLimitWaits,
			Submissions,
			CacheHits,
			CacheMisses,
		)
	})
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
