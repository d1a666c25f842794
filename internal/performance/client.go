// Package performance fetches lab performance scores for a domain from the
// PageSpeed Insights API.
package performance

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/wprank/backend/internal/metrics"
	"github.com/wprank/backend/internal/storage/models"
	"github.com/wprank/backend/pkg/circuitbreaker"
	"github.com/wprank/backend/pkg/config"
	"github.com/wprank/backend/pkg/logger"
)

type Strategy string

const (
	Desktop Strategy = "desktop"
	Mobile  Strategy = "mobile"
)

const (
	desktopWeight = 0.7
	mobileWeight  = 0.3

	maxResponseBytes = 20 << 20
)

var (
	errNoAPIKey  = errors.New("no performance api key configured")
	errRateLimit = errors.New("performance api rate limited")
	errBadStatus = errors.New("unexpected performance api status")
	errNoScore   = errors.New("performance score missing from response")
)

// Metrics is one strategy's normalized result. Score is 0-100.
type Metrics struct {
	Strategy Strategy
	Score    float64
	Vitals   models.WebVitals
}

// Combined holds both strategies and the desktop-weighted score. Any field
// may be nil.
type Combined struct {
	Desktop *Metrics
	Mobile  *Metrics
	Score   *float64
}

// Vitals prefers desktop timings and falls back to mobile.
func (c Combined) Vitals() models.WebVitals {
	if c.Desktop != nil {
		return c.Desktop.Vitals
	}
	if c.Mobile != nil {
		return c.Mobile.Vitals
	}
	return models.WebVitals{}
}

type Client struct {
	cfg        config.PerformanceConfig
	httpClient *http.Client
	breaker    *circuitbreaker.CircuitBreaker
	sleep      func(ctx context.Context, d time.Duration) error
}

func NewClient(cfg config.PerformanceConfig) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		breaker: circuitbreaker.New("performance-api", circuitbreaker.Config{
			FailureThreshold: 5,
			Timeout:          time.Minute,
			// A missing key is configuration, not an outage.
			IsFailure: func(err error) bool { return !errors.Is(err, errNoAPIKey) },
			Logger:    logger.Named("performance"),
		}),
		sleep: sleepContext,
	}
}

// Fetch returns metrics for one strategy, or nil on any failure.
func (c *Client) Fetch(ctx context.Context, domain string, strategy Strategy) *Metrics {
	var m *Metrics
	err := c.breaker.Execute(ctx, func() error {
		var err error
		m, err = c.fetch(ctx, domain, strategy)
		return err
	})
	if err != nil {
		metrics.PerformanceCalls.WithLabelValues(string(strategy), resultLabel(err)).Inc()
		logger.Warn("Performance fetch failed",
			zap.String("domain", domain),
			zap.String("strategy", string(strategy)),
			zap.Error(err),
		)
		return nil
	}

	metrics.PerformanceCalls.WithLabelValues(string(strategy), "ok").Inc()
	return m
}

// FetchBoth fetches desktop then mobile, at least MinSpacing apart, and
// combines the scores 70/30. With a single score that score is used as is.
func (c *Client) FetchBoth(ctx context.Context, domain string) Combined {
	var out Combined
	out.Desktop = c.Fetch(ctx, domain, Desktop)

	if err := c.sleep(ctx, c.cfg.MinSpacing); err != nil {
		out.Score = CombineScores(out.Desktop, nil)
		return out
	}

	out.Mobile = c.Fetch(ctx, domain, Mobile)
	out.Score = CombineScores(out.Desktop, out.Mobile)
	return out
}

// CombineScores weights desktop 0.7 and mobile 0.3.
func CombineScores(desktop, mobile *Metrics) *float64 {
	var score float64
	switch {
	case desktop != nil && mobile != nil:
		score = desktopWeight*desktop.Score + mobileWeight*mobile.Score
	case desktop != nil:
		score = desktop.Score
	case mobile != nil:
		score = mobile.Score
	default:
		return nil
	}
	return &score
}

func (c *Client) fetch(ctx context.Context, domain string, strategy Strategy) (*Metrics, error) {
	if c.cfg.APIKey == "" {
		return nil, errNoAPIKey
	}

	params := url.Values{}
	params.Set("url", "https://"+domain+"/")
	params.Set("strategy", string(strategy))
	params.Set("category", "performance")
	params.Set("key", c.cfg.APIKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"?"+params.Encode(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call performance api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, errRateLimit
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %d", errBadStatus, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	return parse(body, strategy)
}

func parse(body []byte, strategy Strategy) (*Metrics, error) {
	if !gjson.ValidBytes(body) {
		return nil, errors.New("malformed performance api response")
	}

	score := gjson.GetBytes(body, "lighthouseResult.categories.performance.score")
	if score.Type != gjson.Number {
		return nil, errNoScore
	}

	audits := gjson.GetBytes(body, "lighthouseResult.audits")
	audit := func(name string) *float64 {
		v := audits.Get(name + ".numericValue")
		if v.Type != gjson.Number {
			return nil
		}
		f := v.Float()
		return &f
	}

	return &Metrics{
		Strategy: strategy,
		Score:    score.Float() * 100,
		Vitals: models.WebVitals{
			FCPMs: audit("first-contentful-paint"),
			LCPMs: audit("largest-contentful-paint"),
			CLS:   audit("cumulative-layout-shift"),
			TBTMs: audit("total-blocking-time"),
			SIMs:  audit("speed-index"),
			TTIMs: audit("interactive"),
		},
	}, nil
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, errNoAPIKey):
		return "no_key"
	case errors.Is(err, errRateLimit):
		return "rate_limited"
	case errors.Is(err, circuitbreaker.ErrCircuitOpen):
		return "circuit_open"
	default:
		return "error"
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
