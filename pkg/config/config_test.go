package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 3, cfg.Queue.MaxRetries)
	assert.Equal(t, 10, cfg.Queue.BatchSize)
	assert.Equal(t, 240, cfg.Queue.BackoffCapMinutes)
	assert.Equal(t, 8*time.Second, cfg.Crawler.HomepageTimeout)
	assert.Equal(t, 30*time.Second, cfg.Performance.Timeout)
	assert.Equal(t, 20, cfg.Crawler.PluginEvidenceCap)
	assert.InDelta(t, 0.70, cfg.Ranking.PSIWeight, 1e-9)
	assert.InDelta(t, 0.30, cfg.Ranking.PluginWeight, 1e-9)
	assert.Equal(t, time.Second, cfg.Crawler.MinDomainInterval())
	assert.Equal(t, 240*time.Minute, cfg.Queue.BackoffCap())
	require.NoError(t, cfg.Validate())
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
queue:
  max_retries: 7
  batch_size: 50
  backoff_cap_minutes: 120
crawler:
  requests_per_second: 2
  skip_non_wordpress: false
ranking:
  psi_weight: 0.5
  plugin_weight: 0.5
redis:
  leaderboard_ttl: 30s
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Queue.MaxRetries)
	assert.Equal(t, 50, cfg.Queue.BatchSize)
	assert.Equal(t, 120*time.Minute, cfg.Queue.BackoffCap())
	assert.Equal(t, 500*time.Millisecond, cfg.Crawler.MinDomainInterval())
	assert.False(t, cfg.Crawler.SkipNonWordPress)
	assert.InDelta(t, 0.5, cfg.Ranking.PSIWeight, 1e-9)
	assert.InDelta(t, 0.5, cfg.Ranking.PluginWeight, 1e-9)
	assert.Equal(t, 30*time.Second, cfg.Redis.LeaderboardTTL)
	assert.Equal(t, 30, cfg.Retention.Days)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("WPRANK_QUEUE_MAX_RETRIES", "9")
	t.Setenv("WPRANK_RANKING_PSI_WEIGHT", "0.25")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Queue.MaxRetries)
	assert.InDelta(t, 0.25, cfg.Ranking.PSIWeight, 1e-9)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("queue:\n  max_retries: 7\n  batch_size: 50\n"), 0o600))
	t.Setenv("WPRANK_QUEUE_MAX_RETRIES", "9")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Queue.MaxRetries)
	assert.Equal(t, 50, cfg.Queue.BatchSize)
}

func TestValidateRanges(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"max retries zero", func(c *Config) { c.Queue.MaxRetries = 0 }},
		{"max retries too high", func(c *Config) { c.Queue.MaxRetries = 11 }},
		{"batch size zero", func(c *Config) { c.Queue.BatchSize = 0 }},
		{"batch size too high", func(c *Config) { c.Queue.BatchSize = 101 }},
		{"no rate", func(c *Config) { c.Crawler.RequestsPerSecond = 0 }},
		{"evidence cap", func(c *Config) { c.Crawler.PluginEvidenceCap = 0 }},
		{"negative weight", func(c *Config) { c.Ranking.PluginWeight = -0.1 }},
		{"backoff cap", func(c *Config) { c.Queue.BackoffCapMinutes = 5 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
