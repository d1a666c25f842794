package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	SQLite      SQLiteConfig      `mapstructure:"sqlite"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Queue       QueueConfig       `mapstructure:"queue"`
	Crawler     CrawlerConfig     `mapstructure:"crawler"`
	Performance PerformanceConfig `mapstructure:"performance"`
	Ranking     RankingConfig     `mapstructure:"ranking"`
	Retention   RetentionConfig   `mapstructure:"retention"`
	Schedule    ScheduleConfig    `mapstructure:"schedule"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
	BodyLimit    int    `mapstructure:"body_limit"`
	// SubmissionsPerMinute throttles POST /submissions per client.
	SubmissionsPerMinute int `mapstructure:"submissions_per_minute"`
	// HSTS enables Strict-Transport-Security on responses.
	HSTS bool `mapstructure:"hsts"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	// LeaderboardTTL bounds how long a cached leaderboard page is served.
	LeaderboardTTL time.Duration `mapstructure:"leaderboard_ttl"`
}

type QueueConfig struct {
	MaxRetries        int           `mapstructure:"max_retries"`
	BatchSize         int           `mapstructure:"batch_size"`
	Concurrency       int           `mapstructure:"concurrency"`
	BackoffCapMinutes int           `mapstructure:"backoff_cap_minutes"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	ItemTimeout       time.Duration `mapstructure:"item_timeout"`
	StaleAfter        time.Duration `mapstructure:"stale_after"`
	RecrawlAfter      time.Duration `mapstructure:"recrawl_after"`
}

type CrawlerConfig struct {
	UserAgent          string        `mapstructure:"user_agent"`
	RequestsPerSecond  float64       `mapstructure:"requests_per_second"`
	HomepageTimeout    time.Duration `mapstructure:"homepage_timeout"`
	InsecureSkipVerify bool          `mapstructure:"insecure_skip_verify"`
	MaxBodyBytes       int64         `mapstructure:"max_body_bytes"`
	PluginEvidenceCap  int           `mapstructure:"plugin_evidence_cap"`
	SkipNonWordPress   bool          `mapstructure:"skip_non_wordpress"`
}

type PerformanceConfig struct {
	APIKey     string        `mapstructure:"api_key"`
	BaseURL    string        `mapstructure:"base_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MinSpacing time.Duration `mapstructure:"min_spacing"`
}

// RankingConfig holds the efficiency weights. The weights are not required to
// sum to 1; keeping them meaningful is the operator's job.
type RankingConfig struct {
	PSIWeight    float64 `mapstructure:"psi_weight"`
	PluginWeight float64 `mapstructure:"plugin_weight"`
}

type RetentionConfig struct {
	Days int `mapstructure:"days"`
}

// ScheduleConfig holds cron expressions for the worker's periodic jobs.
// An empty expression disables the job.
type ScheduleConfig struct {
	RecoverStale string `mapstructure:"recover_stale"`
	Cleanup      string `mapstructure:"cleanup"`
	Rerank       string `mapstructure:"rerank"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// MinDomainInterval is the spacing between two requests to the same domain.
func (c CrawlerConfig) MinDomainInterval() time.Duration {
	if c.RequestsPerSecond <= 0 {
		return time.Second
	}
	return time.Duration(float64(time.Second) / c.RequestsPerSecond)
}

// BackoffCap returns the maximum retry delay.
func (c QueueConfig) BackoffCap() time.Duration {
	return time.Duration(c.BackoffCapMinutes) * time.Minute
}

// Load reads configuration from file, environment and defaults. An explicit
// path takes precedence over the search paths.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/wprank")
	}

	v.SetEnvPrefix("WPRANK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Default returns the configuration produced by the defaults alone.
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var config Config
	// Defaults always decode.
	_ = v.Unmarshal(&config)
	return &config
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 30)
	v.SetDefault("server.body_limit", 1048576)
	v.SetDefault("server.submissions_per_minute", 30)
	v.SetDefault("server.hsts", false)

	v.SetDefault("sqlite.path", "./data/wprank.db")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.leaderboard_ttl", 5*time.Minute)

	v.SetDefault("queue.max_retries", 3)
	v.SetDefault("queue.batch_size", 10)
	v.SetDefault("queue.concurrency", 2)
	v.SetDefault("queue.backoff_cap_minutes", 240)
	v.SetDefault("queue.poll_interval", 5*time.Second)
	v.SetDefault("queue.item_timeout", 5*time.Minute)
	v.SetDefault("queue.stale_after", 15*time.Minute)
	v.SetDefault("queue.recrawl_after", 24*time.Hour)

	v.SetDefault("crawler.user_agent", "WPRankBot/1.0 (+https://wprank.dev/bot)")
	v.SetDefault("crawler.requests_per_second", 1.0)
	v.SetDefault("crawler.homepage_timeout", 8*time.Second)
	v.SetDefault("crawler.insecure_skip_verify", true)
	v.SetDefault("crawler.max_body_bytes", 5*1024*1024)
	v.SetDefault("crawler.plugin_evidence_cap", 20)
	v.SetDefault("crawler.skip_non_wordpress", true)

	v.SetDefault("performance.base_url", "https://www.googleapis.com/pagespeedonline/v5/runPagespeed")
	v.SetDefault("performance.timeout", 30*time.Second)
	v.SetDefault("performance.min_spacing", time.Second)

	v.SetDefault("ranking.psi_weight", 0.70)
	v.SetDefault("ranking.plugin_weight", 0.30)

	v.SetDefault("retention.days", 30)

	v.SetDefault("schedule.recover_stale", "@every 1m")
	v.SetDefault("schedule.cleanup", "@daily")
	v.SetDefault("schedule.rerank", "@hourly")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output_path", "stdout")
}

// Validate checks the recognized option ranges.
func (c *Config) Validate() error {
	var errs []error

	if c.Queue.MaxRetries < 1 || c.Queue.MaxRetries > 10 {
		errs = append(errs, fmt.Errorf("queue.max_retries must be between 1 and 10, got %d", c.Queue.MaxRetries))
	}
	if c.Queue.BatchSize < 1 || c.Queue.BatchSize > 100 {
		errs = append(errs, fmt.Errorf("queue.batch_size must be between 1 and 100, got %d", c.Queue.BatchSize))
	}
	if c.Queue.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("queue.concurrency must be positive, got %d", c.Queue.Concurrency))
	}
	if c.Queue.BackoffCapMinutes < 10 {
		errs = append(errs, fmt.Errorf("queue.backoff_cap_minutes must be at least 10, got %d", c.Queue.BackoffCapMinutes))
	}
	if c.Queue.ItemTimeout <= 0 {
		errs = append(errs, errors.New("queue.item_timeout must be positive"))
	}
	if c.Crawler.RequestsPerSecond <= 0 {
		errs = append(errs, fmt.Errorf("crawler.requests_per_second must be positive, got %v", c.Crawler.RequestsPerSecond))
	}
	if c.Crawler.HomepageTimeout <= 0 {
		errs = append(errs, errors.New("crawler.homepage_timeout must be positive"))
	}
	if c.Crawler.PluginEvidenceCap < 1 {
		errs = append(errs, fmt.Errorf("crawler.plugin_evidence_cap must be at least 1, got %d", c.Crawler.PluginEvidenceCap))
	}
	if c.Performance.Timeout <= 0 {
		errs = append(errs, errors.New("performance.timeout must be positive"))
	}
	if c.Ranking.PSIWeight < 0 || c.Ranking.PluginWeight < 0 {
		errs = append(errs, errors.New("ranking weights must not be negative"))
	}
	if c.Retention.Days < 1 {
		errs = append(errs, fmt.Errorf("retention.days must be at least 1, got %d", c.Retention.Days))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}
