// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Crawl     CrawlConfig     `mapstructure:"crawl"`
	Naver     NaverConfig     `mapstructure:"naver"`
	Gallery   GalleryConfig   `mapstructure:"gallery"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	DB        DBConfig        `mapstructure:"db"`
	Analytics AnalyticsConfig `mapstructure:"analytics"`
	Snapshots SnapshotConfig  `mapstructure:"snapshots"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// CrawlConfig governs the sweep schedule and per-job limits.
type CrawlConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Schedule       string        `mapstructure:"schedule"`
	Timezone       string        `mapstructure:"timezone"`
	MaxResults     int           `mapstructure:"max_results"`
	LookbackDays   int           `mapstructure:"lookback_days"`
	Concurrency    int           `mapstructure:"concurrency"`
	SampleFallback bool          `mapstructure:"sample_fallback"`
	StaleJobAfter  time.Duration `mapstructure:"stale_job_after"`
}

// NaverConfig holds search API credentials and endpoints.
type NaverConfig struct {
	ClientID     string        `mapstructure:"client_id"`
	ClientSecret string        `mapstructure:"client_secret"`
	APIURL       string        `mapstructure:"api_url"`
	SearchURL    string        `mapstructure:"search_url"`
	MobileURL    string        `mapstructure:"mobile_url"`
	RequestDelay time.Duration `mapstructure:"request_delay"`
}

// GalleryConfig configures the paginated gallery walk.
type GalleryConfig struct {
	BaseURL      string            `mapstructure:"base_url"`
	MaxPages     int               `mapstructure:"max_pages"`
	RequestDelay time.Duration     `mapstructure:"request_delay"`
	AltIDs       map[string]string `mapstructure:"alt_ids"`
}

// HTTPConfig configures the HTTP client.
type HTTPConfig struct {
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxRetries     int    `mapstructure:"max_retries"`
}

// HeadlessConfig configures the headless rendering fallback.
type HeadlessConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxParallel   int  `mapstructure:"max_parallel"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	Driver   string `mapstructure:"driver"`
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// AnalyticsConfig points at the downstream analytics service.
type AnalyticsConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// SnapshotConfig selects where raw listing pages are archived.
type SnapshotConfig struct {
	Provider  string `mapstructure:"provider"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
}

// PubSubConfig holds metadata for sweep notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// TelemetryConfig enables trace export.
type TelemetryConfig struct {
	ProjectID   string `mapstructure:"project_id"`
	ServiceName string `mapstructure:"service_name"`
}

// Load builds a Config from a .env file, disk and the environment.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("crawl.enabled", true)
	v.SetDefault("crawl.schedule", "0 4 * * *")
	v.SetDefault("crawl.timezone", "Asia/Seoul")
	v.SetDefault("crawl.max_results", 20)
	v.SetDefault("crawl.lookback_days", 1)
	v.SetDefault("crawl.concurrency", 1)
	v.SetDefault("crawl.sample_fallback", true)
	v.SetDefault("crawl.stale_job_after", "26h")
	v.SetDefault("naver.client_id", "")
	v.SetDefault("naver.client_secret", "")
	v.SetDefault("naver.api_url", "https://openapi.naver.com/v1/search/cafearticle.json")
	v.SetDefault("naver.search_url", "https://search.naver.com/search.naver")
	v.SetDefault("naver.mobile_url", "https://m.cafe.naver.com")
	v.SetDefault("naver.request_delay", "100ms")
	v.SetDefault("gallery.base_url", "https://gall.dcinside.com")
	v.SetDefault("gallery.max_pages", 5)
	v.SetDefault("gallery.request_delay", "1500ms")
	v.SetDefault("gallery.alt_ids", map[string]string{"gongsisaeng": "gongsi"})
	v.SetDefault("http.user_agent",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.max_retries", 2)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("db.driver", "postgres")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("analytics.base_url", "http://localhost:9010")
	v.SetDefault("analytics.timeout_seconds", 10)
	v.SetDefault("snapshots.provider", "none")
	v.SetDefault("snapshots.base_dir", "snapshots")
	v.SetDefault("snapshots.gcs_bucket", "")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("telemetry.project_id", "")
	v.SetDefault("telemetry.service_name", "academy-insight-crawler")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawl.Enabled && (c.Naver.ClientID == "" || c.Naver.ClientSecret == "") {
		return fmt.Errorf("naver.client_id and naver.client_secret must be set when crawl is enabled")
	}
	if _, err := CronParser().Parse(c.Crawl.Schedule); err != nil {
		return fmt.Errorf("crawl.schedule is invalid: %w", err)
	}
	if _, err := time.LoadLocation(c.Crawl.Timezone); err != nil {
		return fmt.Errorf("crawl.timezone is invalid: %w", err)
	}
	if c.Crawl.MaxResults <= 0 {
		return fmt.Errorf("crawl.max_results must be > 0")
	}
	if c.Crawl.LookbackDays <= 0 {
		return fmt.Errorf("crawl.lookback_days must be > 0")
	}
	if c.Crawl.Concurrency <= 0 {
		return fmt.Errorf("crawl.concurrency must be > 0")
	}
	if c.Crawl.StaleJobAfter <= 0 {
		return fmt.Errorf("crawl.stale_job_after must be > 0")
	}
	if c.Gallery.MaxPages <= 0 {
		return fmt.Errorf("gallery.max_pages must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxRetries < 0 {
		return fmt.Errorf("http.max_retries must be >= 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	switch c.DB.Driver {
	case "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set for the postgres driver")
		}
	case "memory":
	default:
		return fmt.Errorf("db.driver %q is not supported", c.DB.Driver)
	}
	switch c.Snapshots.Provider {
	case "", "none":
	case "local":
		if c.Snapshots.BaseDir == "" {
			return fmt.Errorf("snapshots.base_dir must be set for the local provider")
		}
	case "gcs":
		if c.Snapshots.GCSBucket == "" {
			return fmt.Errorf("snapshots.gcs_bucket must be set for the gcs provider")
		}
	default:
		return fmt.Errorf("snapshots.provider %q is not supported", c.Snapshots.Provider)
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.Topic == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic must be set together")
	}
	return nil
}

// Location resolves the crawl timezone. Validate has already checked it.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Crawl.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// HTTPTimeout converts http.timeout_seconds into a duration.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// Lookback converts crawl.lookback_days into a duration.
func (c Config) Lookback() time.Duration {
	return time.Duration(c.Crawl.LookbackDays) * 24 * time.Hour
}

// CronParser parses standard five-field cron expressions.
func CronParser() cron.Parser {
	return cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
}
