// Package config loads and validates archiver configuration via Viper.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"

	"github.com/JakeFAU/recurse-archiver/internal/crawler"
)

// EnvPrefix is prepended to every environment override, e.g.
// ARCHIVER_ARCHIVE_MAX_PAGES.
const EnvPrefix = "ARCHIVER"

// Capture drivers.
const (
	DriverChromedp = "chromedp"
	DriverHTTP     = "http"
	// DriverAuto fetches over plain HTTP and switches a crawl to the browser
	// when its seed page looks client rendered.
	DriverAuto = "auto"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Analyze   AnalyzeConfig   `mapstructure:"analyze"`
	Capture   CaptureConfig   `mapstructure:"capture"`
	Export    ExportConfig    `mapstructure:"export"`
	Jobs      JobsConfig      `mapstructure:"jobs"`
	Storage   StorageConfig   `mapstructure:"storage"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// ArchiveConfig holds the defaults of full-capture jobs.
type ArchiveConfig struct {
	MaxDepth       int                   `mapstructure:"max_depth"`
	MaxPages       int                   `mapstructure:"max_pages"`
	DelayMs        int                   `mapstructure:"delay_ms"`
	TimeoutMs      int                   `mapstructure:"timeout_ms"`
	SmartDiscovery bool                  `mapstructure:"smart_discovery"`
	MaxSitemaps    int                   `mapstructure:"max_sitemaps"`
	IncludeAssets  crawler.IncludeAssets `mapstructure:"include_assets"`
}

// AnalyzeConfig holds the defaults of analyze jobs.
type AnalyzeConfig struct {
	MaxPages  int `mapstructure:"max_pages"`
	DelayMs   int `mapstructure:"delay_ms"`
	TimeoutMs int `mapstructure:"timeout_ms"`
}

// CaptureConfig selects and tunes the page driver.
type CaptureConfig struct {
	Driver      string `mapstructure:"driver"`
	Headless    bool   `mapstructure:"headless"`
	UserAgent   string `mapstructure:"user_agent"`
	MaxParallel int    `mapstructure:"max_parallel"`
	WaitUntil   string `mapstructure:"wait_until"`
	ExecPath    string `mapstructure:"exec_path"`
	// CookiesFile is a browser cookie export loaded into every session.
	CookiesFile string `mapstructure:"cookies_file"`
	// AssetRPS caps asset downloads and size probes per host. Zero disables it.
	AssetRPS   float64 `mapstructure:"asset_rps"`
	AssetBurst int     `mapstructure:"asset_burst"`
}

// ExportConfig controls where and how archives are written.
type ExportConfig struct {
	OutputDir string `mapstructure:"output_dir"`
	Manifest  bool   `mapstructure:"manifest"`
	Sitemap   bool   `mapstructure:"sitemap"`
}

// JobsConfig sizes the worker pool.
type JobsConfig struct {
	Workers        int `mapstructure:"workers"`
	QueueDepth     int `mapstructure:"queue_depth"`
	MaxAttempts    int `mapstructure:"max_attempts"`
	RetryBackoffMs int `mapstructure:"retry_backoff_ms"`
}

// StorageConfig points at the optional persistence backends.
type StorageConfig struct {
	SQLitePath    string `mapstructure:"sqlite_path"`
	PostgresDSN   string `mapstructure:"postgres_dsn"`
	PostgresTable string `mapstructure:"postgres_table"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// TelemetryConfig toggles tracing.
type TelemetryConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := New()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}
	return FromViper(v)
}

// New returns a Viper instance with defaults and environment overrides
// registered, ready for flag binding.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// FromViper decodes and validates the configuration held by v.
func FromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DefaultOutputDir is the archive directory under the XDG data home.
func DefaultOutputDir() string {
	return filepath.Join(xdg.DataHome, "recurse-archiver", "archives")
}

// DefaultSQLitePath is the history database under the XDG data home.
func DefaultSQLitePath() string {
	return filepath.Join(xdg.DataHome, "recurse-archiver", "history.db")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("archive.max_depth", 3)
	v.SetDefault("archive.max_pages", 50)
	v.SetDefault("archive.delay_ms", 500)
	v.SetDefault("archive.timeout_ms", 30000)
	v.SetDefault("archive.smart_discovery", true)
	v.SetDefault("archive.max_sitemaps", 0)
	v.SetDefault("archive.include_assets.images", true)
	v.SetDefault("archive.include_assets.css", true)
	v.SetDefault("archive.include_assets.js", true)
	v.SetDefault("archive.include_assets.fonts", true)
	v.SetDefault("archive.include_assets.media", true)
	v.SetDefault("analyze.max_pages", 500)
	v.SetDefault("analyze.delay_ms", 200)
	v.SetDefault("analyze.timeout_ms", 15000)
	v.SetDefault("capture.driver", DriverChromedp)
	v.SetDefault("capture.headless", true)
	v.SetDefault("capture.user_agent", "recurse-archiver/0.1")
	v.SetDefault("capture.max_parallel", 2)
	v.SetDefault("capture.wait_until", "networkidle")
	v.SetDefault("capture.asset_rps", 0)
	v.SetDefault("capture.asset_burst", 4)
	v.SetDefault("export.output_dir", DefaultOutputDir())
	v.SetDefault("export.manifest", true)
	v.SetDefault("export.sitemap", true)
	v.SetDefault("jobs.workers", 2)
	v.SetDefault("jobs.queue_depth", 64)
	v.SetDefault("jobs.max_attempts", 3)
	v.SetDefault("jobs.retry_backoff_ms", 2000)
	v.SetDefault("storage.postgres_table", "archive_jobs")
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "recurse-archiver")
	v.SetDefault("telemetry.sample_ratio", 1.0)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Archive.MaxDepth < 0 {
		return fmt.Errorf("archive.max_depth must be >= 0")
	}
	if c.Archive.MaxPages <= 0 {
		return fmt.Errorf("archive.max_pages must be > 0")
	}
	if c.Archive.DelayMs < 0 || c.Analyze.DelayMs < 0 {
		return fmt.Errorf("delay_ms must be >= 0")
	}
	if c.Archive.TimeoutMs <= 0 || c.Analyze.TimeoutMs <= 0 {
		return fmt.Errorf("timeout_ms must be > 0")
	}
	if c.Analyze.MaxPages <= 0 {
		return fmt.Errorf("analyze.max_pages must be > 0")
	}
	switch c.Capture.Driver {
	case DriverChromedp, DriverHTTP, DriverAuto:
	default:
		return fmt.Errorf("capture.driver must be one of %q, %q, %q", DriverChromedp, DriverHTTP, DriverAuto)
	}
	if c.Capture.AssetRPS < 0 {
		return fmt.Errorf("capture.asset_rps must be >= 0")
	}
	if c.Capture.MaxParallel <= 0 {
		return fmt.Errorf("capture.max_parallel must be > 0")
	}
	if c.Jobs.Workers <= 0 {
		return fmt.Errorf("jobs.workers must be > 0")
	}
	if c.Jobs.QueueDepth <= 0 {
		return fmt.Errorf("jobs.queue_depth must be > 0")
	}
	if c.PubSub.Topic != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic is set")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be between 0 and 1")
	}
	return nil
}

// ArchiveOptions returns the full-capture defaults for seed.
func (c Config) ArchiveOptions(seed string) crawler.Options {
	return crawler.Options{
		SeedURL:        seed,
		MaxDepth:       c.Archive.MaxDepth,
		MaxPages:       c.Archive.MaxPages,
		Delay:          millis(c.Archive.DelayMs),
		Timeout:        millis(c.Archive.TimeoutMs),
		SmartDiscovery: c.Archive.SmartDiscovery,
		MaxSitemaps:    c.Archive.MaxSitemaps,
		IncludeAssets:  c.Archive.IncludeAssets,
		WaitUntil:      c.Capture.WaitUntil,
		Manifest:       c.Export.Manifest,
		Sitemap:        c.Export.Sitemap,
	}
}

// AnalyzeOptions returns the analyze defaults for seed. Depth and discovery
// follow the archive section.
func (c Config) AnalyzeOptions(seed string) crawler.Options {
	opts := c.ArchiveOptions(seed)
	opts.MaxPages = c.Analyze.MaxPages
	opts.Delay = millis(c.Analyze.DelayMs)
	opts.Timeout = millis(c.Analyze.TimeoutMs)
	return opts
}

// RetryBackoff converts jobs.retry_backoff_ms into a duration.
func (c Config) RetryBackoff() time.Duration {
	return millis(c.Jobs.RetryBackoffMs)
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
