// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/screenshot-service/internal/screenshot"
)

// Storage backends.
const (
	StorageNone   = "none"
	StorageMemory = "memory"
	StorageLocal  = "local"
	StorageGCS    = "gcs"
)

// Rate limit backends.
const (
	RateLimitMemory = "memory"
	RateLimitRedis  = "redis"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Capture   CaptureConfig   `mapstructure:"capture"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Database  DatabaseConfig  `mapstructure:"database"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	StaticPrefix   string        `mapstructure:"static_prefix"`
	// TrustedProxies lists IPs or CIDRs whose forwarding headers name the
	// real client. Empty means the connection address is always used.
	TrustedProxies []string `mapstructure:"trusted_proxies"`
}

// TrustedProxyPrefixes parses TrustedProxies. Bare addresses become
// single-host prefixes.
func (c ServerConfig) TrustedProxyPrefixes() ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(c.TrustedProxies))
	for _, raw := range c.TrustedProxies {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if strings.Contains(raw, "/") {
			prefix, err := netip.ParsePrefix(raw)
			if err != nil {
				return nil, fmt.Errorf("server.trusted_proxies entry %q is not an IP or CIDR", raw)
			}
			prefixes = append(prefixes, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("server.trusted_proxies entry %q is not an IP or CIDR", raw)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig selects the zap encoder and minimum level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// BrowserConfig sizes the browser pool and describes how Chrome is launched.
type BrowserConfig struct {
	PoolSize       int           `mapstructure:"pool_size"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	ReapInterval   time.Duration `mapstructure:"reap_interval"`
	AcquireTimeout time.Duration `mapstructure:"acquire_timeout"`
	LaunchTimeout  time.Duration `mapstructure:"launch_timeout"`
	ExecPath       string        `mapstructure:"exec_path"`
	Headless       bool          `mapstructure:"headless"`
	NoSandbox      bool          `mapstructure:"no_sandbox"`
}

// QueueConfig bounds concurrent captures.
type QueueConfig struct {
	MaxConcurrent int `mapstructure:"max_concurrent"`
}

// CaptureConfig holds per-capture defaults and limits.
type CaptureConfig struct {
	NavigationTimeout   time.Duration `mapstructure:"navigation_timeout"`
	ScreenshotTimeout   time.Duration `mapstructure:"screenshot_timeout"`
	WaitUntil           string        `mapstructure:"wait_until"`
	FullPage            bool          `mapstructure:"full_page"`
	DefaultResolution   string        `mapstructure:"default_resolution"`
	ExtendedResolutions bool          `mapstructure:"extended_resolutions"`
	MaxWidth            int           `mapstructure:"max_width"`
	MaxHeight           int           `mapstructure:"max_height"`
	OutputDir           string        `mapstructure:"output_dir"`
	AdblockDomains      []string      `mapstructure:"adblock_domains"`
}

// StorageConfig selects where captured images are mirrored.
type StorageConfig struct {
	Backend      string `mapstructure:"backend"`
	BaseDir      string `mapstructure:"base_dir"`
	Bucket       string `mapstructure:"bucket"`
	Prefix       string `mapstructure:"prefix"`
	CacheControl string `mapstructure:"cache_control"`
}

// DatabaseConfig controls the Postgres record store. An empty DSN keeps
// records in memory.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// PubSubConfig holds metadata for capture notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// RateLimitConfig bounds API requests per client IP.
type RateLimitConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Max      int           `mapstructure:"max"`
	Window   time.Duration `mapstructure:"window"`
	Backend  string        `mapstructure:"backend"`
	RedisURL string        `mapstructure:"redis_url"`
	IdleTTL  time.Duration `mapstructure:"idle_ttl"`
}

// MetricsConfig tunes the in-process performance monitor.
type MetricsConfig struct {
	SlowThreshold time.Duration `mapstructure:"slow_threshold"`
	HistorySize   int           `mapstructure:"history_size"`
}

// TelemetryConfig controls trace sampling.
type TelemetryConfig struct {
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCREENSHOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("server.port", "SCREENSHOT_SERVER_PORT", "PORT"); err != nil {
		return Config{}, fmt.Errorf("bind port env: %w", err)
	}

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
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.request_timeout", 90*time.Second)
	v.SetDefault("server.static_prefix", "/screenshots")
	v.SetDefault("server.trusted_proxies", []string{})
	v.SetDefault("auth.enabled", false)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("browser.pool_size", 3)
	v.SetDefault("browser.idle_timeout", 5*time.Minute)
	v.SetDefault("browser.reap_interval", time.Minute)
	v.SetDefault("browser.acquire_timeout", 10*time.Second)
	v.SetDefault("browser.launch_timeout", time.Minute)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.no_sandbox", true)
	v.SetDefault("queue.max_concurrent", 2)
	v.SetDefault("capture.navigation_timeout", 30*time.Second)
	v.SetDefault("capture.screenshot_timeout", 30*time.Second)
	v.SetDefault("capture.wait_until", string(screenshot.WaitNetworkIdle2))
	v.SetDefault("capture.full_page", true)
	v.SetDefault("capture.default_resolution", string(screenshot.DefaultResolution))
	v.SetDefault("capture.extended_resolutions", false)
	v.SetDefault("capture.max_width", 1920)
	v.SetDefault("capture.max_height", 1080)
	v.SetDefault("capture.output_dir", "data/screenshots")
	v.SetDefault("capture.adblock_domains", []string{})
	v.SetDefault("storage.backend", StorageNone)
	v.SetDefault("storage.base_dir", "data/blobs")
	v.SetDefault("storage.prefix", "screenshots")
	v.SetDefault("storage.cache_control", "public, max-age=31536000, immutable")
	v.SetDefault("database.table", "screenshots")
	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.max", 10)
	v.SetDefault("rate_limit.window", time.Minute)
	v.SetDefault("rate_limit.backend", RateLimitMemory)
	v.SetDefault("rate_limit.idle_ttl", 10*time.Minute)
	v.SetDefault("metrics.slow_threshold", 10*time.Second)
	v.SetDefault("metrics.history_size", 1000)
	v.SetDefault("telemetry.service_name", "screenshot-service")
	v.SetDefault("telemetry.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if _, err := c.Server.TrustedProxyPrefixes(); err != nil {
		return err
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level %q is not a zap level", c.Logging.Level)
	}
	if c.Browser.PoolSize <= 0 {
		return fmt.Errorf("browser.pool_size must be > 0")
	}
	if c.Queue.MaxConcurrent <= 0 {
		return fmt.Errorf("queue.max_concurrent must be > 0")
	}
	if c.Capture.NavigationTimeout <= 0 {
		return fmt.Errorf("capture.navigation_timeout must be > 0")
	}
	if c.Capture.ScreenshotTimeout <= 0 {
		return fmt.Errorf("capture.screenshot_timeout must be > 0")
	}
	if c.Capture.OutputDir == "" {
		return fmt.Errorf("capture.output_dir is required")
	}
	if c.Capture.MaxWidth <= 0 || c.Capture.MaxHeight <= 0 {
		return fmt.Errorf("capture.max_width and capture.max_height must be > 0")
	}
	if c.Capture.WaitUntil != "" {
		if !screenshot.WaitCondition(c.Capture.WaitUntil).Valid() {
			return fmt.Errorf("capture.wait_until %q is not supported", c.Capture.WaitUntil)
		}
	}
	if c.Capture.DefaultResolution != "" {
		sample := screenshot.Request{URL: "x", Resolution: screenshot.Resolution(c.Capture.DefaultResolution)}
		if err := sample.Validate(c.Limits()); err != nil {
			return fmt.Errorf("capture.default_resolution %q is not supported", c.Capture.DefaultResolution)
		}
	}
	switch c.Storage.Backend {
	case "", StorageNone, StorageMemory:
	case StorageLocal:
		if c.Storage.BaseDir == "" {
			return fmt.Errorf("storage.base_dir is required for the local backend")
		}
	case StorageGCS:
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend)
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set together")
	}
	if c.RateLimit.Enabled {
		if c.RateLimit.Max <= 0 {
			return fmt.Errorf("rate_limit.max must be > 0")
		}
		if c.RateLimit.Window <= 0 {
			return fmt.Errorf("rate_limit.window must be > 0")
		}
		switch c.RateLimit.Backend {
		case "", RateLimitMemory:
		case RateLimitRedis:
			if c.RateLimit.RedisURL == "" {
				return fmt.Errorf("rate_limit.redis_url is required for the redis backend")
			}
		default:
			return fmt.Errorf("rate_limit.backend %q is not supported", c.RateLimit.Backend)
		}
	}
	if c.Metrics.HistorySize < 0 {
		return fmt.Errorf("metrics.history_size must be >= 0")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be within [0, 1]")
	}
	return nil
}

// Limits converts the capture bounds into request validation limits.
func (c Config) Limits() screenshot.Limits {
	return screenshot.Limits{
		AllowExtended: c.Capture.ExtendedResolutions,
		MaxWidth:      c.Capture.MaxWidth,
		MaxHeight:     c.Capture.MaxHeight,
	}
}
