package config

import (
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/screenshot-service/internal/screenshot"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 3000, cfg.Server.Port)
	require.Equal(t, 90*time.Second, cfg.Server.RequestTimeout)
	require.Equal(t, "/screenshots", cfg.Server.StaticPrefix)
	require.Empty(t, cfg.Server.TrustedProxies)
	require.Equal(t, 3, cfg.Browser.PoolSize)
	require.Equal(t, 5*time.Minute, cfg.Browser.IdleTimeout)
	require.True(t, cfg.Browser.Headless)
	require.Equal(t, 2, cfg.Queue.MaxConcurrent)
	require.Equal(t, "networkidle2", cfg.Capture.WaitUntil)
	require.True(t, cfg.Capture.FullPage)
	require.Equal(t, "1280x720", cfg.Capture.DefaultResolution)
	require.Equal(t, StorageNone, cfg.Storage.Backend)
	require.True(t, cfg.RateLimit.Enabled)
	require.Equal(t, 10, cfg.RateLimit.Max)
	require.Equal(t, time.Minute, cfg.RateLimit.Window)
	require.Equal(t, 1000, cfg.Metrics.HistorySize)
	require.Equal(t, "screenshot-service", cfg.Telemetry.ServiceName)
	require.InDelta(t, 1.0, cfg.Telemetry.SampleRatio, 0.0001)
	require.Equal(t, screenshot.Limits{MaxWidth: 1920, MaxHeight: 1080}, cfg.Limits())
}

func TestLoadWithFileOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	configYAML := `
server:
  port: 9090
  request_timeout: 2m
auth:
  enabled: true
  api_key: secret
browser:
  pool_size: 5
  idle_timeout: 1m
  exec_path: /usr/bin/chromium
queue:
  max_concurrent: 4
capture:
  navigation_timeout: 15s
  wait_until: load
  full_page: false
  extended_resolutions: true
  max_width: 3840
  max_height: 2160
  default_resolution: 3840x2160
  adblock_domains: ["ads.example"]
storage:
  backend: gcs
  bucket: shots
database:
  dsn: postgres://localhost/shots
  max_conns: 8
pubsub:
  project_id: proj
  topic_name: captures
rate_limit:
  backend: redis
  redis_url: redis://localhost:6379/0
  max: 20
logging:
  development: false
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, 2*time.Minute, cfg.Server.RequestTimeout)
	require.True(t, cfg.Auth.Enabled)
	require.Equal(t, "secret", cfg.Auth.APIKey)
	require.Equal(t, 5, cfg.Browser.PoolSize)
	require.Equal(t, "/usr/bin/chromium", cfg.Browser.ExecPath)
	require.Equal(t, 4, cfg.Queue.MaxConcurrent)
	require.Equal(t, 15*time.Second, cfg.Capture.NavigationTimeout)
	require.False(t, cfg.Capture.FullPage)
	require.Equal(t, []string{"ads.example"}, cfg.Capture.AdblockDomains)
	require.Equal(t, "shots", cfg.Storage.Bucket)
	require.Equal(t, int32(8), cfg.Database.MaxConns)
	require.Equal(t, "captures", cfg.PubSub.TopicName)
	require.Equal(t, RateLimitRedis, cfg.RateLimit.Backend)
	require.Equal(t, 20, cfg.RateLimit.Max)
	require.False(t, cfg.Logging.Development)
	require.Equal(t, "debug", cfg.Logging.Level)
	require.True(t, cfg.Limits().AllowExtended)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("PORT", "4000")
	t.Setenv("SCREENSHOT_QUEUE_MAX_CONCURRENT", "6")
	t.Setenv("SCREENSHOT_RATE_LIMIT_ENABLED", "false")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 4000, cfg.Server.Port)
	require.Equal(t, 6, cfg.Queue.MaxConcurrent)
	require.False(t, cfg.RateLimit.Enabled)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "read config")
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base, err := Load("")
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"invalid port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"trusted proxy", func(c *Config) { c.Server.TrustedProxies = []string{"10.0.0.0/33"} }, "server.trusted_proxies"},
		{"trusted proxy name", func(c *Config) { c.Server.TrustedProxies = []string{"proxy.internal"} }, "server.trusted_proxies"},
		{"auth missing api key", func(c *Config) { c.Auth.Enabled = true }, "auth.api_key"},
		{"log level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"pool size", func(c *Config) { c.Browser.PoolSize = 0 }, "browser.pool_size"},
		{"concurrency", func(c *Config) { c.Queue.MaxConcurrent = 0 }, "queue.max_concurrent"},
		{"navigation timeout", func(c *Config) { c.Capture.NavigationTimeout = 0 }, "capture.navigation_timeout"},
		{"screenshot timeout", func(c *Config) { c.Capture.ScreenshotTimeout = 0 }, "capture.screenshot_timeout"},
		{"output dir", func(c *Config) { c.Capture.OutputDir = "" }, "capture.output_dir"},
		{"wait condition", func(c *Config) { c.Capture.WaitUntil = "whenever" }, "capture.wait_until"},
		{"extended default without flag", func(c *Config) { c.Capture.DefaultResolution = "3840x2160" }, "capture.default_resolution"},
		{"unknown storage", func(c *Config) { c.Storage.Backend = "s3" }, "storage.backend"},
		{"gcs without bucket", func(c *Config) { c.Storage.Backend = StorageGCS }, "storage.bucket"},
		{"local without dir", func(c *Config) { c.Storage.Backend = StorageLocal; c.Storage.BaseDir = "" }, "storage.base_dir"},
		{"half pubsub", func(c *Config) { c.PubSub.ProjectID = "p" }, "pubsub"},
		{"rate max", func(c *Config) { c.RateLimit.Max = 0 }, "rate_limit.max"},
		{"rate window", func(c *Config) { c.RateLimit.Window = 0 }, "rate_limit.window"},
		{"redis without url", func(c *Config) { c.RateLimit.Backend = RateLimitRedis }, "rate_limit.redis_url"},
		{"sample ratio", func(c *Config) { c.Telemetry.SampleRatio = 1.5 }, "telemetry.sample_ratio"},
		{"unknown rate backend", func(c *Config) { c.RateLimit.Backend = "memcached" }, "rate_limit.backend"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			require.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}

func TestTrustedProxyPrefixes(t *testing.T) {
	t.Parallel()

	cfg := ServerConfig{TrustedProxies: []string{"10.1.2.3/8", " 192.0.2.7 ", "", "::ffff:198.51.100.1", "2001:db8::/32"}}
	got, err := cfg.TrustedProxyPrefixes()
	require.NoError(t, err)
	require.Equal(t, []netip.Prefix{
		netip.MustParsePrefix("10.0.0.0/8"),
		netip.MustParsePrefix("192.0.2.7/32"),
		netip.MustParsePrefix("198.51.100.1/32"),
		netip.MustParsePrefix("2001:db8::/32"),
	}, got)

	empty, err := ServerConfig{}.TrustedProxyPrefixes()
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestDisabledRateLimitSkipsChecks(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)
	cfg.RateLimit = RateLimitConfig{Enabled: false}
	require.NoError(t, cfg.Validate())
}
