package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/screenshot-service/internal/config"
	memorypublisher "github.com/JakeFAU/screenshot-service/internal/publisher/memory"
	"github.com/JakeFAU/screenshot-service/internal/screenshot"
	"github.com/JakeFAU/screenshot-service/internal/screenshot/screenshottest"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Capture.OutputDir = filepath.Join(t.TempDir(), "shots")
	cfg.Storage.Backend = config.StorageLocal
	cfg.Storage.BaseDir = filepath.Join(t.TempDir(), "blobs")
	cfg.Browser.ReapInterval = time.Hour
	return &cfg
}

func buildApp(t *testing.T, cfg *config.Config, opts ...Option) (*App, *screenshottest.Launcher) {
	t.Helper()
	launcher := &screenshottest.Launcher{}
	opts = append([]Option{WithLogger(zap.NewNop()), WithLauncher(launcher)}, opts...)
	app, err := Build(context.Background(), cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, app.Close(ctx))
	})
	return app, launcher
}

func TestCaptureEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	pub := memorypublisher.New()
	app, launcher := buildApp(t, cfg, WithPublisher(pub, "captures"))

	body := []byte(`{"url":"https://example.com","resolution":"1366x768"}`)
	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/screenshot", bytes.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Success bool `json:"success"`
		Data    struct {
			ID  string `json:"id"`
			URL string `json:"url"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Success)
	require.NotEmpty(t, resp.Data.ID)
	require.Equal(t, "/screenshots/"+resp.Data.ID+".png", resp.Data.URL)

	data, err := os.ReadFile(filepath.Join(cfg.Capture.OutputDir, resp.Data.ID+".png"))
	require.NoError(t, err)
	require.Equal(t, screenshottest.PNG, data)
	mirrored, err := os.ReadFile(filepath.Join(cfg.Storage.BaseDir, "screenshots", resp.Data.ID+".png"))
	require.NoError(t, err)
	require.Equal(t, screenshottest.PNG, mirrored)

	page := launcher.Browsers()[0].Pages()[0]
	require.Equal(t, 1366, page.Width)
	require.Equal(t, 768, page.Height)
	require.True(t, page.FullPage)
	require.Equal(t, screenshot.WaitNetworkIdle2, page.Wait)

	events, err := pub.Events("captures")
	require.NoError(t, err)
	require.Len(t, events, 1)
	event := events[0]
	require.Equal(t, resp.Data.ID, event.ID)
	require.NotEmpty(t, event.Hash)
	require.Contains(t, event.BlobURI, "file://")

	rec = httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, resp.Data.URL, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, screenshottest.PNG, rec.Body.Bytes())

	rec = httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/screenshots/"+resp.Data.ID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"sourceUrl":"https://example.com"`)

	rec = httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"totalOperations":1`)
}

func TestUnsafeURLNeverReachesBrowser(t *testing.T) {
	cfg := testConfig(t)
	app, launcher := buildApp(t, cfg)

	rec := httptest.NewRecorder()
	body := []byte(`{"url":"http://169.254.169.254/latest/meta-data"}`)
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/screenshot", bytes.NewReader(body)))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "INVALID_URL")
	require.Zero(t, launcher.Launches())
}

func TestAppCaptureDirect(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Backend = config.StorageNone
	cfg.RateLimit.Enabled = false
	app, _ := buildApp(t, cfg)

	record, err := app.Capture(context.Background(), screenshot.Request{URL: "https://example.com"})
	require.NoError(t, err)
	require.Empty(t, record.BlobURI)
	require.Equal(t, len(screenshottest.PNG), record.Bytes)
	require.FileExists(t, record.Path)
}

func TestCloseReleasesBrowsersAndFlipsReadiness(t *testing.T) {
	cfg := testConfig(t)
	app, launcher := buildApp(t, cfg)

	_, err := app.Capture(context.Background(), screenshot.Request{URL: "https://example.com"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, app.Close(ctx))
	for _, b := range launcher.Browsers() {
		require.True(t, b.Closed())
	}

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestBuildFailsOnBadStorage(t *testing.T) {
	cfg := testConfig(t)
	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, nil, 0o600))
	cfg.Storage.BaseDir = file

	_, err := Build(context.Background(), cfg, WithLogger(zap.NewNop()), WithLauncher(&screenshottest.Launcher{}))
	require.ErrorContains(t, err, "local blob store init failed")
}
