package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/screenshot-service/internal/config"
	"github.com/JakeFAU/screenshot-service/internal/screenshot"
)

type fakeService struct {
	record  screenshot.Record
	err     error
	req     screenshot.Request
	ran     bool
	closed  bool
	rateOff bool
}

func (f *fakeService) Run(context.Context) error {
	f.ran = true
	return context.Canceled
}

func (f *fakeService) Capture(_ context.Context, req screenshot.Request) (screenshot.Record, error) {
	f.req = req
	return f.record, f.err
}

func (f *fakeService) Close(context.Context) error {
	f.closed = true
	return nil
}

// These tests swap the package-level factory, so they do not run in parallel.
func withFakeApp(t *testing.T, svc *fakeService) {
	t.Helper()
	orig := newApp
	newApp = func(_ context.Context, cfg *config.Config) (service, error) {
		svc.rateOff = !cfg.RateLimit.Enabled
		return svc, nil
	}
	t.Cleanup(func() { newApp = orig })
}

func execute(args ...string) (string, error) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCaptureCommandCopiesImageAndPrintsRecord(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "shot.png")
	require.NoError(t, os.WriteFile(src, []byte("png"), 0o600))
	svc := &fakeService{record: screenshot.Record{ID: "shot", URL: "https://example.com", Path: src}}
	withFakeApp(t, svc)

	dst := filepath.Join(dir, "out", "copy.png")
	out, err := execute("capture", "--url", "https://example.com", "--resolution", "1920x1080", "--full-page=false", "--out", dst)
	require.NoError(t, err)

	var record screenshot.Record
	require.NoError(t, json.Unmarshal([]byte(out), &record))
	require.Equal(t, "shot", record.ID)
	require.Equal(t, dst, record.Path)
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, "png", string(data))

	require.Equal(t, screenshot.Resolution1920x1080, svc.req.Resolution)
	require.False(t, svc.req.WantsFullPage())
	require.True(t, svc.closed)
	require.True(t, svc.rateOff)
}

func TestCaptureCommandReportsKind(t *testing.T) {
	svc := &fakeService{err: errors.Join(screenshot.ErrUnsafeURL, errors.New("loopback"))}
	withFakeApp(t, svc)

	_, err := execute("capture", "--url", "http://127.0.0.1")
	require.ErrorIs(t, err, screenshot.ErrUnsafeURL)
	require.ErrorContains(t, err, "UnsafeUrl")
	require.True(t, svc.closed)
}

func TestCaptureCommandRequiresURL(t *testing.T) {
	withFakeApp(t, &fakeService{})
	_, err := execute("capture")
	require.ErrorContains(t, err, "url")
}

func TestServeCommandRunsApp(t *testing.T) {
	svc := &fakeService{}
	withFakeApp(t, svc)
	_, err := execute("serve")
	require.NoError(t, err)
	require.True(t, svc.ran)
}

func TestRootRejectsBadConfig(t *testing.T) {
	withFakeApp(t, &fakeService{})
	_, err := execute("serve", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "load config")
}

func TestEnvFilePopulatesConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("SCREENSHOT_QUEUE_MAX_CONCURRENT=7\n"), 0o600))
	t.Setenv("SCREENSHOT_QUEUE_MAX_CONCURRENT", "")
	require.NoError(t, os.Unsetenv("SCREENSHOT_QUEUE_MAX_CONCURRENT"))

	var seen int
	orig := newApp
	newApp = func(_ context.Context, cfg *config.Config) (service, error) {
		seen = cfg.Queue.MaxConcurrent
		return &fakeService{}, nil
	}
	t.Cleanup(func() { newApp = orig })

	_, err := execute("serve", "--env-file", path)
	require.NoError(t, err)
	require.Equal(t, 7, seen)
}

func TestMissingEnvFileIsIgnored(t *testing.T) {
	require.NoError(t, loadEnvFile(filepath.Join(t.TempDir(), "absent.env")))
	require.NoError(t, loadEnvFile(""))
}
