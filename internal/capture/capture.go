// Package capture renders one screenshot with a pooled browser.
package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/JakeFAU/screenshot-service/internal/screenshot"
)

// DefaultScreenshotTimeout bounds the image-capture step.
const DefaultScreenshotTimeout = 30 * time.Second

var tracer = otel.Tracer("github.com/JakeFAU/screenshot-service/internal/capture")

// BrowserPool is the subset of browser.Pool the capturer needs.
type BrowserPool interface {
	Acquire(ctx context.Context) (screenshot.Browser, error)
	Release(b screenshot.Browser)
}

// Config controls capture behavior.
type Config struct {
	// ScreenshotTimeout bounds the screenshot step independently of navigation.
	ScreenshotTimeout time.Duration
	// BlockPatterns are applied when a request enables ad blocking.
	BlockPatterns []string
}

// Result describes a stored image.
type Result struct {
	Path     string
	Width    int
	Height   int
	Bytes    int
	Duration time.Duration
}

// Capturer holds exactly one pool slot per in-flight capture.
type Capturer struct {
	pool   BrowserPool
	cfg    Config
	logger *zap.Logger
}

// New constructs a Capturer.
func New(pool BrowserPool, cfg Config, logger *zap.Logger) (*Capturer, error) {
	if pool == nil {
		return nil, fmt.Errorf("browser pool is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ScreenshotTimeout <= 0 {
		cfg.ScreenshotTimeout = DefaultScreenshotTimeout
	}
	return &Capturer{pool: pool, cfg: cfg, logger: logger}, nil
}

// Capture renders req.URL and writes the image to outputPath. The browser is
// released on every exit path; page-close failures are logged and never
// replace the primary outcome.
func (c *Capturer) Capture(ctx context.Context, req screenshot.Request, outputPath string) (res Result, err error) {
	ctx, span := tracer.Start(ctx, "capture")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, string(screenshot.KindOf(err)))
		}
		span.End()
	}()

	start := time.Now()
	width, height := req.Resolution.Dimensions()
	span.SetAttributes(
		attribute.String("screenshot.url", req.URL),
		attribute.Int("screenshot.width", width),
		attribute.Int("screenshot.height", height),
	)

	b, err := c.pool.Acquire(ctx)
	if err != nil {
		return Result{}, err
	}
	defer c.pool.Release(b)

	p, err := b.NewPage(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("%w: open page: %w", screenshot.ErrCaptureFailed, err)
	}
	defer func() {
		if closeErr := p.Close(); closeErr != nil {
			c.logger.Warn("page close failed", zap.String("url", req.URL), zap.Error(closeErr))
		}
	}()

	if err := c.preparePage(ctx, p, req, width, height); err != nil {
		return Result{}, err
	}

	navCtx, cancelNav := context.WithTimeout(ctx, req.NavigationTimeout())
	err = p.Navigate(navCtx, req.URL, req.WaitCondition())
	cancelNav()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Result{}, fmt.Errorf("%w after %s: %w", screenshot.ErrNavigationTimeout, req.NavigationTimeout(), err)
		}
		return Result{}, fmt.Errorf("%w: %w", screenshot.ErrNavigationFailed, err)
	}

	shotCtx, cancelShot := context.WithTimeout(ctx, c.cfg.ScreenshotTimeout)
	data, err := p.Screenshot(shotCtx, req.WantsFullPage())
	cancelShot()
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", screenshot.ErrCaptureFailed, err)
	}
	if err := writeFile(outputPath, data); err != nil {
		return Result{}, fmt.Errorf("%w: %w", screenshot.ErrCaptureFailed, err)
	}

	return Result{
		Path:     outputPath,
		Width:    width,
		Height:   height,
		Bytes:    len(data),
		Duration: time.Since(start),
	}, nil
}

func (c *Capturer) preparePage(ctx context.Context, p screenshot.Page, req screenshot.Request, width, height int) error {
	if req.UserAgent != "" {
		if err := p.SetUserAgent(ctx, req.UserAgent); err != nil {
			return fmt.Errorf("%w: set user agent: %w", screenshot.ErrCaptureFailed, err)
		}
	}
	if err := p.SetViewport(ctx, width, height); err != nil {
		return fmt.Errorf("%w: set viewport: %w", screenshot.ErrCaptureFailed, err)
	}
	if req.EnableAdblock && len(c.cfg.BlockPatterns) > 0 {
		if err := p.BlockURLs(ctx, c.cfg.BlockPatterns); err != nil {
			return fmt.Errorf("%w: install blocklist: %w", screenshot.ErrCaptureFailed, err)
		}
	}
	return nil
}

func writeFile(path string, data []byte) error {
	if path == "" {
		return fmt.Errorf("output path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write image: %w", err)
	}
	return nil
}
