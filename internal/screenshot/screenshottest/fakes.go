// Package screenshottest provides in-memory browser fakes for tests that
// exercise the pool and capture pipeline without a real Chrome.
package screenshottest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/JakeFAU/screenshot-service/internal/screenshot"
)

// PNG is a minimal payload returned by fake screenshots.
var PNG = []byte("\x89PNG\r\n\x1a\nfake")

// Launcher counts launches and hands out Browser fakes.
type Launcher struct {
	mu       sync.Mutex
	browsers []*Browser
	launches atomic.Int32

	// Err, when set, fails every launch.
	Err error
	// Delay is slept (context-aware) before each launch finishes.
	Delay time.Duration
	// Page configures the pages opened by launched browsers.
	Page PageBehavior
}

// Launch implements screenshot.Launcher.
func (l *Launcher) Launch(ctx context.Context) (screenshot.Browser, error) {
	l.launches.Add(1)
	if l.Delay > 0 {
		select {
		case <-time.After(l.Delay):
		case <-ctx.Done():
			return nil, fmt.Errorf("launch wait: %w", ctx.Err())
		}
	}
	if l.Err != nil {
		return nil, l.Err
	}
	b := &Browser{page: l.Page}
	l.mu.Lock()
	l.browsers = append(l.browsers, b)
	l.mu.Unlock()
	return b, nil
}

// Launches reports how many launches were attempted.
func (l *Launcher) Launches() int {
	return int(l.launches.Load())
}

// Browsers returns the browsers launched so far.
func (l *Launcher) Browsers() []*Browser {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*Browser, len(l.browsers))
	copy(out, l.browsers)
	return out
}

// PageBehavior controls how fake pages respond.
type PageBehavior struct {
	NavigateErr   error
	ScreenshotErr error
	CloseErr      error
	NewPageErr    error
	// NavigateDelay is slept (context-aware) during Navigate.
	NavigateDelay time.Duration
	// ScreenshotDelay is slept (context-aware) during Screenshot.
	ScreenshotDelay time.Duration
}

// Browser is a fake screenshot.Browser.
type Browser struct {
	mu       sync.Mutex
	page     PageBehavior
	pages    []*Page
	closed   bool
	CloseErr error
}

// NewPage implements screenshot.Browser.
func (b *Browser) NewPage(_ context.Context) (screenshot.Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errors.New("browser closed")
	}
	if b.page.NewPageErr != nil {
		return nil, b.page.NewPageErr
	}
	p := &Page{behavior: b.page}
	b.pages = append(b.pages, p)
	return p, nil
}

// Close implements screenshot.Browser.
func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return b.CloseErr
}

// Closed reports whether Close was called.
func (b *Browser) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Pages returns the pages opened on this browser.
func (b *Browser) Pages() []*Page {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Page, len(b.pages))
	copy(out, b.pages)
	return out
}

// Page is a fake screenshot.Page that records the calls made against it.
type Page struct {
	mu        sync.Mutex
	behavior  PageBehavior
	UserAgent screenshot.UserAgent
	Width     int
	Height    int
	Blocked   []string
	URL       string
	Wait      screenshot.WaitCondition
	FullPage  bool
	closed    bool
}

// SetUserAgent implements screenshot.Page.
func (p *Page) SetUserAgent(_ context.Context, ua screenshot.UserAgent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.UserAgent = ua
	return nil
}

// SetViewport implements screenshot.Page.
func (p *Page) SetViewport(_ context.Context, width, height int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Width, p.Height = width, height
	return nil
}

// BlockURLs implements screenshot.Page.
func (p *Page) BlockURLs(_ context.Context, patterns []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Blocked = append([]string(nil), patterns...)
	return nil
}

// Navigate implements screenshot.Page.
func (p *Page) Navigate(ctx context.Context, url string, wait screenshot.WaitCondition) error {
	p.mu.Lock()
	p.URL, p.Wait = url, wait
	behavior := p.behavior
	p.mu.Unlock()
	if err := sleep(ctx, behavior.NavigateDelay); err != nil {
		return err
	}
	return behavior.NavigateErr
}

// Screenshot implements screenshot.Page.
func (p *Page) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	p.mu.Lock()
	p.FullPage = fullPage
	behavior := p.behavior
	p.mu.Unlock()
	if err := sleep(ctx, behavior.ScreenshotDelay); err != nil {
		return nil, err
	}
	if behavior.ScreenshotErr != nil {
		return nil, behavior.ScreenshotErr
	}
	return append([]byte(nil), PNG...), nil
}

// Close implements screenshot.Page.
func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return p.behavior.CloseErr
}

// Closed reports whether Close was called.
func (p *Page) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("fake wait: %w", ctx.Err())
	}
}

// Clock is a settable clock.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a Clock fixed at now.
func NewClock(now time.Time) *Clock {
	return &Clock{now: now}
}

// Now implements screenshot.Clock.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Recorder collects capture metrics.
type Recorder struct {
	mu      sync.Mutex
	metrics []screenshot.CaptureMetrics
}

// RecordCapture implements screenshot.Recorder.
func (r *Recorder) RecordCapture(m screenshot.CaptureMetrics) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics = append(r.metrics, m)
}

// Metrics returns the recorded samples.
func (r *Recorder) Metrics() []screenshot.CaptureMetrics {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]screenshot.CaptureMetrics, len(r.metrics))
	copy(out, r.metrics)
	return out
}
