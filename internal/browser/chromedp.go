package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/screenshot-service/internal/screenshot"
)

// LauncherConfig controls how Chrome processes are started.
type LauncherConfig struct {
	ExecPath  string
	Headless  bool
	NoSandbox bool
}

// Chromedp launches one Chrome process per pooled browser.
type Chromedp struct {
	cfg    LauncherConfig
	logger *zap.Logger
}

// NewChromedp creates a launcher backed by chromedp's exec allocator.
func NewChromedp(cfg LauncherConfig, logger *zap.Logger) *Chromedp {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chromedp{cfg: cfg, logger: logger}
}

func (c *Chromedp) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption(nil), chromedp.DefaultExecAllocatorOptions[:]...)
	if c.cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	opts = append(opts,
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-accelerated-2d-canvas", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("no-first-run", true),
	)
	if c.cfg.NoSandbox {
		opts = append(opts,
			chromedp.NoSandbox,
			chromedp.Flag("disable-setuid-sandbox", true),
			chromedp.Flag("no-zygote", true),
		)
	}
	if c.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(c.cfg.ExecPath))
	}
	return opts
}

// Launch starts Chrome and waits until it accepts commands or ctx ends.
func (c *Chromedp) Launch(ctx context.Context) (screenshot.Browser, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), c.allocatorOptions()...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// The first Run allocates the process; it must run on browserCtx itself
	// since a derived deadline would kill the browser when it fires.
	if err := startOn(ctx, browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("start chrome: %w", err)
	}
	c.logger.Debug("chrome started")
	return &chromeBrowser{ctx: browserCtx, cancel: browserCancel, allocCancel: allocCancel}, nil
}

type chromeBrowser struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	closeOnce   sync.Once
	closeErr    error
}

// NewPage opens a new tab.
func (b *chromeBrowser) NewPage(ctx context.Context) (screenshot.Page, error) {
	tabCtx, tabCancel := chromedp.NewContext(b.ctx)
	if err := startOn(ctx, tabCtx); err != nil {
		tabCancel()
		return nil, fmt.Errorf("open tab: %w", err)
	}
	return &chromePage{ctx: tabCtx, cancel: tabCancel}, nil
}

// Close terminates the Chrome process.
func (b *chromeBrowser) Close() error {
	b.closeOnce.Do(func() {
		if err := chromedp.Cancel(b.ctx); err != nil && !errors.Is(err, context.Canceled) {
			b.closeErr = fmt.Errorf("cancel browser: %w", err)
		}
		b.cancel()
		b.allocCancel()
	})
	return b.closeErr
}

type chromePage struct {
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	closeErr  error
}

func (p *chromePage) SetUserAgent(ctx context.Context, ua screenshot.UserAgent) error {
	return run(ctx, p.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		if err := emulation.SetUserAgentOverride(string(ua)).Do(ctx); err != nil {
			return fmt.Errorf("set user-agent: %w", err)
		}
		return nil
	}))
}

func (p *chromePage) SetViewport(ctx context.Context, width, height int) error {
	return run(ctx, p.ctx, chromedp.EmulateViewport(int64(width), int64(height)))
}

func (p *chromePage) BlockURLs(ctx context.Context, patterns []string) error {
	if len(patterns) == 0 {
		return nil
	}
	return run(ctx, p.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if err := network.SetBlockedURLs(patterns).Do(ctx); err != nil {
			return fmt.Errorf("set blocked urls: %w", err)
		}
		return nil
	}))
}

func (p *chromePage) Navigate(ctx context.Context, url string, wait screenshot.WaitCondition) error {
	event := lifecycleEvent(wait)
	if event == "" {
		return run(ctx, p.ctx, chromedp.Navigate(url))
	}
	watcher := newLifecycleWatcher(event)
	listenCtx, stopListening := context.WithCancel(p.ctx)
	defer stopListening()
	chromedp.ListenTarget(listenCtx, watcher.handle)

	return run(ctx, p.ctx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			if err := page.SetLifecycleEventsEnabled(true).Do(ctx); err != nil {
				return fmt.Errorf("enable lifecycle events: %w", err)
			}
			return nil
		}),
		chromedp.Navigate(url),
		chromedp.ActionFunc(watcher.wait),
	)
}

func (p *chromePage) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	var buf []byte
	action := chromedp.CaptureScreenshot(&buf)
	if fullPage {
		// Quality 100 keeps PNG encoding.
		action = chromedp.FullScreenshot(&buf, 100)
	}
	if err := run(ctx, p.ctx, action); err != nil {
		return nil, err
	}
	return buf, nil
}

// Close closes the tab. The browser stays alive.
func (p *chromePage) Close() error {
	p.closeOnce.Do(func() {
		if err := chromedp.Cancel(p.ctx); err != nil && !errors.Is(err, context.Canceled) {
			p.closeErr = fmt.Errorf("close tab: %w", err)
		}
		p.cancel()
	})
	return p.closeErr
}

// lifecycleEvent maps network-idle conditions to Chrome lifecycle events.
// Load-based conditions return "" and rely on Navigate's own load wait.
func lifecycleEvent(wait screenshot.WaitCondition) string {
	switch wait {
	case screenshot.WaitNetworkIdle0:
		return "networkIdle"
	case screenshot.WaitNetworkIdle2:
		return "networkAlmostIdle"
	default:
		return ""
	}
}

// lifecycleWatcher tracks lifecycle events of the most recent document. An
// "init" event starts a new document and resets what was seen.
type lifecycleWatcher struct {
	target  string
	mu      sync.Mutex
	seen    map[string]bool
	changed chan struct{}
}

func newLifecycleWatcher(target string) *lifecycleWatcher {
	return &lifecycleWatcher{target: target, seen: map[string]bool{}, changed: make(chan struct{})}
}

func (w *lifecycleWatcher) handle(ev any) {
	e, ok := ev.(*page.EventLifecycleEvent)
	if !ok {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if e.Name == "init" {
		w.seen = map[string]bool{}
	}
	w.seen[e.Name] = true
	close(w.changed)
	w.changed = make(chan struct{})
}

func (w *lifecycleWatcher) wait(ctx context.Context) error {
	for {
		w.mu.Lock()
		reached := w.seen[w.target]
		changed := w.changed
		w.mu.Unlock()
		if reached {
			return nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return fmt.Errorf("wait for %s: %w", w.target, ctx.Err())
		}
	}
}

// run executes actions on target, bounded by ctx's deadline and
// cancellation. target must already be started.
func run(ctx, target context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(target)
	defer cancel()
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
		defer cancelDeadline()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			return fmt.Errorf("chromedp run: %w (%w)", ctxErr, err)
		}
		return fmt.Errorf("chromedp run: %w", err)
	}
	return nil
}

// startOn performs the allocating first Run on target while honoring ctx.
func startOn(ctx, target context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- chromedp.Run(target) }()
	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("chromedp run: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("chromedp start: %w", ctx.Err())
	}
}
