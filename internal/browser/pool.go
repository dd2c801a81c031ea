// Package browser owns the headless-browser processes used for captures: a
// bounded pool with idle reaping and the chromedp launcher that feeds it.
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/screenshot-service/internal/screenshot"
)

// ErrPoolClosed is returned by Acquire after CloseAll.
var ErrPoolClosed = errors.New("browser pool closed")

// Defaults applied by NewPool for zero-valued Config fields.
const (
	DefaultMaxSize        = 3
	DefaultIdleTimeout    = 5 * time.Minute
	DefaultReapInterval   = 60 * time.Second
	DefaultAcquireTimeout = 10 * time.Second
	DefaultLaunchTimeout  = 60 * time.Second
)

// closeConcurrency caps parallel browser shutdowns.
const closeConcurrency = 4

// Config controls pool sizing and timeouts.
type Config struct {
	MaxSize        int
	IdleTimeout    time.Duration
	ReapInterval   time.Duration
	AcquireTimeout time.Duration
	LaunchTimeout  time.Duration
}

// Stats summarizes pool occupancy.
type Stats struct {
	Total     int `json:"total"`
	InUse     int `json:"inUse"`
	Available int `json:"available"`
}

type entry struct {
	browser  screenshot.Browser
	lastUsed time.Time
	inUse    bool
}

// Pool hands out at most MaxSize browsers. Waiters are woken through a
// broadcast channel that is closed and replaced on every state change.
type Pool struct {
	cfg      Config
	launcher screenshot.Launcher
	clock    screenshot.Clock
	logger   *zap.Logger

	mu        sync.Mutex
	entries   []*entry
	launching int
	closed    bool
	changed   chan struct{}

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewPool creates a pool and starts its idle reaper.
func NewPool(launcher screenshot.Launcher, clock screenshot.Clock, cfg Config, logger *zap.Logger) (*Pool, error) {
	if launcher == nil {
		return nil, fmt.Errorf("launcher is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultMaxSize
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = DefaultReapInterval
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = DefaultAcquireTimeout
	}
	if cfg.LaunchTimeout <= 0 {
		cfg.LaunchTimeout = DefaultLaunchTimeout
	}
	p := &Pool{
		cfg:      cfg,
		launcher: launcher,
		clock:    clock,
		logger:   logger,
		changed:  make(chan struct{}),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go p.reapLoop()
	return p, nil
}

// Acquire returns an idle browser, launches a new one while under capacity,
// or waits up to AcquireTimeout for a release.
func (p *Pool) Acquire(ctx context.Context) (screenshot.Browser, error) {
	timer := time.NewTimer(p.cfg.AcquireTimeout)
	defer timer.Stop()

	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrPoolClosed
		}
		for _, e := range p.entries {
			if !e.inUse {
				e.inUse = true
				e.lastUsed = p.clock.Now()
				p.mu.Unlock()
				return e.browser, nil
			}
		}
		if len(p.entries)+p.launching < p.cfg.MaxSize {
			p.launching++
			p.mu.Unlock()
			return p.launch(ctx)
		}
		wait := p.changed
		p.mu.Unlock()

		select {
		case <-wait:
		case <-timer.C:
			return nil, fmt.Errorf("%w: no browser available after %s", screenshot.ErrPoolExhausted, p.cfg.AcquireTimeout)
		case <-ctx.Done():
			return nil, fmt.Errorf("acquire browser: %w", ctx.Err())
		}
	}
}

// launch starts a browser for a reserved slot and adds it to the pool in use.
func (p *Pool) launch(ctx context.Context) (screenshot.Browser, error) {
	launchCtx, cancel := context.WithTimeout(ctx, p.cfg.LaunchTimeout)
	defer cancel()

	start := time.Now()
	b, err := p.launcher.Launch(launchCtx)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.launching--
	if err != nil {
		p.broadcastLocked()
		return nil, fmt.Errorf("%w: %w", screenshot.ErrBrowserLaunchFailed, err)
	}
	if p.closed {
		p.broadcastLocked()
		if closeErr := b.Close(); closeErr != nil {
			p.logger.Warn("close browser launched during shutdown", zap.Error(closeErr))
		}
		return nil, ErrPoolClosed
	}
	p.entries = append(p.entries, &entry{browser: b, lastUsed: p.clock.Now(), inUse: true})
	p.logger.Info("browser launched",
		zap.Int("pool_size", len(p.entries)),
		zap.Duration("duration", time.Since(start)),
	)
	return b, nil
}

// Release returns b to the pool. Unknown or already released handles are
// ignored.
func (p *Pool) Release(b screenshot.Browser) {
	if b == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.entries {
		if e.browser == b {
			if !e.inUse {
				return
			}
			e.inUse = false
			e.lastUsed = p.clock.Now()
			p.broadcastLocked()
			return
		}
	}
}

// Stats reports pool occupancy without side effects.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	inUse := 0
	for _, e := range p.entries {
		if e.inUse {
			inUse++
		}
	}
	return Stats{
		Total:     len(p.entries),
		InUse:     inUse,
		Available: len(p.entries) - inUse,
	}
}

// CloseAll stops the reaper and terminates every pooled browser, including
// ones currently in use. Acquire fails with ErrPoolClosed afterwards.
func (p *Pool) CloseAll(ctx context.Context) error {
	p.stopOnce.Do(func() { close(p.stop) })
	select {
	case <-p.done:
	case <-ctx.Done():
		return fmt.Errorf("wait for reaper: %w", ctx.Err())
	}

	p.mu.Lock()
	victims := p.entries
	p.entries = nil
	p.closed = true
	p.broadcastLocked()
	p.mu.Unlock()

	if err := p.closeEntries(victims); err != nil {
		return fmt.Errorf("close browsers: %w", err)
	}
	p.logger.Info("browser pool closed", zap.Int("closed", len(victims)))
	return nil
}

func (p *Pool) reapLoop() {
	defer close(p.done)
	ticker := time.NewTicker(p.cfg.ReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.ReapIdle()
		}
	}
}

// ReapIdle closes idle browsers unused for longer than IdleTimeout and
// returns how many were removed. Entries leave the pool before they are
// closed, so a failed close never puts them back.
func (p *Pool) ReapIdle() int {
	p.mu.Lock()
	cutoff := p.clock.Now().Add(-p.cfg.IdleTimeout)
	var keep, reap []*entry
	for _, e := range p.entries {
		if !e.inUse && e.lastUsed.Before(cutoff) {
			reap = append(reap, e)
			continue
		}
		keep = append(keep, e)
	}
	if len(reap) > 0 {
		p.entries = keep
		p.broadcastLocked()
	}
	p.mu.Unlock()

	if len(reap) == 0 {
		return 0
	}
	if err := p.closeEntries(reap); err != nil {
		p.logger.Warn("idle browser close failed", zap.Error(err))
	}
	p.logger.Info("reaped idle browsers", zap.Int("count", len(reap)))
	return len(reap)
}

func (p *Pool) closeEntries(entries []*entry) error {
	var g errgroup.Group
	g.SetLimit(closeConcurrency)
	var mu sync.Mutex
	var errs []error
	for _, e := range entries {
		b := e.browser
		g.Go(func() error {
			if err := b.Close(); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

func (p *Pool) broadcastLocked() {
	close(p.changed)
	p.changed = make(chan struct{})
}
