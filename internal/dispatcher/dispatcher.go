// Package dispatcher admits screenshot requests into the bounded job queue.
package dispatcher

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/screenshot-service/internal/clock/system"
	"github.com/JakeFAU/screenshot-service/internal/queue/memory"
	"github.com/JakeFAU/screenshot-service/internal/safety"
	"github.com/JakeFAU/screenshot-service/internal/screenshot"
	"github.com/JakeFAU/screenshot-service/internal/worker"
)

// Processor executes one admitted job.
type Processor interface {
	Process(ctx context.Context, job worker.Job) (screenshot.Record, error)
}

// Defaults fill request fields the caller left empty.
type Defaults struct {
	Resolution        screenshot.Resolution
	WaitUntil         screenshot.WaitCondition
	NavigationTimeout time.Duration
	// FullPage applies when the request leaves FullPage nil.
	FullPage *bool
}

// Config controls admission.
type Config struct {
	MaxConcurrent int
	Limits        screenshot.Limits
	Defaults      Defaults
}

// Dispatcher validates requests, gates them through the URL safety check and
// runs them on the queue.
type Dispatcher struct {
	queue     *memory.Queue[screenshot.Record]
	processor Processor
	ids       screenshot.IDGenerator
	recorder  screenshot.Recorder
	clock     screenshot.Clock
	cfg       Config
	logger    *zap.Logger
}

// New creates a Dispatcher. recorder and clock are optional.
func New(
	processor Processor,
	ids screenshot.IDGenerator,
	recorder screenshot.Recorder,
	clock screenshot.Clock,
	cfg Config,
	logger *zap.Logger,
) (*Dispatcher, error) {
	if processor == nil {
		return nil, fmt.Errorf("processor is required")
	}
	if ids == nil {
		return nil, fmt.Errorf("id generator is required")
	}
	if clock == nil {
		clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:     memory.New(cfg.MaxConcurrent, memory.WithClock[screenshot.Record](clock.Now)),
		processor: processor,
		ids:       ids,
		recorder:  recorder,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}, nil
}

// Submit queues req and returns its pending outcome. Invalid and unsafe
// requests are rejected before anything is queued.
func (d *Dispatcher) Submit(ctx context.Context, req screenshot.Request, priority int) (*memory.Future[screenshot.Record], error) {
	req = d.applyDefaults(req)
	if err := req.Validate(d.cfg.Limits); err != nil {
		return nil, err
	}
	if err := safety.Check(req.URL); err != nil {
		d.logger.Warn("unsafe url rejected", zap.String("url", req.URL))
		return nil, err
	}
	id, err := d.ids.NewID()
	if err != nil {
		return nil, fmt.Errorf("generate screenshot id: %w", err)
	}

	enqueuedAt := d.clock.Now()
	task := func(ctx context.Context) (screenshot.Record, error) {
		return d.run(ctx, id, req, enqueuedAt)
	}
	future := d.queue.Add(ctx, id, task, priority)
	d.logger.Info("job queued",
		zap.String("screenshot_id", id),
		zap.String("url", req.URL),
		zap.String("resolution", string(req.Resolution)),
		zap.Int("priority", priority),
	)
	return future, nil
}

// Capture submits req and waits for its outcome.
func (d *Dispatcher) Capture(ctx context.Context, req screenshot.Request, priority int) (screenshot.Record, error) {
	future, err := d.Submit(ctx, req, priority)
	if err != nil {
		return screenshot.Record{}, err
	}
	return future.Wait(ctx)
}

// Cancel removes a job that has not started.
func (d *Dispatcher) Cancel(id string) bool {
	return d.queue.Cancel(id)
}

// Stats reports queue state.
func (d *Dispatcher) Stats() memory.Stats {
	return d.queue.Stats()
}

// Shutdown cancels waiting jobs and blocks until running jobs finish or ctx
// ends. It returns how many jobs were cancelled.
func (d *Dispatcher) Shutdown(ctx context.Context) (int, error) {
	cleared := d.queue.Clear()
	done := make(chan struct{})
	go func() {
		d.queue.Wait()
		close(done)
	}()
	select {
	case <-done:
		return cleared, nil
	case <-ctx.Done():
		return cleared, fmt.Errorf("wait for running jobs: %w", ctx.Err())
	}
}

func (d *Dispatcher) applyDefaults(req screenshot.Request) screenshot.Request {
	def := d.cfg.Defaults
	if req.Resolution == "" && def.Resolution != "" {
		req.Resolution = def.Resolution
	}
	if req.Resolution == "" {
		req.Resolution = screenshot.DefaultResolution
	}
	if req.WaitUntil == "" {
		req.WaitUntil = def.WaitUntil
	}
	if req.Timeout == 0 {
		req.Timeout = def.NavigationTimeout
	}
	if req.FullPage == nil && def.FullPage != nil {
		fullPage := *def.FullPage
		req.FullPage = &fullPage
	}
	return req
}

func (d *Dispatcher) run(ctx context.Context, id string, req screenshot.Request, enqueuedAt time.Time) (screenshot.Record, error) {
	started := d.clock.Now()
	record, err := d.processor.Process(ctx, worker.Job{ID: id, Request: req})
	finished := d.clock.Now()

	m := screenshot.CaptureMetrics{
		Duration:   finished.Sub(started),
		Resolution: req.Resolution,
		UserAgent:  req.UserAgent,
		Success:    err == nil,
		QueueWait:  started.Sub(enqueuedAt),
		Err:        err,
	}
	if d.recorder != nil {
		d.recorder.RecordCapture(m)
	}

	fields := []zap.Field{
		zap.String("screenshot_id", id),
		zap.String("url", req.URL),
		zap.String("resolution", string(req.Resolution)),
		zap.Bool("enable_adblock", req.EnableAdblock),
		zap.Duration("duration", m.Duration),
		zap.Duration("queue_wait", m.QueueWait),
	}
	if err != nil {
		d.logger.Error("capture failed", append(fields, zap.String("kind", string(screenshot.KindOf(err))), zap.Error(err))...)
		return screenshot.Record{}, err
	}
	d.logger.Info("capture succeeded", fields...)
	return record, nil
}
