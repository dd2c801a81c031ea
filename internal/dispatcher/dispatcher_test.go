package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/screenshot-service/internal/queue/memory"
	"github.com/JakeFAU/screenshot-service/internal/screenshot"
	"github.com/JakeFAU/screenshot-service/internal/screenshot/screenshottest"
	"github.com/JakeFAU/screenshot-service/internal/worker"
)

func newDispatcher(t *testing.T, proc Processor, recorder screenshot.Recorder, cfg Config) *Dispatcher {
	t.Helper()
	d, err := New(proc, &seqIDs{}, recorder, nil, cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_, _ = d.Shutdown(ctx)
	})
	return d
}

func TestSubmitStartsImmediatelyAndResolves(t *testing.T) {
	t.Parallel()

	proc := newGatedProcessor()
	recorder := &screenshottest.Recorder{}
	d := newDispatcher(t, proc, recorder, Config{MaxConcurrent: 2})

	future, err := d.Submit(context.Background(), screenshot.Request{URL: "https://example.com", Resolution: screenshot.Resolution1280x720}, 0)
	require.NoError(t, err)

	stats := d.Stats()
	require.Equal(t, 0, stats.Queued)
	require.Equal(t, 1, stats.Processing)
	require.Equal(t, []string{future.ID()}, stats.ProcessingIDs)

	close(proc.gate)
	record, err := future.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, future.ID(), record.ID)
	require.NotEmpty(t, record.ID)

	require.Eventually(t, func() bool { return len(recorder.Metrics()) == 1 }, time.Second, 5*time.Millisecond)
	m := recorder.Metrics()[0]
	require.True(t, m.Success)
	require.Equal(t, screenshot.Resolution1280x720, m.Resolution)
	require.NoError(t, m.Err)
}

func TestSubmitRejectsUnsafeURLBeforeQueueing(t *testing.T) {
	t.Parallel()

	proc := newGatedProcessor()
	close(proc.gate)
	d := newDispatcher(t, proc, nil, Config{})
	before := d.Stats()

	for _, raw := range []string{"http://127.0.0.1", "http://localhost:8080", "file:///etc/passwd", "http://169.254.169.254/latest"} {
		future, err := d.Submit(context.Background(), screenshot.Request{URL: raw}, 0)
		require.ErrorIs(t, err, screenshot.ErrUnsafeURL, raw)
		require.Equal(t, screenshot.KindUnsafeURL, screenshot.KindOf(err))
		require.Nil(t, future)
	}
	require.Equal(t, before, d.Stats())
	require.Zero(t, proc.calls.Load())
}

func TestSubmitRejectsInvalidRequests(t *testing.T) {
	t.Parallel()

	d := newDispatcher(t, newGatedProcessor(), nil, Config{Limits: screenshot.Limits{MaxWidth: 1920, MaxHeight: 1080}})

	_, err := d.Submit(context.Background(), screenshot.Request{URL: "https://example.com", Resolution: "800x600"}, 0)
	require.ErrorIs(t, err, screenshot.ErrInvalidRequest)
	_, err = d.Submit(context.Background(), screenshot.Request{URL: "https://example.com", UserAgent: "curl/8"}, 0)
	require.ErrorIs(t, err, screenshot.ErrInvalidRequest)
	_, err = d.Submit(context.Background(), screenshot.Request{}, 0)
	require.ErrorIs(t, err, screenshot.ErrInvalidRequest)
	require.Equal(t, 0, d.Stats().Queued)
}

func TestConcurrencyNeverExceedsLimit(t *testing.T) {
	t.Parallel()

	proc := newGatedProcessor()
	proc.delays = map[string]time.Duration{
		"https://one.example":   50 * time.Millisecond,
		"https://two.example":   50 * time.Millisecond,
		"https://three.example": 10 * time.Millisecond,
	}
	d := newDispatcher(t, proc, nil, Config{MaxConcurrent: 2})

	var futures []*memory.Future[screenshot.Record]
	for _, u := range []string{"https://one.example", "https://two.example", "https://three.example"} {
		f, err := d.Submit(context.Background(), screenshot.Request{URL: u}, 0)
		require.NoError(t, err)
		futures = append(futures, f)
	}

	require.Eventually(t, func() bool { return proc.active.Load() == 2 }, time.Second, time.Millisecond)
	stats := d.Stats()
	require.Equal(t, 2, stats.Processing)
	require.Equal(t, 1, stats.Queued)
	close(proc.gate)

	for _, f := range futures {
		_, err := f.Wait(context.Background())
		require.NoError(t, err)
	}
	require.Equal(t, int32(2), proc.peak.Load())
	require.Equal(t, int32(3), proc.calls.Load())
}

func TestPriorityJobsRunFirst(t *testing.T) {
	t.Parallel()

	proc := newGatedProcessor()
	d := newDispatcher(t, proc, nil, Config{MaxConcurrent: 1})

	blocker, err := d.Submit(context.Background(), screenshot.Request{URL: "https://blocker.example"}, 0)
	require.NoError(t, err)
	low, err := d.Submit(context.Background(), screenshot.Request{URL: "https://low.example"}, 0)
	require.NoError(t, err)
	high, err := d.Submit(context.Background(), screenshot.Request{URL: "https://high.example"}, 5)
	require.NoError(t, err)

	close(proc.gate)
	for _, f := range []*memory.Future[screenshot.Record]{blocker, low, high} {
		_, err := f.Wait(context.Background())
		require.NoError(t, err)
	}
	require.Equal(t, []string{"https://blocker.example", "https://high.example", "https://low.example"}, proc.order())
}

func TestFailuresAreRecorded(t *testing.T) {
	t.Parallel()

	proc := newGatedProcessor()
	close(proc.gate)
	proc.err = fmt.Errorf("%w: slow page", screenshot.ErrNavigationTimeout)
	recorder := &screenshottest.Recorder{}
	d := newDispatcher(t, proc, recorder, Config{})

	_, err := d.Capture(context.Background(), screenshot.Request{URL: "https://example.com", UserAgent: screenshot.AllowedUserAgents[0]}, 0)
	require.ErrorIs(t, err, screenshot.ErrNavigationTimeout)

	metrics := recorder.Metrics()
	require.Len(t, metrics, 1)
	require.False(t, metrics[0].Success)
	require.Equal(t, screenshot.AllowedUserAgents[0], metrics[0].UserAgent)
	require.ErrorIs(t, metrics[0].Err, screenshot.ErrNavigationTimeout)
}

func TestCancelAndShutdown(t *testing.T) {
	t.Parallel()

	proc := newGatedProcessor()
	d, err := New(proc, &seqIDs{}, nil, nil, Config{MaxConcurrent: 1}, nil)
	require.NoError(t, err)

	running, err := d.Submit(context.Background(), screenshot.Request{URL: "https://a.example"}, 0)
	require.NoError(t, err)
	waitingA, err := d.Submit(context.Background(), screenshot.Request{URL: "https://b.example"}, 0)
	require.NoError(t, err)
	waitingB, err := d.Submit(context.Background(), screenshot.Request{URL: "https://c.example"}, 0)
	require.NoError(t, err)

	require.False(t, d.Cancel(running.ID()))
	require.True(t, d.Cancel(waitingA.ID()))
	_, err = waitingA.Wait(context.Background())
	require.ErrorIs(t, err, screenshot.ErrCancelled)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	cleared, err := d.Shutdown(ctx)
	require.Equal(t, 1, cleared)
	require.ErrorIs(t, err, context.DeadlineExceeded, "running job still holds the queue")
	_, err = waitingB.Wait(context.Background())
	require.ErrorIs(t, err, screenshot.ErrCancelled)

	close(proc.gate)
	cleared, err = d.Shutdown(context.Background())
	require.NoError(t, err)
	require.Zero(t, cleared)
	_, err = running.Wait(context.Background())
	require.NoError(t, err)
}

func TestDefaultsAreApplied(t *testing.T) {
	t.Parallel()

	proc := newGatedProcessor()
	close(proc.gate)
	fullPage := false
	d := newDispatcher(t, proc, nil, Config{Defaults: Defaults{
		Resolution:        screenshot.Resolution1024x768,
		WaitUntil:         screenshot.WaitLoad,
		NavigationTimeout: 7 * time.Second,
		FullPage:          &fullPage,
	}})

	_, err := d.Capture(context.Background(), screenshot.Request{URL: "https://example.com"}, 0)
	require.NoError(t, err)
	got := proc.lastRequest()
	require.Equal(t, screenshot.Resolution1024x768, got.Resolution)
	require.Equal(t, screenshot.WaitLoad, got.WaitUntil)
	require.Equal(t, 7*time.Second, got.Timeout)
	require.False(t, got.WantsFullPage())
}

func TestNewValidatesInputs(t *testing.T) {
	t.Parallel()

	_, err := New(nil, &seqIDs{}, nil, nil, Config{}, nil)
	require.Error(t, err)
	_, err = New(newGatedProcessor(), nil, nil, nil, Config{}, nil)
	require.Error(t, err)
}

func TestSubmitPropagatesIDErrors(t *testing.T) {
	t.Parallel()

	d, err := New(newGatedProcessor(), &seqIDs{err: errors.New("entropy")}, nil, nil, Config{}, nil)
	require.NoError(t, err)
	_, err = d.Submit(context.Background(), screenshot.Request{URL: "https://example.com"}, 0)
	require.ErrorContains(t, err, "entropy")
}

// --- fakes ---

type gatedProcessor struct {
	gate   chan struct{}
	delays map[string]time.Duration
	err    error

	active atomic.Int32
	peak   atomic.Int32
	calls  atomic.Int32

	mu   sync.Mutex
	seen []screenshot.Request
}

func newGatedProcessor() *gatedProcessor {
	return &gatedProcessor{gate: make(chan struct{})}
}

func (p *gatedProcessor) Process(ctx context.Context, job worker.Job) (screenshot.Record, error) {
	p.calls.Add(1)
	n := p.active.Add(1)
	defer p.active.Add(-1)
	for {
		peak := p.peak.Load()
		if n <= peak || p.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	p.mu.Lock()
	p.seen = append(p.seen, job.Request)
	p.mu.Unlock()

	select {
	case <-p.gate:
	case <-ctx.Done():
		return screenshot.Record{}, ctx.Err()
	}
	if d := p.delays[job.Request.URL]; d > 0 {
		time.Sleep(d)
	}
	if p.err != nil {
		return screenshot.Record{}, p.err
	}
	return screenshot.Record{ID: job.ID, URL: job.Request.URL, Resolution: job.Request.Resolution}, nil
}

func (p *gatedProcessor) order() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.seen))
	for _, r := range p.seen {
		out = append(out, r.URL)
	}
	return out
}

func (p *gatedProcessor) lastRequest() screenshot.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.seen[len(p.seen)-1]
}

type seqIDs struct {
	n   atomic.Int64
	err error
}

func (s *seqIDs) NewID() (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return fmt.Sprintf("shot-%d", s.n.Add(1)), nil
}
