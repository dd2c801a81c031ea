// Package memory provides the in-process job queue that bounds how many
// captures run at once.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/screenshot-service/internal/screenshot"
)

// DefaultMaxConcurrent is used when New receives a non-positive limit.
const DefaultMaxConcurrent = 2

// Task is the unit of work executed once a job is admitted.
type Task[T any] func(ctx context.Context) (T, error)

// Stats summarizes queue state.
type Stats struct {
	Queued        int      `json:"queued"`
	Processing    int      `json:"processing"`
	MaxConcurrent int      `json:"maxConcurrent"`
	ProcessingIDs []string `json:"processingIds"`
}

// Future is the pending outcome of a queued job. It settles exactly once.
type Future[T any] struct {
	id         string
	enqueuedAt time.Time
	done       chan struct{}
	once       sync.Once
	startedAt  time.Time
	value      T
	err        error
}

// ID returns the caller-supplied job identifier.
func (f *Future[T]) ID() string {
	return f.id
}

// Done is closed once the job settles.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the job settles or ctx ends. A ctx error does not
// cancel the job itself.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, fmt.Errorf("wait for job %s: %w", f.id, ctx.Err())
	}
}

// QueueWait reports how long the job waited before starting. It is zero for
// jobs that never started.
func (f *Future[T]) QueueWait() time.Duration {
	select {
	case <-f.done:
	default:
		return 0
	}
	if f.startedAt.IsZero() {
		return 0
	}
	return f.startedAt.Sub(f.enqueuedAt)
}

func (f *Future[T]) settle(value T, err error) {
	f.once.Do(func() {
		f.value = value
		f.err = err
		close(f.done)
	})
}

type job[T any] struct {
	ctx      context.Context
	id       string
	task     Task[T]
	priority int
	future   *Future[T]
}

// Queue admits up to maxConcurrent jobs and keeps the rest waiting in
// priority-then-FIFO order.
type Queue[T any] struct {
	mu            sync.Mutex
	waiting       []*job[T]
	processing    map[string]int
	running       int
	maxConcurrent int
	now           func() time.Time
	wg            sync.WaitGroup
}

// Option configures a Queue.
type Option[T any] func(*Queue[T])

// WithClock overrides the time source used for queue-wait accounting.
func WithClock[T any](now func() time.Time) Option[T] {
	return func(q *Queue[T]) {
		if now != nil {
			q.now = now
		}
	}
}

// New constructs a queue that runs at most maxConcurrent jobs at a time.
func New[T any](maxConcurrent int, opts ...Option[T]) *Queue[T] {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	q := &Queue[T]{
		processing:    make(map[string]int),
		maxConcurrent: maxConcurrent,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Add queues task under id. Higher priorities run first; equal priorities
// run in submission order. ctx is handed to the task when it runs.
func (q *Queue[T]) Add(ctx context.Context, id string, task Task[T], priority int) *Future[T] {
	f := &Future[T]{id: id, done: make(chan struct{})}
	q.mu.Lock()
	f.enqueuedAt = q.now()
	j := &job[T]{ctx: ctx, id: id, task: task, priority: priority, future: f}
	// First index whose priority is strictly lower than the new job's.
	idx := sort.Search(len(q.waiting), func(i int) bool {
		return q.waiting[i].priority < priority
	})
	q.waiting = append(q.waiting, nil)
	copy(q.waiting[idx+1:], q.waiting[idx:])
	q.waiting[idx] = j
	q.drainLocked()
	q.mu.Unlock()
	return f
}

// Cancel removes a job that has not started yet and settles it with
// screenshot.ErrCancelled. Running, finished and unknown jobs are untouched.
func (q *Queue[T]) Cancel(id string) bool {
	q.mu.Lock()
	var found *job[T]
	for i, j := range q.waiting {
		if j.id == id {
			found = j
			q.waiting = append(q.waiting[:i], q.waiting[i+1:]...)
			break
		}
	}
	q.mu.Unlock()
	if found == nil {
		return false
	}
	var zero T
	found.future.settle(zero, fmt.Errorf("job %s: %w", id, screenshot.ErrCancelled))
	return true
}

// Clear cancels every waiting job and returns how many were removed. Jobs
// already processing keep running.
func (q *Queue[T]) Clear() int {
	q.mu.Lock()
	removed := q.waiting
	q.waiting = nil
	q.mu.Unlock()
	var zero T
	for _, j := range removed {
		j.future.settle(zero, fmt.Errorf("job %s: queue cleared: %w", j.id, screenshot.ErrCancelled))
	}
	return len(removed)
}

// Stats returns a snapshot of queue state.
func (q *Queue[T]) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	ids := make([]string, 0, q.running)
	for id, n := range q.processing {
		for i := 0; i < n; i++ {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return Stats{
		Queued:        len(q.waiting),
		Processing:    q.running,
		MaxConcurrent: q.maxConcurrent,
		ProcessingIDs: ids,
	}
}

// Wait blocks until every admitted job has finished.
func (q *Queue[T]) Wait() {
	q.wg.Wait()
}

func (q *Queue[T]) drainLocked() {
	for q.running < q.maxConcurrent && len(q.waiting) > 0 {
		j := q.waiting[0]
		q.waiting[0] = nil
		q.waiting = q.waiting[1:]
		q.running++
		q.processing[j.id]++
		j.future.startedAt = q.now()
		q.wg.Add(1)
		go q.run(j)
	}
}

func (q *Queue[T]) run(j *job[T]) {
	defer q.wg.Done()
	value, err := q.execute(j)

	q.mu.Lock()
	q.running--
	if q.processing[j.id] <= 1 {
		delete(q.processing, j.id)
	} else {
		q.processing[j.id]--
	}
	q.mu.Unlock()

	j.future.settle(value, err)

	q.mu.Lock()
	q.drainLocked()
	q.mu.Unlock()
}

func (q *Queue[T]) execute(j *job[T]) (value T, err error) {
	ctx := j.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return value, fmt.Errorf("job %s not started: %w", j.id, ctxErr)
	}
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("job %s panicked: %v", j.id, rec)
		}
	}()
	return j.task(ctx)
}
