package metrics

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/screenshot-service/internal/screenshot"
)

// Monitor defaults.
const (
	DefaultHistorySize   = 1000
	DefaultSlowThreshold = 10 * time.Second
	DefaultStatsWindow   = time.Hour
)

// Sample is one recorded capture attempt.
type Sample struct {
	At         time.Time     `json:"at"`
	Duration   time.Duration `json:"duration"`
	QueueWait  time.Duration `json:"queueWait"`
	Resolution string        `json:"resolution"`
	UserAgent  string        `json:"userAgent,omitempty"`
	Success    bool          `json:"success"`
	Kind       string        `json:"kind,omitempty"`
}

// Summary aggregates samples inside a window. Durations are milliseconds and
// rates are percentages.
type Summary struct {
	TotalOperations int     `json:"totalOperations"`
	AverageDuration float64 `json:"averageDuration"`
	P95Duration     float64 `json:"p95Duration"`
	SuccessRate     float64 `json:"successRate"`
	ErrorRate       float64 `json:"errorRate"`
}

// Monitor keeps the most recent capture samples in a fixed-size ring.
type Monitor struct {
	mu      sync.Mutex
	samples []Sample
	next    int
	full    bool

	slow   time.Duration
	clock  screenshot.Clock
	logger *zap.Logger
}

// NewMonitor creates a Monitor holding up to capacity samples. Captures slower
// than slow are logged as warnings.
func NewMonitor(capacity int, slow time.Duration, clock screenshot.Clock, logger *zap.Logger) *Monitor {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}
	if slow <= 0 {
		slow = DefaultSlowThreshold
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		samples: make([]Sample, capacity),
		slow:    slow,
		clock:   clock,
		logger:  logger,
	}
}

// Add records s, evicting the oldest sample when the ring is full.
func (m *Monitor) Add(s Sample) {
	if s.At.IsZero() {
		s.At = m.now()
	}
	if s.Duration > m.slow {
		m.logger.Warn("slow capture",
			zap.Duration("duration", s.Duration),
			zap.String("resolution", s.Resolution),
			zap.Bool("success", s.Success),
		)
	}
	m.mu.Lock()
	m.samples[m.next] = s
	m.next = (m.next + 1) % len(m.samples)
	if m.next == 0 {
		m.full = true
	}
	m.mu.Unlock()
}

// Recent returns up to limit samples, oldest first.
func (m *Monitor) Recent(limit int) []Sample {
	all := m.snapshot()
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all
}

// Stats summarizes samples newer than window. window <= 0 uses the last hour.
func (m *Monitor) Stats(window time.Duration) Summary {
	if window <= 0 {
		window = DefaultStatsWindow
	}
	now := m.now()
	var (
		durations []time.Duration
		succeeded int
		total     time.Duration
	)
	for _, s := range m.snapshot() {
		if now.Sub(s.At) >= window {
			continue
		}
		durations = append(durations, s.Duration)
		total += s.Duration
		if s.Success {
			succeeded++
		}
	}
	n := len(durations)
	if n == 0 {
		return Summary{}
	}
	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })
	p95 := int(float64(n) * 0.95)
	if p95 >= n {
		p95 = n - 1
	}
	return Summary{
		TotalOperations: n,
		AverageDuration: millis(total) / float64(n),
		P95Duration:     millis(durations[p95]),
		SuccessRate:     float64(succeeded) / float64(n) * 100,
		ErrorRate:       float64(n-succeeded) / float64(n) * 100,
	}
}

// Clear drops every sample.
func (m *Monitor) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.samples {
		m.samples[i] = Sample{}
	}
	m.next = 0
	m.full = false
}

func (m *Monitor) snapshot() []Sample {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.full {
		return append([]Sample(nil), m.samples[:m.next]...)
	}
	out := make([]Sample, 0, len(m.samples))
	out = append(out, m.samples[m.next:]...)
	return append(out, m.samples[:m.next]...)
}

func (m *Monitor) now() time.Time {
	if m.clock == nil {
		return time.Now()
	}
	return m.clock.Now()
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
