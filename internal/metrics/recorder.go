package metrics

import "github.com/JakeFAU/screenshot-service/internal/screenshot"

// Recorder feeds capture telemetry to Prometheus and, when set, a Monitor.
type Recorder struct {
	monitor *Monitor
}

// NewRecorder returns a Recorder. monitor may be nil.
func NewRecorder(monitor *Monitor) *Recorder {
	Init()
	return &Recorder{monitor: monitor}
}

// RecordCapture implements screenshot.Recorder.
func (r *Recorder) RecordCapture(m screenshot.CaptureMetrics) {
	kind := string(screenshot.KindOf(m.Err))
	ObserveCapture(string(m.Resolution), m.Success, kind, m.Duration, m.QueueWait)
	if r.monitor == nil {
		return
	}
	r.monitor.Add(Sample{
		Duration:   m.Duration,
		QueueWait:  m.QueueWait,
		Resolution: string(m.Resolution),
		UserAgent:  string(m.UserAgent),
		Success:    m.Success,
		Kind:       kind,
	})
}
