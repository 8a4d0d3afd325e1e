// Package metrics exports capture session events as Prometheus metrics and
// serves them next to a JSON health endpoint.
package metrics

import (
	"sync"
	"time"

	triggercapture "github.com/e7canasta/trigger-capture"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector is a triggercapture.Observer that records session events.
type Collector struct {
	Frames         prometheus.Counter
	Bytes          prometheus.Counter
	Triggers       *prometheus.CounterVec
	DequeueRetries prometheus.Counter
	FrameInterval  prometheus.Histogram
	State          prometheus.Gauge
	Reopens        *prometheus.CounterVec

	started time.Time

	mu        sync.RWMutex
	state     triggercapture.State
	lastFrame time.Time
	frames    uint64
	reopen    *triggercapture.ReopenResult
}

var _ triggercapture.Observer = (*Collector)(nil)

// NewCollector registers the capture metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		Frames: f.NewCounter(prometheus.CounterOpts{
			Name: "trigger_capture_frames_total",
			Help: "Frames delivered to the sink",
		}),
		Bytes: f.NewCounter(prometheus.CounterOpts{
			Name: "trigger_capture_bytes_total",
			Help: "Frame bytes delivered to the sink",
		}),
		Triggers: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trigger_capture_software_triggers_total",
			Help: "Software triggers fired, by kind (pre, steady)",
		}, []string{"kind"}),
		DequeueRetries: f.NewCounter(prometheus.CounterOpts{
			Name: "trigger_capture_dequeue_retries_total",
			Help: "Dequeue attempts that found no frame ready",
		}),
		FrameInterval: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "trigger_capture_frame_interval_seconds",
			Help:    "Time between consecutive delivered frames",
			Buckets: []float64{0.01, 0.05, 0.1, 0.2, 0.5, 1, 2, 5, 10, 30, 60},
		}),
		State: f.NewGauge(prometheus.GaugeOpts{
			Name: "trigger_capture_session_state",
			Help: "Session state (0 init, 1 configured, 2 streaming, 3 stopped, 4 closed)",
		}),
		Reopens: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trigger_capture_reopen_verifications_total",
			Help: "Reopen verifications after teardown, by result",
		}, []string{"result"}),
		started: time.Now(),
	}
}

func (c *Collector) StateChanged(from, to triggercapture.State) {
	c.State.Set(float64(to))
	c.mu.Lock()
	c.state = to
	c.mu.Unlock()
}

func (c *Collector) TriggerFired(kind triggercapture.TriggerKind) {
	c.Triggers.WithLabelValues(kind.String()).Inc()
}

func (c *Collector) FrameCaptured(f triggercapture.Frame) {
	c.Frames.Inc()
	c.Bytes.Add(float64(len(f.Data)))
	c.FrameInterval.Observe(f.Interval.Seconds())

	c.mu.Lock()
	c.frames++
	c.lastFrame = f.Timestamp
	c.mu.Unlock()
}

func (c *Collector) DequeueRetried() {
	c.DequeueRetries.Inc()
}

func (c *Collector) ReopenVerified(r triggercapture.ReopenResult) {
	result := "ok"
	if !r.OK() {
		result = "failed"
	}
	c.Reopens.WithLabelValues(result).Inc()

	c.mu.Lock()
	c.reopen = &r
	c.mu.Unlock()
}

// HealthStatus is the body of the health endpoint.
type HealthStatus struct {
	Status        string     `json:"status"` // "healthy", "degraded", "unhealthy"
	State         string     `json:"state"`
	UptimeSeconds int64      `json:"uptime_seconds"`
	Frames        uint64     `json:"frames"`
	LastFrameAt   *time.Time `json:"last_frame_at,omitempty"`
	ReopenOK      *bool      `json:"reopen_ok,omitempty"`
}

// Health summarizes the session. A failed reopen verification is unhealthy;
// a closed session without one is degraded.
func (c *Collector) Health() HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	h := HealthStatus{
		Status:        "healthy",
		State:         c.state.String(),
		UptimeSeconds: int64(time.Since(c.started).Seconds()),
		Frames:        c.frames,
	}
	if !c.lastFrame.IsZero() {
		last := c.lastFrame
		h.LastFrameAt = &last
	}
	if c.reopen != nil {
		ok := c.reopen.OK()
		h.ReopenOK = &ok
		if !ok {
			h.Status = "unhealthy"
		}
	} else if c.state == triggercapture.StateClosed {
		h.Status = "degraded"
	}
	return h
}
