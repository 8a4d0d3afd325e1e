package triggercapture

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// intervalWindowSize is the number of recent frame intervals kept for
	// mean/p95/max.
	intervalWindowSize = 100

	// maxArrivals bounds the arrival times kept for the end-of-session summary.
	maxArrivals = 4096

	// fpsSteadyThreshold is the maximum FPS standard deviation as a fraction
	// of mean FPS for a capture to count as steady.
	fpsSteadyThreshold = 0.15

	// jitterSteadyThreshold is the maximum mean jitter as a fraction of the
	// expected frame interval.
	jitterSteadyThreshold = 0.20
)

// IntervalWindow is a ring buffer of the last frame intervals in
// milliseconds.
type IntervalWindow struct {
	Samples [intervalWindowSize]float64
	Index   int
	Count   int
}

// AddSample records one interval, overwriting the oldest when full.
func (w *IntervalWindow) AddSample(ms float64) {
	w.Samples[w.Index] = ms
	w.Index = (w.Index + 1) % len(w.Samples)
	if w.Count < len(w.Samples) {
		w.Count++
	}
}

// GetStats returns mean, 95th percentile and max of the recorded samples.
func (w *IntervalWindow) GetStats() (mean, p95, max float64) {
	if w.Count == 0 {
		return 0, 0, 0
	}

	sorted := make([]float64, w.Count)
	copy(sorted, w.Samples[:w.Count])
	sort.Float64s(sorted)

	var sum float64
	for _, s := range sorted {
		sum += s
	}
	mean = sum / float64(len(sorted))

	idx := int(math.Ceil(0.95*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	p95 = sorted[idx]
	max = sorted[len(sorted)-1]
	return mean, p95, max
}

// IntervalSummary describes the frame cadence of a whole capture
type IntervalSummary struct {
	// Frames is the number of arrivals considered
	Frames int
	// Duration is the capture time the arrivals span
	Duration time.Duration
	// FPSMean is frames over duration
	FPSMean float64
	// FPSStdDev is the standard deviation of instantaneous FPS
	FPSStdDev float64
	// FPSMin and FPSMax bound instantaneous FPS
	FPSMin float64
	FPSMax float64
	// JitterMean, JitterStdDev and JitterMax are deviations from the
	// expected interval, in seconds
	JitterMean   float64
	JitterStdDev float64
	JitterMax    float64
	// IsSteady is true when FPS stddev < 15% of mean and jitter < 20% of the
	// expected interval
	IsSteady bool
}

// SummarizeIntervals computes cadence statistics from frame arrival times.
// Triggered capture is paced by its trigger, so the result describes the
// trigger source as much as the camera.
//
// total is the observation window the arrivals fall in, so the mean is
// arrivals over total.
func SummarizeIntervals(arrivals []time.Time, total time.Duration) IntervalSummary {
	return summarize(arrivals, total, len(arrivals))
}

// summarize computes the statistics with events counted over total. Over the
// span from first to last arrival that is len(arrivals)-1 intervals.
func summarize(arrivals []time.Time, total time.Duration, events int) IntervalSummary {
	n := len(arrivals)
	sum := IntervalSummary{Frames: n, Duration: total}
	if n == 0 || events <= 0 || total <= 0 {
		return sum
	}
	sum.FPSMean = float64(events) / total.Seconds()

	instantaneous := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		if interval := arrivals[i].Sub(arrivals[i-1]).Seconds(); interval > 0 {
			instantaneous = append(instantaneous, 1.0/interval)
		}
	}
	if len(instantaneous) == 0 {
		return sum
	}

	sum.FPSMin, sum.FPSMax = instantaneous[0], instantaneous[0]
	var squares float64
	for _, fps := range instantaneous {
		sum.FPSMin = math.Min(sum.FPSMin, fps)
		sum.FPSMax = math.Max(sum.FPSMax, fps)
		diff := fps - sum.FPSMean
		squares += diff * diff
	}
	sum.FPSStdDev = math.Sqrt(squares / float64(len(instantaneous)))

	expected := 1.0 / sum.FPSMean
	jitters := make([]float64, 0, n-1)
	var jitterSum float64
	for i := 1; i < n; i++ {
		j := math.Abs(arrivals[i].Sub(arrivals[i-1]).Seconds() - expected)
		jitters = append(jitters, j)
		jitterSum += j
		sum.JitterMax = math.Max(sum.JitterMax, j)
	}
	sum.JitterMean = jitterSum / float64(len(jitters))

	var jitterSquares float64
	for _, j := range jitters {
		diff := j - sum.JitterMean
		jitterSquares += diff * diff
	}
	sum.JitterStdDev = math.Sqrt(jitterSquares / float64(len(jitters)))

	sum.IsSteady = sum.FPSStdDev < sum.FPSMean*fpsSteadyThreshold &&
		sum.JitterMean < expected*jitterSteadyThreshold
	return sum
}

// sessionStats holds live counters. Counters are atomic so Stats can be read
// from other goroutines while the loop runs.
type sessionStats struct {
	frames           atomic.Uint64
	bytes            atomic.Uint64
	preTriggers      atomic.Uint64
	softwareTriggers atomic.Uint64
	retries          atomic.Uint64
	sinkErrors       atomic.Uint64
	lastIntervalNS   atomic.Int64

	mu       sync.Mutex
	window   IntervalWindow
	arrivals []time.Time
	last     time.Time
}

func (s *sessionStats) recordFrame(at time.Time, interval time.Duration, n int) {
	s.frames.Add(1)
	s.bytes.Add(uint64(n))
	s.lastIntervalNS.Store(int64(interval))

	s.mu.Lock()
	defer s.mu.Unlock()
	s.window.AddSample(float64(interval) / float64(time.Millisecond))
	s.last = at
	if len(s.arrivals) == maxArrivals {
		copy(s.arrivals, s.arrivals[1:])
		s.arrivals = s.arrivals[:maxArrivals-1]
	}
	s.arrivals = append(s.arrivals, at)
}

func (s *sessionStats) fill(out *SessionStats) {
	out.FrameCount = s.frames.Load()
	out.BytesDelivered = s.bytes.Load()
	out.PreTriggers = s.preTriggers.Load()
	out.SoftwareTriggers = s.softwareTriggers.Load()
	out.DequeueRetries = s.retries.Load()
	out.SinkErrors = s.sinkErrors.Load()
	out.LastIntervalMS = time.Duration(s.lastIntervalNS.Load()).Milliseconds()

	s.mu.Lock()
	defer s.mu.Unlock()
	out.IntervalMeanMS, out.IntervalP95MS, out.IntervalMaxMS = s.window.GetStats()
}

func (s *sessionStats) summary() IntervalSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.arrivals) == 0 {
		return IntervalSummary{}
	}
	arrivals := append([]time.Time(nil), s.arrivals...)
	span := s.last.Sub(arrivals[0])
	return summarize(arrivals, span, len(arrivals)-1)
}
