package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	triggercapture "github.com/e7canasta/trigger-capture"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_RecordsEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.StateChanged(triggercapture.StateInit, triggercapture.StateConfigured)
	c.StateChanged(triggercapture.StateConfigured, triggercapture.StateStreaming)
	for i := 0; i < 3; i++ {
		c.TriggerFired(triggercapture.TriggerPre)
	}
	c.TriggerFired(triggercapture.TriggerSteady)
	c.DequeueRetried()
	c.DequeueRetried()
	c.FrameCaptured(triggercapture.Frame{Seq: 1, Interval: 200 * time.Millisecond, Data: make([]byte, 128)})
	c.FrameCaptured(triggercapture.Frame{Seq: 2, Interval: 300 * time.Millisecond, Data: make([]byte, 128)})

	assert.Equal(t, 2.0, testutil.ToFloat64(c.Frames))
	assert.Equal(t, 256.0, testutil.ToFloat64(c.Bytes))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.Triggers.WithLabelValues("pre")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Triggers.WithLabelValues("steady")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.DequeueRetries))
	assert.Equal(t, float64(triggercapture.StateStreaming), testutil.ToFloat64(c.State))
	assert.Equal(t, 1, testutil.CollectAndCount(c.FrameInterval))

	count, err := testutil.GatherAndCount(reg, "trigger_capture_frame_interval_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestCollector_Health(t *testing.T) {
	tests := []struct {
		name   string
		events func(c *Collector)
		status string
	}{
		{
			name:   "streaming",
			events: func(c *Collector) { c.StateChanged(triggercapture.StateConfigured, triggercapture.StateStreaming) },
			status: "healthy",
		},
		{
			name: "closed and reopened",
			events: func(c *Collector) {
				c.StateChanged(triggercapture.StateStopped, triggercapture.StateClosed)
				c.ReopenVerified(triggercapture.ReopenResult{Attempted: true})
			},
			status: "healthy",
		},
		{
			name:   "closed without verification",
			events: func(c *Collector) { c.StateChanged(triggercapture.StateStopped, triggercapture.StateClosed) },
			status: "degraded",
		},
		{
			name: "reopen failed",
			events: func(c *Collector) {
				c.StateChanged(triggercapture.StateStopped, triggercapture.StateClosed)
				c.ReopenVerified(triggercapture.ReopenResult{Attempted: true, Err: errors.New("busy")})
			},
			status: "unhealthy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCollector(prometheus.NewRegistry())
			tt.events(c)
			assert.Equal(t, tt.status, c.Health().Status)
		})
	}
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.FrameCaptured(triggercapture.Frame{Seq: 1, Timestamp: time.Now(), Interval: time.Second, Data: []byte{1, 2}})
	c.StateChanged(triggercapture.StateStopped, triggercapture.StateClosed)
	c.ReopenVerified(triggercapture.ReopenResult{Attempted: true, Err: errors.New("busy")})

	srv := httptest.NewServer(Handler(c, reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "trigger_capture_frames_total 1")
	assert.Contains(t, string(body), `trigger_capture_reopen_verifications_total{result="failed"} 1`)

	resp, err = http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	var h HealthStatus
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&h))
	assert.Equal(t, "unhealthy", h.Status)
	assert.Equal(t, "closed", h.State)
	assert.Equal(t, uint64(1), h.Frames)
	require.NotNil(t, h.ReopenOK)
	assert.False(t, *h.ReopenOK)
}

func TestListen(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	s, err := Listen("127.0.0.1:0", Handler(c, reg), nil)
	require.NoError(t, err)

	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	_, err = http.Get("http://" + s.Addr() + "/healthz")
	assert.Error(t, err)
	assert.False(t, strings.HasPrefix(s.Addr(), ":"))
}
