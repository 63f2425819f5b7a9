package monitor

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()

	m.ObserveDetection(10*time.Millisecond, true)
	m.ObserveDetection(12*time.Millisecond, true)
	m.ObserveDetection(8*time.Millisecond, false)
	m.DetectionError("detect")
	m.DetectionError("timestamp")
	m.DetectionError("detect")
	m.ObserveRender(2 * time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.detections.WithLabelValues("found")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.detections.WithLabelValues("none")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.errors.WithLabelValues("detect")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.errors.WithLabelValues("timestamp")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.renders))
	assert.Equal(t, 2, testutil.CollectAndCount(m.detections))
}

func TestSampleProcess(t *testing.T) {
	m := New()
	require.NoError(t, m.SampleProcess())
	assert.Greater(t, testutil.ToFloat64(m.memUsage), 0.0)
	assert.GreaterOrEqual(t, testutil.ToFloat64(m.cpuUsage), 0.0)
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveRender(time.Millisecond)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), "lipfilter_renders_total 1")
	assert.Contains(t, string(body), "lipfilter_render_seconds_bucket")
}

func TestRunStopsWithContext(t *testing.T) {
	m := New()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx, time.Millisecond, nil)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(m.memUsage) > 0
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
