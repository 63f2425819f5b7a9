// Package monitor exports session and process metrics for Prometheus
package monitor

import (
	"context"
	"math"
	"net/http"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"github.com/dudu/lipfilter/internal/scheduler"
)

const namespace = "lipfilter"

// Metrics implements scheduler.Metrics on its own registry
type Metrics struct {
	registry *prometheus.Registry

	detections *prometheus.CounterVec
	errors     *prometheus.CounterVec
	detectTime prometheus.Histogram
	renders    prometheus.Counter
	renderTime prometheus.Histogram
	memUsage   prometheus.Gauge
	cpuUsage   prometheus.Gauge

	proc *process.Process
}

// New registers every collector on a fresh registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		detections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detections_total",
			Help:      "Completed detections by whether a face was found",
		}, []string{"result"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detection_errors_total",
			Help:      "Failed detections by kind",
		}, []string{"kind"}),
		detectTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "detection_seconds",
			Help:      "Landmark detection latency",
			Buckets:   prometheus.ExponentialBuckets(0.002, 2, 10),
		}),
		renders: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "renders_total",
			Help:      "Frames presented",
		}),
		renderTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "render_seconds",
			Help:      "Time to composite one frame",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 10),
		}),
		memUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "memory_usage_megabytes",
			Help:      "Resident memory in megabytes",
		}),
		cpuUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cpu_usage_percent",
			Help:      "CPU usage in percent",
		}),
	}
	m.registry.MustRegister(m.detections, m.errors, m.detectTime,
		m.renders, m.renderTime, m.memUsage, m.cpuUsage)
	return m
}

// ObserveDetection records one finished detection
func (m *Metrics) ObserveDetection(d time.Duration, found bool) {
	result := "none"
	if found {
		result = "found"
	}
	m.detections.WithLabelValues(result).Inc()
	m.detectTime.Observe(d.Seconds())
}

// DetectionError counts a failed detection
func (m *Metrics) DetectionError(kind string) {
	m.errors.WithLabelValues(kind).Inc()
}

// ObserveRender records one presented frame
func (m *Metrics) ObserveRender(d time.Duration) {
	m.renders.Inc()
	m.renderTime.Observe(d.Seconds())
}

// Registry returns the registry the collectors live on
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// SampleProcess updates the memory and CPU gauges for this process
func (m *Metrics) SampleProcess() error {
	if m.proc == nil {
		p, err := process.NewProcess(int32(os.Getpid()))
		if err != nil {
			return errors.Wrap(err, "failed to open own process")
		}
		m.proc = p
	}
	mem, err := m.proc.MemoryInfo()
	if err != nil {
		return errors.Wrap(err, "failed to read memory info")
	}
	cpu, err := m.proc.CPUPercent()
	if err != nil {
		return errors.Wrap(err, "failed to read cpu usage")
	}
	m.memUsage.Set(float64(mem.RSS / 1024 / 1024))
	m.cpuUsage.Set(math.Round(cpu*100) / 100)
	return nil
}

// Run samples the process every interval until ctx is done
func (m *Metrics) Run(ctx context.Context, interval time.Duration, log *zap.SugaredLogger) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.SampleProcess(); err != nil {
				log.Debugw("process sample failed", "error", err)
			}
		}
	}
}

var _ scheduler.Metrics = (*Metrics)(nil)
