// Package metrics exposes relay and capture statistics as Prometheus
// metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/23retsuf/oak-drone-system/relay"
)

// CaptureSnapshot carries the capture counters exported at scrape time.
type CaptureSnapshot struct {
	Frames  uint64
	Dropped uint64
	Bytes   uint64
}

// Metrics serves relay and capture statistics. The underlying collector
// pulls a fresh stats snapshot on every scrape and emits const metrics, so
// monotonic counts stay genuine Counters without any push-side bookkeeping.
type Metrics struct {
	registry *prometheus.Registry
}

// collector turns stats snapshots into Prometheus metrics at collect time.
type collector struct {
	session func() relay.SessionStats
	capture func() CaptureSnapshot

	framesPulled   *prometheus.Desc
	activeSinks    *prometheus.Desc
	sinkDelivered  *prometheus.Desc
	sinkDropped    *prometheus.Desc
	sinkQueued     *prometheus.Desc
	captureFrames  *prometheus.Desc
	captureDropped *prometheus.Desc
	captureBytes   *prometheus.Desc
}

// New creates the metrics surface over the given snapshot callbacks.
// Either callback may be nil; its metrics are then omitted from scrapes.
func New(session func() relay.SessionStats, capture func() CaptureSnapshot) *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(&collector{
		session: session,
		capture: capture,
		framesPulled: prometheus.NewDesc(
			"relay_frames_pulled_total",
			"Total number of frames pulled from the source",
			nil, nil,
		),
		activeSinks: prometheus.NewDesc(
			"relay_active_sinks",
			"Number of currently registered sinks",
			nil, nil,
		),
		sinkDelivered: prometheus.NewDesc(
			"relay_sink_delivered_total",
			"Frames delivered to each sink",
			[]string{"sink"}, nil,
		),
		sinkDropped: prometheus.NewDesc(
			"relay_sink_dropped_total",
			"Frames dropped for each sink by its backpressure policy",
			[]string{"sink"}, nil,
		),
		sinkQueued: prometheus.NewDesc(
			"relay_sink_queued",
			"Frames currently queued for each sink",
			[]string{"sink"}, nil,
		),
		captureFrames: prometheus.NewDesc(
			"capture_frames_total",
			"Total number of frames produced by the capture pipeline",
			nil, nil,
		),
		captureDropped: prometheus.NewDesc(
			"capture_frames_dropped_total",
			"Frames dropped between the capture pipeline and the relay",
			nil, nil,
		),
		captureBytes: prometheus.NewDesc(
			"capture_bytes_total",
			"Total bytes read from the capture pipeline",
			nil, nil,
		),
	})
	return &Metrics{registry: registry}
}

// Describe implements prometheus.Collector.
func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.framesPulled
	ch <- c.activeSinks
	ch <- c.sinkDelivered
	ch <- c.sinkDropped
	ch <- c.sinkQueued
	ch <- c.captureFrames
	ch <- c.captureDropped
	ch <- c.captureBytes
}

// Collect implements prometheus.Collector. Unregistered sinks simply stop
// appearing: const metrics carry no state between scrapes.
func (c *collector) Collect(ch chan<- prometheus.Metric) {
	if c.session != nil {
		st := c.session()
		ch <- prometheus.MustNewConstMetric(c.framesPulled, prometheus.CounterValue, float64(st.FramesPulled))
		ch <- prometheus.MustNewConstMetric(c.activeSinks, prometheus.GaugeValue, float64(len(st.Sinks)))
		for id, s := range st.Sinks {
			ch <- prometheus.MustNewConstMetric(c.sinkDelivered, prometheus.CounterValue, float64(s.Delivered), id)
			ch <- prometheus.MustNewConstMetric(c.sinkDropped, prometheus.CounterValue, float64(s.Dropped), id)
			ch <- prometheus.MustNewConstMetric(c.sinkQueued, prometheus.GaugeValue, float64(s.Queued), id)
		}
	}
	if c.capture != nil {
		snap := c.capture()
		ch <- prometheus.MustNewConstMetric(c.captureFrames, prometheus.CounterValue, float64(snap.Frames))
		ch <- prometheus.MustNewConstMetric(c.captureDropped, prometheus.CounterValue, float64(snap.Dropped))
		ch <- prometheus.MustNewConstMetric(c.captureBytes, prometheus.CounterValue, float64(snap.Bytes))
	}
}

// Handler returns an http.Handler that serves the metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
