// Package metrics exposes viewer sessions to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zsiec/mjpegview/internal/media"
	"github.com/zsiec/mjpegview/internal/stats"
)

// Metrics holds the collectors for all viewer sessions. It is a session
// MetricsSink and FrameSink.
type Metrics struct {
	reg *prometheus.Registry

	DownKbps      *prometheus.GaugeVec
	Frames        *prometheus.CounterVec
	FrameBytes    *prometheus.CounterVec
	SessionsEnded *prometheus.CounterVec
	ActiveViewers prometheus.Gauge
}

// New creates the collectors on a private registry together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,
		DownKbps: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mjpeg_downstream_kbps",
			Help: "Downstream bitrate of the last completed one-second window",
		}, []string{"stream"}),
		Frames: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mjpeg_frames_total",
			Help: "Total number of complete JPEG frames extracted",
		}, []string{"stream"}),
		FrameBytes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mjpeg_frame_bytes_total",
			Help: "Total bytes of extracted JPEG frames",
		}, []string{"stream"}),
		SessionsEnded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mjpeg_sessions_ended_total",
			Help: "Total number of viewer sessions that ended, by final state",
		}, []string{"state"}),
		ActiveViewers: f.NewGauge(prometheus.GaugeOpts{
			Name: "mjpeg_active_viewers",
			Help: "Current number of running viewer sessions",
		}),
	}
}

// RecordThroughput implements session.MetricsSink.
func (m *Metrics) RecordThroughput(streamKey string, sample stats.Sample) {
	m.DownKbps.WithLabelValues(streamKey).Set(sample.DownKbps)
}

// WriteFrame implements session.FrameSink.
func (m *Metrics) WriteFrame(frame *media.Frame) {
	m.Frames.WithLabelValues(frame.StreamKey).Inc()
	m.FrameBytes.WithLabelValues(frame.StreamKey).Add(float64(len(frame.Data)))
}

// ViewerStarted counts a running session.
func (m *Metrics) ViewerStarted() {
	m.ActiveViewers.Inc()
}

// ViewerEnded drops the per-stream series of a finished session and counts
// it under its final state.
func (m *Metrics) ViewerEnded(streamKey, state string) {
	m.ActiveViewers.Dec()
	m.SessionsEnded.WithLabelValues(state).Inc()
	m.DownKbps.DeleteLabelValues(streamKey)
	m.Frames.DeleteLabelValues(streamKey)
	m.FrameBytes.DeleteLabelValues(streamKey)
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}
