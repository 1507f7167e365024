// package metrics defines the instrumentation sink the sync core reports into.
//
// The sink is constructed once and injected; nothing in the core touches the
// default prometheus registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Sink bundles the collectors the engine and procedures report into.
type Sink struct {
	registry *prometheus.Registry

	Up            prometheus.Gauge
	CyclesTotal   *prometheus.CounterVec
	CycleDuration *prometheus.HistogramVec
	CycleErrors   *prometheus.CounterVec

	TracksDiscovered  *prometheus.CounterVec
	TracksSynced      *prometheus.CounterVec
	TracksFailed      *prometheus.CounterVec
	DuplicatesSkipped *prometheus.CounterVec
	FanOutCreated     *prometheus.CounterVec
	Identifications   *prometheus.CounterVec
}

// NewSink builds a sink backed by its own registry.
func NewSink() *Sink {
	registry := prometheus.NewRegistry()

	s := &Sink{
		registry: registry,
		Up: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "navaar_up",
			Help: "Whether the sync engine is running.",
		}),
		CyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "navaar_sync_cycles_total",
			Help: "Completed sync cycles per direction.",
		}, []string{"direction"}),
		CycleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "navaar_sync_cycle_duration_seconds",
			Help:    "Sync cycle wall time per direction.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}, []string{"direction"}),
		CycleErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "navaar_sync_errors_total",
			Help: "Errors per direction and type.",
		}, []string{"direction", "error_type"}),
		TracksDiscovered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "navaar_tracks_discovered_total",
			Help: "New track records created per direction.",
		}, []string{"direction"}),
		TracksSynced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "navaar_tracks_synced_total",
			Help: "Track records that reached synced, per direction.",
		}, []string{"direction"}),
		TracksFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "navaar_tracks_failed_total",
			Help: "Track records that reached failed, per direction.",
		}, []string{"direction"}),
		DuplicatesSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "navaar_duplicates_skipped_total",
			Help: "Records finished as duplicates, per direction.",
		}, []string{"direction"}),
		FanOutCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "navaar_fanout_created_total",
			Help: "Pending records created by fan-out, per target direction.",
		}, []string{"direction"}),
		Identifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "navaar_identifications_total",
			Help: "Successful identifications per method.",
		}, []string{"method"}),
	}

	registry.MustRegister(
		s.Up, s.CyclesTotal, s.CycleDuration, s.CycleErrors,
		s.TracksDiscovered, s.TracksSynced, s.TracksFailed,
		s.DuplicatesSkipped, s.FanOutCreated, s.Identifications,
	)

	return s
}

// Handler exposes the sink in the Prometheus text format.
func (s *Sink) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}
