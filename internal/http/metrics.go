package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"musik/internal/auth"
	"musik/internal/paging"
)

// Metrics holds the collectors exported on /metrics. Each instance owns its
// registry so tests can create as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	AuthEventsTotal   *prometheus.CounterVec
	PageFetchesTotal  *prometheus.CounterVec
	PageFetchDuration prometheus.Histogram
	QueuedTracksTotal *prometheus.CounterVec
	PlaylistEdits     *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		AuthEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "musik_auth_events_total",
				Help: "Authorization events by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		PageFetchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "musik_page_fetches_total",
				Help: "Page fetches issued while draining listings",
			},
			[]string{"outcome"},
		),
		PageFetchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "musik_page_fetch_duration_seconds",
				Help:    "Latency of single page fetches",
				Buckets: prometheus.DefBuckets,
			},
		),
		QueuedTracksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "musik_queued_tracks_total",
				Help: "Tracks handed to the player by candidate source",
			},
			[]string{"source"},
		),
		PlaylistEdits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "musik_playlist_edits_total",
				Help: "Playlist modifications by action",
			},
			[]string{"action"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.AuthEventsTotal,
		m.PageFetchesTotal,
		m.PageFetchDuration,
		m.QueuedTracksTotal,
		m.PlaylistEdits,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordAuth counts an authorization operation. A nil err counts as "ok";
// otherwise the outcome is the error kind.
func (m *Metrics) RecordAuth(operation string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = auth.KindOf(err).String()
	}
	m.AuthEventsTotal.WithLabelValues(operation, outcome).Inc()
}

// ObservePage is a paging observer.
func (m *Metrics) ObservePage(ev paging.PageEvent) {
	outcome := "ok"
	switch {
	case errors.Is(ev.Err, context.Canceled), errors.Is(ev.Err, context.DeadlineExceeded):
		outcome = "cancelled"
	case ev.Err != nil:
		outcome = "error"
	}
	m.PageFetchesTotal.WithLabelValues(outcome).Inc()
	m.PageFetchDuration.Observe(ev.Took.Seconds())
}

func (m *Metrics) RecordQueued(source string) {
	m.QueuedTracksTotal.WithLabelValues(source).Inc()
}

func (m *Metrics) RecordPlaylistEdit(action string) {
	m.PlaylistEdits.WithLabelValues(action).Inc()
}
