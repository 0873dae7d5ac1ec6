// Package metrics exposes Prometheus metrics for identification runs.
//
// All recording methods are safe to call on a nil *Metrics, so components
// can take metrics as an optional dependency.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Run results
const (
	RunMatched       = "matched"
	RunNoMatch       = "no_match"
	RunDownloadError = "download_error"
	RunConfigError   = "config_error"
	RunCancelled     = "cancelled"
)

// Metrics contains the Prometheus collectors for the identification pipeline
type Metrics struct {
	registry *prometheus.Registry

	providerAttemptsTotal   *prometheus.CounterVec
	providerAttemptDuration *prometheus.HistogramVec
	segmentsTotal           *prometheus.CounterVec
	segmentDuration         prometheus.Histogram
	runsTotal               *prometheus.CounterVec
	cacheHitsTotal          prometheus.Counter
}

// New creates the collectors and registers them on registry.
// A nil registry gets a fresh one.
func New(registry *prometheus.Registry) (*Metrics, error) {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		registry: registry,
		providerAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trackid_provider_attempts_total",
				Help: "Identification attempts per provider and outcome",
			},
			[]string{"provider", "outcome"}, // outcome: matched, no_match, error
		),
		providerAttemptDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "trackid_provider_attempt_duration_seconds",
				Help: "Time taken by a single provider query",
				// 250ms to ~64s
				Buckets: prometheus.ExponentialBuckets(0.25, 2, 9),
			},
			[]string{"provider"},
		),
		segmentsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trackid_segments_total",
				Help: "Audio segments materialized, by status",
			},
			[]string{"status"}, // status: ok, error
		),
		segmentDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "trackid_segment_duration_seconds",
				Help:    "Time taken to download or extract one audio segment",
				Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
			},
		),
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trackid_runs_total",
				Help: "Identification runs by result",
			},
			[]string{"result"},
		),
		cacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "trackid_cache_hits_total",
				Help: "Identification requests answered from the result cache",
			},
		),
	}

	collectors := []prometheus.Collector{
		m.providerAttemptsTotal,
		m.providerAttemptDuration,
		m.segmentsTotal,
		m.segmentDuration,
		m.runsTotal,
		m.cacheHitsTotal,
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register metric: %w", err)
		}
	}

	return m, nil
}

// Registry returns the registry the collectors live on
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordAttempt records one provider query
func (m *Metrics) RecordAttempt(provider, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.providerAttemptsTotal.WithLabelValues(provider, outcome).Inc()
	m.providerAttemptDuration.WithLabelValues(provider).Observe(d.Seconds())
}

// RecordSegment records one segment acquisition
func (m *Metrics) RecordSegment(ok bool, d time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "error"
	}
	m.segmentsTotal.WithLabelValues(status).Inc()
	m.segmentDuration.Observe(d.Seconds())
}

// RecordRun records the final result of an identification run
func (m *Metrics) RecordRun(result string) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(result).Inc()
}

// RecordCacheHit records a request served from the result cache
func (m *Metrics) RecordCacheHit() {
	if m == nil {
		return
	}
	m.cacheHitsTotal.Inc()
}
