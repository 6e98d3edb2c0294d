// Package metrics exposes Prometheus counters for the skip engine. All
// methods are safe on a nil receiver so instrumentation points never need
// guarding.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the process-wide Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	segmentFetchesTotal prometheus.Counter
	segmentErrorsTotal  prometheus.Counter
	cacheHitsTotal      prometheus.Counter
	cacheMissesTotal    prometheus.Counter
	skipsFiredTotal     prometheus.Counter
	adsMutedTotal       prometheus.Counter
	adsSkippedTotal     prometheus.Counter
	watchdogRestarts    prometheus.Counter
	reconnectsTotal     prometheus.Counter
	activeMonitors      prometheus.Gauge
}

// New creates and registers the collectors on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		segmentFetchesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tvskip_segment_fetches_total",
			Help: "Total segment-metadata service fetches",
		}),
		segmentErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tvskip_segment_errors_total",
			Help: "Total segment-metadata fetches degraded to an empty result",
		}),
		cacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tvskip_segment_cache_hits_total",
			Help: "Total segment cache hits",
		}),
		cacheMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tvskip_segment_cache_misses_total",
			Help: "Total segment cache misses",
		}),
		skipsFiredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tvskip_skips_fired_total",
			Help: "Total seek commands issued to jump over a segment",
		}),
		adsMutedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tvskip_ads_muted_total",
			Help: "Total mute commands issued for ad breaks",
		}),
		adsSkippedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tvskip_ads_skipped_total",
			Help: "Total skip-ad commands issued",
		}),
		watchdogRestarts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tvskip_watchdog_restarts_total",
			Help: "Total stalled subscriptions restarted by the watchdog",
		}),
		reconnectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tvskip_reconnects_total",
			Help: "Total full reconnect cycles entered by device monitors",
		}),
		activeMonitors: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tvskip_active_monitors",
			Help: "Number of device monitors currently running",
		}),
	}

	registry.MustRegister(
		m.segmentFetchesTotal,
		m.segmentErrorsTotal,
		m.cacheHitsTotal,
		m.cacheMissesTotal,
		m.skipsFiredTotal,
		m.adsMutedTotal,
		m.adsSkippedTotal,
		m.watchdogRestarts,
		m.reconnectsTotal,
		m.activeMonitors,
	)
	return m
}

func (m *Metrics) IncSegmentFetches() {
	if m != nil {
		m.segmentFetchesTotal.Inc()
	}
}

func (m *Metrics) IncSegmentErrors() {
	if m != nil {
		m.segmentErrorsTotal.Inc()
	}
}

func (m *Metrics) IncCacheHits() {
	if m != nil {
		m.cacheHitsTotal.Inc()
	}
}

func (m *Metrics) IncCacheMisses() {
	if m != nil {
		m.cacheMissesTotal.Inc()
	}
}

func (m *Metrics) IncSkipsFired() {
	if m != nil {
		m.skipsFiredTotal.Inc()
	}
}

func (m *Metrics) IncAdsMuted() {
	if m != nil {
		m.adsMutedTotal.Inc()
	}
}

func (m *Metrics) IncAdsSkipped() {
	if m != nil {
		m.adsSkippedTotal.Inc()
	}
}

func (m *Metrics) IncWatchdogRestarts() {
	if m != nil {
		m.watchdogRestarts.Inc()
	}
}

func (m *Metrics) IncReconnects() {
	if m != nil {
		m.reconnectsTotal.Inc()
	}
}

func (m *Metrics) MonitorStarted() {
	if m != nil {
		m.activeMonitors.Inc()
	}
}

func (m *Metrics) MonitorStopped() {
	if m != nil {
		m.activeMonitors.Dec()
	}
}

// Handler serves the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
