// Package metrics provides Prometheus metrics for the query bridge.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the bridge.
type Metrics struct {
	// Session metrics
	SessionsActive  prometheus.Gauge
	SessionsCreated prometheus.Counter
	ArenaBytes      prometheus.Gauge

	// Registry metrics
	TablesRegistered prometheus.Counter
	RowsRegistered   prometheus.Counter

	// Stream metrics
	StreamsActive    prometheus.Gauge
	BatchesExported  prometheus.Counter
	RowsExported     prometheus.Counter
	ExecuteLatency   prometheus.Histogram
	ExportsInFlight  prometheus.Gauge
	DoubleReleases   prometheus.Counter
	BoundaryFailures *prometheus.CounterVec

	// Ingest metrics
	IngestedRecords *prometheus.CounterVec
}

// Default is registered with the default Prometheus registry.
var Default = New("querybridge", prometheus.DefaultRegisterer)

// New creates the metric set under namespace and registers it with reg.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of sessions created and not yet freed",
		}),
		SessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_created_total",
			Help:      "Total number of sessions created",
		}),
		ArenaBytes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "arena_bytes",
			Help:      "Bytes held by session arenas",
		}),

		TablesRegistered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tables_registered_total",
			Help:      "Total number of successful table registrations",
		}),
		RowsRegistered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_registered_total",
			Help:      "Total number of rows registered across all tables",
		}),

		StreamsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "streams_active",
			Help:      "Number of streams created and not yet freed",
		}),
		BatchesExported: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_exported_total",
			Help:      "Total number of result batches exported",
		}),
		RowsExported: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_exported_total",
			Help:      "Total number of result rows exported",
		}),
		ExecuteLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execute_latency_seconds",
			Help:      "Plan decoding and resolution latency in seconds",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		}),
		ExportsInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "exports_in_flight",
			Help:      "Exported arrays whose release callback has not fired yet",
		}),
		DoubleReleases: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "double_releases_total",
			Help:      "Release callbacks invoked on an already closed lease",
		}),
		BoundaryFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "boundary_failures_total",
			Help:      "Failed boundary calls by operation and error code",
		}, []string{"operation", "code"}),

		IngestedRecords: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingested_records_total",
			Help:      "Records consumed from ingest topics",
		}, []string{"topic"}),
	}
}

// Handler returns the HTTP handler for the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
