// Package telemetry is the database's observability surface: a Reporter
// for fatal/durability failures (backed by Sentry when configured) and a
// Prometheus metrics set the Database registers into a caller-supplied
// registry. Nothing here opens a network listener.
package telemetry

import (
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/prometheus/client_golang/prometheus"
)

// Reporter receives fatal errors the Database encounters during restore
// or during a WAL flush. A nil Reporter passed to kvdb.New or
// tree.NewStore is replaced by NoopReporter.
type Reporter interface {
	ReportFatal(component string, err error)
}

type noopReporter struct{}

func (noopReporter) ReportFatal(string, error) {}

// NoopReporter never reports anything; it is the default when no Sentry
// DSN is configured.
func NoopReporter() Reporter { return noopReporter{} }

// SentryReporter forwards fatal errors to an already-initialized Sentry
// hub. Construct sentry.Init(...) once at process startup; this type only
// wraps sentry.CaptureException with a component tag.
type SentryReporter struct {
	hub *sentry.Hub
}

// NewSentryReporter wraps the current Sentry hub. Pass nil to use
// sentry.CurrentHub().
func NewSentryReporter(hub *sentry.Hub) *SentryReporter {
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	return &SentryReporter{hub: hub}
}

func (r *SentryReporter) ReportFatal(component string, err error) {
	if err == nil || r.hub == nil {
		return
	}
	r.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", component)
		r.hub.CaptureException(err)
	})
}

// Metrics is the set of Prometheus collectors the WAL, Tree and derived
// views update. Register once per Database via NewMetrics and pass the
// same instance to every component that needs it.
type Metrics struct {
	WalFlushLatency   prometheus.Histogram
	WalBatchSize      prometheus.Histogram
	WalFlushFailures  prometheus.Counter
	TreeWrites        *prometheus.CounterVec
	TreeReads         *prometheus.CounterVec
	ViewFanoutLatency *prometheus.HistogramVec
}

// NewMetrics creates and registers the collectors against reg. Passing a
// fresh prometheus.NewRegistry() keeps the database's metrics isolated
// from any process-global registry the host application may also use.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		WalFlushLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "kvdb_wal_flush_latency_seconds",
			Help:    "Latency of a single WAL group-commit flush.",
			Buckets: prometheus.DefBuckets,
		}),
		WalBatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "kvdb_wal_batch_entries",
			Help:    "Number of entries flushed per WAL group commit.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		WalFlushFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kvdb_wal_flush_failures_total",
			Help: "Number of WAL flushes that failed, rejecting every append in their batch.",
		}),
		TreeWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kvdb_tree_writes_total",
			Help: "Accepted insert/update/delete operations per tree.",
		}, []string{"tree", "op"}),
		TreeReads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kvdb_tree_reads_total",
			Help: "Get/list operations per tree.",
		}, []string{"tree"}),
		ViewFanoutLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kvdb_view_fanout_latency_seconds",
			Help:    "Time a source tree write spent waiting on one derived view's acknowledgement.",
			Buckets: prometheus.DefBuckets,
		}, []string{"view"}),
	}
	reg.MustRegister(
		m.WalFlushLatency, m.WalBatchSize, m.WalFlushFailures,
		m.TreeWrites, m.TreeReads, m.ViewFanoutLatency,
	)
	return m
}

// ObserveFanout is a small helper so a source tree's fan-out loop can time
// each view's Notify call with one line.
func (m *Metrics) ObserveFanout(view string, start time.Time) {
	if m == nil {
		return
	}
	m.ViewFanoutLatency.WithLabelValues(view).Observe(time.Since(start).Seconds())
}

// ObserveWrite counts one accepted insert/update/delete against tree. op is
// "set" or "del".
func (m *Metrics) ObserveWrite(tree, op string) {
	if m == nil {
		return
	}
	m.TreeWrites.WithLabelValues(tree, op).Inc()
}

// ObserveRead counts one Get/First/Last/List call against tree.
func (m *Metrics) ObserveRead(tree string) {
	if m == nil {
		return
	}
	m.TreeReads.WithLabelValues(tree).Inc()
}
