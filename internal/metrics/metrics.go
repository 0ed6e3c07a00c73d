// Package metrics exposes Prometheus instrumentation for the ledger and its
// HTTP surface. A nil *Ledger is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "stockledger"

type Ledger struct {
	registry *prometheus.Registry

	mutations       *prometheus.CounterVec
	rejections      *prometheus.CounterVec
	commits         *prometheus.CounterVec
	txDuration      *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// New builds the ledger metrics on a fresh registry that also carries the Go
// runtime and process collectors.
func New() *Ledger {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Ledger{
		registry: reg,
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stock",
			Name:      "mutations_total",
			Help:      "Stock history entries written, by reason.",
		}, []string{"reason"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stock",
			Name:      "guard_rejections_total",
			Help:      "Operations rejected because stock would go negative.",
		}, []string{"operation"}),
		commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "commits_total",
			Help:      "Committed ledger transactions, by operation.",
		}, []string{"operation"}),
		txDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "transaction_duration_seconds",
			Help:      "Duration of ledger transactions in seconds.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"operation", "outcome"}),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	reg.MustRegister(m.mutations, m.rejections, m.commits, m.txDuration, m.requestTotal, m.requestDuration)
	return m
}

func (m *Ledger) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Ledger) ObserveMutation(reason string) {
	if m == nil {
		return
	}
	m.mutations.WithLabelValues(reason).Inc()
}

func (m *Ledger) ObserveRejection(operation string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(operation).Inc()
}

func (m *Ledger) ObserveCommit(operation string) {
	if m == nil {
		return
	}
	m.commits.WithLabelValues(operation).Inc()
}

// ObserveTx records how long a ledger transaction took and whether it
// committed.
func (m *Ledger) ObserveTx(operation string, started time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "commit"
	if err != nil {
		outcome = "rollback"
	}
	m.txDuration.WithLabelValues(operation, outcome).Observe(time.Since(started).Seconds())
}

func (m *Ledger) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requestTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus text and OpenMetrics formats.
func (m *Ledger) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}
