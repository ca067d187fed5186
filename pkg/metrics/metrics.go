// Package metrics exposes Prometheus collectors for the orchestrator's
// tick loops and restart activity. All recorder methods are nil-safe so
// components can hold a nil *Metrics when metrics are disabled.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quantfleet/fleet-orchestrator/pkg/logging"
)

const (
	namespace = "fleet"
	subsystem = "orchestrator"
)

// Metrics bundles the orchestrator's Prometheus collectors
type Metrics struct {
	tickDuration   *prometheus.HistogramVec
	tickFailures   *prometheus.CounterVec
	workerRestarts *prometheus.CounterVec
	workerBlocks   *prometheus.CounterVec
	workersBlocked prometheus.Gauge
	activeFaults   *prometheus.GaugeVec
	accountsToRun  prometheus.Gauge
}

// MustNewMetrics constructs the collectors and registers them with reg.
// Pass a fresh registry in tests; nil means the default registerer.
// Registration errors panic, mirroring promauto semantics.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		tickDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "tick_duration_seconds",
				Help:      "Duration of one tick of each orchestrator loop.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"loop", "status"},
		),
		tickFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "tick_failures_total",
				Help:      "Total ticks that ended in an error, by loop and error type.",
			},
			[]string{"loop", "reason"},
		),
		workerRestarts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "worker_restarts_total",
				Help:      "Total successful worker restarts issued by the watchdog.",
			},
			[]string{"account"},
		),
		workerBlocks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "worker_blocks_total",
				Help:      "Total transitions of a worker into the blocked state.",
			},
			[]string{"account"},
		),
		workersBlocked: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "workers_blocked",
				Help:      "Workers currently blocked, per the latest snapshot.",
			},
		),
		activeFaults: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "active_faults",
				Help:      "Active runtime-contract faults in the latest snapshot, by severity.",
			},
			[]string{"severity"},
		),
		accountsToRun: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "accounts_directed_to_run",
				Help:      "Accounts with effective_should_run=true in the latest snapshot.",
			},
		),
	}

	reg.MustRegister(
		m.tickDuration,
		m.tickFailures,
		m.workerRestarts,
		m.workerBlocks,
		m.workersBlocked,
		m.activeFaults,
		m.accountsToRun,
	)
	return m
}

// ObserveTickDuration records one tick of the named loop
func (m *Metrics) ObserveTickDuration(loop, status string, duration time.Duration) {
	if m == nil || m.tickDuration == nil {
		return
	}
	m.tickDuration.WithLabelValues(loop, status).Observe(duration.Seconds())
}

// IncTickFailure counts a failed tick of the named loop
func (m *Metrics) IncTickFailure(loop, reason string) {
	if m == nil || m.tickFailures == nil {
		return
	}
	m.tickFailures.WithLabelValues(loop, reason).Inc()
}

// IncWorkerRestart counts a successful restart of an account's worker
func (m *Metrics) IncWorkerRestart(account string) {
	if m == nil || m.workerRestarts == nil {
		return
	}
	m.workerRestarts.WithLabelValues(account).Inc()
}

// IncWorkerBlock counts a worker entering the blocked state
func (m *Metrics) IncWorkerBlock(account string) {
	if m == nil || m.workerBlocks == nil {
		return
	}
	m.workerBlocks.WithLabelValues(account).Inc()
}

// SetWorkersBlocked publishes the current blocked-worker count
func (m *Metrics) SetWorkersBlocked(count int) {
	if m == nil || m.workersBlocked == nil {
		return
	}
	m.workersBlocked.Set(float64(count))
}

// SetActiveFaults publishes the current fault count for one severity
func (m *Metrics) SetActiveFaults(severity string, count int) {
	if m == nil || m.activeFaults == nil {
		return
	}
	m.activeFaults.WithLabelValues(severity).Set(float64(count))
}

// SetAccountsDirectedToRun publishes how many accounts the latest
// snapshot directs to run
func (m *Metrics) SetAccountsDirectedToRun(count int) {
	if m == nil || m.accountsToRun == nil {
		return
	}
	m.accountsToRun.Set(float64(count))
}

// StartServer exposes /metrics on addr in a background goroutine and
// returns the server for graceful shutdown
func StartServer(addr string, logger logging.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logger.Infof("Metrics server listening, addr: %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("Metrics server failed, addr: %s, error: %v", addr, err)
		}
	}()
	return server
}

// StopServer shuts the metrics server down, bounded by ctx
func StopServer(ctx context.Context, server *http.Server) error {
	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}
