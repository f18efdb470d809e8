// Package metrics provides Prometheus collectors for the control plane.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once     sync.Once
	instance *Metrics
)

// Metrics holds every collector the control plane records.
type Metrics struct {
	// Deployment pipeline
	DeploymentsTotal   *prometheus.CounterVec
	DeploymentDuration *prometheus.HistogramVec
	SandboxesActive    prometheus.Gauge

	// HTTP surface
	HTTPRequestDuration *prometheus.HistogramVec

	// Reconciler
	ReconcileTicks     prometheus.Counter
	DriftCorrections   prometheus.Counter
	AutoSleepsTotal    *prometheus.CounterVec
	HealthProbeFailure prometheus.Counter
}

// Get returns the singleton Metrics instance.
func Get() *Metrics {
	once.Do(func() {
		instance = newMetrics()
	})
	return instance
}

func newMetrics() *Metrics {
	m := &Metrics{}

	m.DeploymentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "unideploy",
			Name:      "deployments_total",
			Help:      "Total number of deployments by terminal status and tier",
		},
		[]string{"status", "tier"},
	)

	m.DeploymentDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "unideploy",
			Name:      "deployment_duration_seconds",
			Help:      "Time spent provisioning a sandbox for a deployment",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"tier"},
	)

	m.SandboxesActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "unideploy",
			Name:      "sandboxes_active",
			Help:      "Number of active sandboxes",
		},
	)

	m.HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "unideploy",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	m.ReconcileTicks = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "unideploy",
			Name:      "reconcile_ticks_total",
			Help:      "Completed maintenance loop ticks",
		},
	)

	m.DriftCorrections = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "unideploy",
			Name:      "drift_corrections_total",
			Help:      "Project status corrections written by the reconciler",
		},
	)

	m.AutoSleepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "unideploy",
			Name:      "auto_sleeps_total",
			Help:      "Projects put to sleep by the reconciler",
		},
		[]string{"reason"},
	)

	m.HealthProbeFailure = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "unideploy",
			Name:      "health_probe_failures_total",
			Help:      "Failed health probes against live deployments",
		},
	)

	return m
}

// TrackDeployment increments the deployments counter.
func (m *Metrics) TrackDeployment(status, tier string) {
	m.DeploymentsTotal.WithLabelValues(status, tier).Inc()
}

// ObserveDeployDuration records the sandbox provisioning time for a tier.
func (m *Metrics) ObserveDeployDuration(tier string, d time.Duration) {
	m.DeploymentDuration.WithLabelValues(tier).Observe(d.Seconds())
}
