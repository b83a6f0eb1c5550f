// Package metrics exposes deploy-core's process-local prometheus
// instrumentation. It never stores historical series itself: that is the
// monitoring collaborator's job.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DeploymentsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "obtura",
		Subsystem: "deploy_core",
		Name:      "deployments_in_flight",
		Help:      "Number of deployments currently between admission and a terminal phase.",
	})

	PhaseTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "obtura",
		Subsystem: "deploy_core",
		Name:      "phase_transitions_total",
		Help:      "Count of strategy-state phase transitions, labeled by strategy and phase.",
	}, []string{"strategy", "phase"})

	DeploymentDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "obtura",
		Subsystem: "deploy_core",
		Name:      "deployment_duration_seconds",
		Help:      "Wall-clock duration of a deployment from admission to terminal phase.",
		Buckets:   prometheus.ExponentialBuckets(5, 2, 10),
	}, []string{"strategy", "outcome"})

	QuotaRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "obtura",
		Subsystem: "deploy_core",
		Name:      "quota_rejections_total",
		Help:      "Count of deployments rejected at admission, labeled by reason.",
	}, []string{"reason"})
)
