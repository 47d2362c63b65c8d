package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Group tree metrics
	GroupsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleetctl_groups_total",
			Help: "Total number of groups in the root group tree",
		},
	)

	AppsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleetctl_apps_total",
			Help: "Total number of apps declared across the root group tree",
		},
	)

	// Deployment metrics
	DeploymentInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleetctl_deployment_in_flight",
			Help: "Whether a deployment is currently running against the root group (1) or not (0)",
		},
	)

	DeploymentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetctl_deployments_total",
			Help: "Total number of deployments by outcome",
		},
		[]string{"outcome"},
	)

	DeploymentDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fleetctl_deployment_duration_seconds",
			Help:    "Wall-clock duration of a deployment from UpdateRoot to its terminal outcome",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Health supervision metrics
	HealthChecksFailedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetctl_health_checks_failed_total",
			Help: "Total number of individual failed health check probes",
		},
	)

	UnhealthyTaskKillsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetctl_unhealthy_task_kills_total",
			Help: "Total number of tasks killed for exceeding a health check's failure threshold",
		},
	)

	// Raft metrics
	RaftLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleetctl_raft_is_leader",
			Help: "Whether this node is the Raft leader (1 = leader, 0 = follower)",
		},
	)

	RaftLogIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleetctl_raft_log_index",
			Help: "Current Raft log index",
		},
	)

	RaftAppliedIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleetctl_raft_applied_index",
			Help: "Last applied Raft log index",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetctl_api_requests_total",
			Help: "Total number of API requests by route and status",
		},
		[]string{"route", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fleetctl_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

func init() {
	prometheus.MustRegister(GroupsTotal)
	prometheus.MustRegister(AppsTotal)
	prometheus.MustRegister(DeploymentInFlight)
	prometheus.MustRegister(DeploymentsTotal)
	prometheus.MustRegister(DeploymentDuration)
	prometheus.MustRegister(HealthChecksFailedTotal)
	prometheus.MustRegister(UnhealthyTaskKillsTotal)
	prometheus.MustRegister(RaftLeader)
	prometheus.MustRegister(RaftLogIndex)
	prometheus.MustRegister(RaftAppliedIndex)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
