/*
Package metrics defines and registers the control plane's Prometheus
metrics and exposes them over HTTP for scraping. It also provides a
liveness JSON endpoint (see health.go) and a Timer helper for recording
operation durations into histograms. Readiness is richer than liveness
since it needs a live GroupManager to consult, so it's served from
pkg/api's own /readyz handler instead of from here.

# Metrics

Group tree:

	fleetctl_groups_total       - number of groups in the root group tree
	fleetctl_apps_total         - number of apps declared across the tree

Deployments:

	fleetctl_deployment_in_flight         - 1 if a deployment is running, else 0
	fleetctl_deployments_total{outcome}   - deployments by outcome (success/failed/canceled)
	fleetctl_deployment_duration_seconds  - deployment wall-clock duration

Health supervision:

	fleetctl_health_checks_failed_total   - failed health probe count
	fleetctl_unhealthy_task_kills_total   - tasks killed for failing health checks

Raft:

	fleetctl_raft_is_leader       - 1 if this node is the Raft leader
	fleetctl_raft_log_index       - current Raft log index
	fleetctl_raft_applied_index   - last applied Raft log index

API:

	fleetctl_api_requests_total{route,status}        - API requests
	fleetctl_api_request_duration_seconds{route}      - API request latency

# Usage

	metrics.DeploymentsTotal.WithLabelValues("success").Inc()

	timer := metrics.NewTimer()
	plan, err := mgr.UpdateRoot(path, update, v, false)
	timer.ObserveDuration(metrics.DeploymentDuration)

	http.Handle("/metrics", metrics.Handler())
	http.Handle("/healthz", metrics.LivenessHandler())

A Collector keeps the gauges in sync with a running GroupManager: it
polls group/app/Raft state on a ticker and subscribes to the manager's
event broker to turn deployment and health events into counters.

	collector := metrics.NewCollector(mgr)
	collector.Start()
	defer collector.Stop()
*/
package metrics
