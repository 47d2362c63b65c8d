/*
Package api is the control plane's REST surface. Controller wraps a
GroupManager behind a gorilla/mux router and exposes the group tree,
deployment history, and operational endpoints as JSON over HTTP:

	GET    /v2/groups[/{id}]                current group (or subtree)
	GET    /v2/groups[/{id}]/versions        version history for a subtree
	GET    /v2/groups[/{id}]/versions/{v}    a subtree as of a prior version
	POST   /v2/groups[/{id}]                 create a subtree
	PUT    /v2/groups[/{id}]                 update a subtree (?dryRun=true to plan only)
	DELETE /v2/groups[/{id}]                 remove a subtree
	GET    /v2/deployments                   deployment plans currently in flight
	DELETE /v2/deployments/{id}              cancel an in-flight deployment
	POST   /v2/cluster/voters                admin: join a node to the raft cluster
	GET    /healthz                          liveness
	GET    /readyz                           readiness (raft + storage)
	GET    /metrics                          Prometheus exposition

All mutating endpoints accept a raw snapshot.GroupUpdate body and return
{"deploymentId", "version"} on success; errors are rendered from
apierror.Error through the Kind-to-status mapping in package apierror.
Every registered route is wrapped with request-count and latency
instrumentation keyed by its path template.
*/
package api
