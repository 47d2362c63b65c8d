/*
Package health implements the control plane's per-task health probing and
the fold rules that turn a stream of probe results into an alive/dead
judgment.

# Layers

Checker is the low-level probe primitive: HTTPChecker, TCPChecker and
ExecChecker all implement Check(ctx) Result against a single target.
They know nothing about apps, versions, or consecutive-failure counting.

Supervisor is the stateful layer on top: one Supervisor owns one
(appId, version, check) tuple, ticks on the check's configured interval,
dispatches a Checker per running task, and folds each Result into a
Health record. COMMAND checks are never dispatched by the supervisor
itself — the task runtime reports those results directly through
ObserveResult.

# Fold rules

  - A task inside its grace period accumulates no failures until its
    first successful probe; once a probe has succeeded, later failures
    count even inside the grace period.
  - Alive holds exactly while ConsecutiveFailures < MaxConsecutiveFailures;
    with MaxConsecutiveFailures 0 a task stays alive.
  - A task crossing that threshold while still reachable triggers a kill
    request; an unreachable task never does, since a network partition
    is not evidence the task itself is unhealthy.
  - HealthStatusChanged compares against the alive state recorded the
    first time this supervisor observed the task, not whatever the
    previous tick happened to see.

# See Also

  - pkg/planner and pkg/executor drive the deployments whose rollout
    gating depends on the health this package reports.
*/
package health
