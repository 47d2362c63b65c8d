package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cazacugmihai/fleetctl/pkg/events"
	"github.com/cazacugmihai/fleetctl/pkg/pathid"
	"github.com/cazacugmihai/fleetctl/pkg/snapshot"
)

// TaskId identifies one running instance of an app.
type TaskId string

// TaskInfo is the minimal view of a running task the supervisor needs: its
// network address for HTTP/TCP probes, when it started (for grace period),
// and whether it is currently reachable (a network partition must not be
// treated as a health-check failure).
type TaskInfo struct {
	ID         TaskId
	Address    string // host:port, used by HTTP/TCP checks
	StartedAt  time.Time
	Reachable  bool
}

// Health is the supervisor's per-task judgment, derived from probe history.
type Health struct {
	ConsecutiveFailures int
	FirstSuccess        time.Time
	LastSuccess         time.Time
	LastFailure         time.Time
	LastFailureCause    string
	Alive               bool
}

func zeroHealth() Health {
	return Health{Alive: true}
}

// KillRequest is emitted when a task accumulates enough consecutive
// failures to warrant termination.
type KillRequest struct {
	AppId   pathid.PathId
	Version snapshot.Timestamp
	TaskId  TaskId
	Reason  string
}

// KillRequester is the narrow facade the supervisor uses to ask for a task
// to be killed. pkg/executor's registry satisfies this, resolving each
// request to the TaskLaunchFacade's Kill method.
type KillRequester interface {
	RequestKill(ctx context.Context, req KillRequest) error
}

// TaskLister supplies the supervisor's view of which tasks are currently
// running for an (appId, version) pair.
type TaskLister interface {
	RunningTasks(appId pathid.PathId, version snapshot.Timestamp) []TaskInfo
}

// Supervisor is the per-(appId, version, check) actor described in §4.6: it
// owns its own health map and is driven by ticks and probe results
// delivered on its own goroutine — no state is shared mutably with callers.
type Supervisor struct {
	appId   pathid.PathId
	version snapshot.Timestamp
	check   snapshot.HealthCheckSpec

	tasks  TaskLister
	killer KillRequester
	bus    *events.Broker

	mu     sync.Mutex
	health map[TaskId]Health

	// preUpdateAlive records each task's alive state as it stood just
	// before this supervisor first folded a result for it, so
	// HealthStatusChanged compares against that pre-update observation per
	// the resolved open question in DESIGN.md, not against the previous
	// tick.
	preUpdateAlive map[TaskId]bool

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewSupervisor creates a supervisor for one (appId, version, check) tuple.
// It does not start probing until Start is called.
func NewSupervisor(appId pathid.PathId, version snapshot.Timestamp, check snapshot.HealthCheckSpec, tasks TaskLister, killer KillRequester, bus *events.Broker) *Supervisor {
	return &Supervisor{
		appId:          appId,
		version:        version,
		check:          check,
		tasks:          tasks,
		killer:         killer,
		bus:            bus,
		health:         map[TaskId]Health{},
		preUpdateAlive: map[TaskId]bool{},
		stopCh:         make(chan struct{}),
		doneCh:         make(chan struct{}),
	}
}

// Start runs the tick loop until Stop is called.
func (s *Supervisor) Start(ctx context.Context) {
	go s.run(ctx)
}

// Stop ends the supervisor's tick loop and waits for it to exit.
func (s *Supervisor) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

func (s *Supervisor) run(ctx context.Context) {
	defer close(s.doneCh)

	interval := time.Duration(s.check.IntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.tick(ctx)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// tick implements the probe protocol of §4.6: purge stale health records,
// dispatch one probe per running task, fold each result.
func (s *Supervisor) tick(ctx context.Context) {
	if s.check.Protocol == snapshot.HealthCheckCommand {
		// COMMAND checks are delivered asynchronously by the task runtime,
		// never dispatched here.
		return
	}

	running := s.tasks.RunningTasks(s.appId, s.version)
	runningByID := make(map[TaskId]TaskInfo, len(running))
	for _, t := range running {
		runningByID[t.ID] = t
	}

	s.mu.Lock()
	for id := range s.health {
		if _, ok := runningByID[id]; !ok {
			delete(s.health, id)
		}
	}
	s.mu.Unlock()

	timeout := time.Duration(s.check.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	for _, task := range running {
		task := task
		go func() {
			checkCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			result := s.probe(checkCtx, task)
			s.fold(task, result)
		}()
	}
}

func (s *Supervisor) probe(ctx context.Context, task TaskInfo) Result {
	var checker Checker
	switch s.check.Protocol {
	case snapshot.HealthCheckHTTP:
		checker = NewHTTPCheckerForTask(task, s.check)
	case snapshot.HealthCheckTCP:
		checker = NewTCPCheckerForTask(task, s.check)
	default:
		return Result{Healthy: true, CheckedAt: time.Now()}
	}
	return checker.Check(ctx)
}

// ObserveResult folds an externally-delivered probe result (used for
// COMMAND checks reported by the task runtime, and callable directly by
// tests). v must equal the supervisor's own version or it is dropped per
// §4.6's Idle/HealthResult transition.
func (s *Supervisor) ObserveResult(task TaskInfo, version snapshot.Timestamp, result Result) {
	if !version.Equal(s.version) {
		return
	}
	s.fold(task, result)
}

func (s *Supervisor) fold(task TaskInfo, result Result) {
	s.mu.Lock()
	h, existed := s.health[task.ID]
	if !existed {
		h = zeroHealth()
	}
	wasAlive := h.Alive

	gracePeriod := time.Duration(s.check.GracePeriodSeconds) * time.Second
	inGracePeriod := h.FirstSuccess.IsZero() && time.Since(task.StartedAt) < gracePeriod

	var shouldPublishFailure, shouldRequestKill bool

	switch {
	case result.Healthy:
		if h.FirstSuccess.IsZero() {
			h.FirstSuccess = result.CheckedAt
		}
		h.LastSuccess = result.CheckedAt
		h.ConsecutiveFailures = 0
		h.Alive = true

	case inGracePeriod:
		// Grace suppresses pre-first-success failures entirely.

	default:
		h.ConsecutiveFailures++
		h.LastFailure = result.CheckedAt
		h.LastFailureCause = result.Message
		shouldPublishFailure = true

		maxFailures := s.check.MaxConsecutiveFailures
		h.Alive = maxFailures == 0 || h.ConsecutiveFailures < maxFailures
		if maxFailures > 0 && h.ConsecutiveFailures >= maxFailures && task.Reachable {
			shouldRequestKill = true
		}
	}

	s.health[task.ID] = h
	if _, seenPreUpdate := s.preUpdateAlive[task.ID]; !seenPreUpdate {
		s.preUpdateAlive[task.ID] = wasAlive
	}
	preUpdate := s.preUpdateAlive[task.ID]
	s.mu.Unlock()

	if shouldPublishFailure && s.bus != nil {
		s.bus.Publish(events.FailedHealthCheck, h.LastFailureCause, map[string]string{
			"appId":  s.appId.String(),
			"taskId": string(task.ID),
		})
	}

	if shouldRequestKill && s.killer != nil {
		_ = s.killer.RequestKill(context.Background(), KillRequest{
			AppId:   s.appId,
			Version: s.version,
			TaskId:  task.ID,
			Reason:  "FailedHealthChecks",
		})
		if s.bus != nil {
			s.bus.Publish(events.UnhealthyTaskKillEvent, "requested kill after repeated health-check failures", map[string]string{
				"appId":  s.appId.String(),
				"taskId": string(task.ID),
			})
		}
	}

	if h.Alive != preUpdate && s.bus != nil {
		s.bus.Publish(events.HealthStatusChanged, "", map[string]string{
			"appId":   s.appId.String(),
			"taskId":  string(task.ID),
			"version": s.version.String(),
			"alive":   fmt.Sprintf("%t", h.Alive),
		})
	}
}

// TaskHealth returns the current health record for a task, or the zero
// value if none has been recorded yet.
func (s *Supervisor) TaskHealth(task TaskId) Health {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.health[task]
	if !ok {
		return zeroHealth()
	}
	return h
}

// AppHealth returns the health records for every task this supervisor
// currently tracks.
func (s *Supervisor) AppHealth() map[TaskId]Health {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[TaskId]Health, len(s.health))
	for k, v := range s.health {
		out[k] = v
	}
	return out
}
