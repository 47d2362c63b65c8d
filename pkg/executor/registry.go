package executor

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cazacugmihai/fleetctl/pkg/events"
	"github.com/cazacugmihai/fleetctl/pkg/health"
	"github.com/cazacugmihai/fleetctl/pkg/pathid"
	"github.com/cazacugmihai/fleetctl/pkg/runtime"
	"github.com/cazacugmihai/fleetctl/pkg/snapshot"
)

// appKey identifies one (appId, version) pair the registry tracks.
func appKey(appId pathid.PathId, version snapshot.Timestamp) string {
	return appId.String() + "@" + version.String()
}

// registry is the DeploymentExecutor's bookkeeping for everything it has
// launched: which task handles are live for which (appId, version), and
// the HealthSupervisor for each (appId, version, check) that owns at least
// one running task. It satisfies health.TaskLister and health.KillRequester
// on top of a runtime.TaskLaunchFacade so a Supervisor never needs to know
// a container runtime exists.
type registry struct {
	facade  runtime.TaskLaunchFacade
	bus     *events.Broker
	secrets SecretOpener

	mu           sync.Mutex
	handles      map[string][]runtime.TaskHandle
	supervisors  map[string][]*health.Supervisor
	commandStops map[string][]chan struct{}
	secretDirs   map[string]string // ContainerID -> materialized secrets directory
}

func newRegistry(facade runtime.TaskLaunchFacade, bus *events.Broker, secrets SecretOpener) *registry {
	return &registry{
		facade:       facade,
		bus:          bus,
		secrets:      secrets,
		handles:      map[string][]runtime.TaskHandle{},
		supervisors:  map[string][]*health.Supervisor{},
		commandStops: map[string][]chan struct{}{},
		secretDirs:   map[string]string{},
	}
}

// launch starts instance idx of spec, routing through the facade's
// SecretLauncher capability with decrypted secret material bind-mounted in
// when spec declares any and the facade supports it, falling back to a
// plain Launch otherwise.
func (r *registry) launch(ctx context.Context, appId pathid.PathId, version snapshot.Timestamp, spec snapshot.AppSpec, idx int) (runtime.TaskHandle, error) {
	if len(spec.Secrets) == 0 || r.secrets == nil {
		return r.facade.Launch(ctx, appId, version, spec, idx)
	}
	mounter, ok := r.facade.(runtime.SecretLauncher)
	if !ok {
		return r.facade.Launch(ctx, appId, version, spec, idx)
	}

	dir, err := materializeSecrets(r.secrets, spec.Secrets)
	if err != nil {
		return runtime.TaskHandle{}, fmt.Errorf("materialize secrets for %s: %w", appId, err)
	}

	handle, err := mounter.LaunchWithSecretsMount(ctx, appId, version, spec, idx, dir)
	if err != nil {
		os.RemoveAll(dir)
		return runtime.TaskHandle{}, err
	}

	r.mu.Lock()
	r.secretDirs[handle.ContainerID] = dir
	r.mu.Unlock()
	return handle, nil
}

func (r *registry) track(appId pathid.PathId, version snapshot.Timestamp, handle runtime.TaskHandle) {
	key := appKey(appId, version)
	r.mu.Lock()
	r.handles[key] = append(r.handles[key], handle)
	r.mu.Unlock()
}

// untrack drops handle from the tracked set and reports whether the
// (appId, version) pair now has no tasks left.
func (r *registry) untrack(appId pathid.PathId, version snapshot.Timestamp, handle runtime.TaskHandle) bool {
	key := appKey(appId, version)

	r.mu.Lock()
	kept := r.handles[key][:0]
	for _, h := range r.handles[key] {
		if h.ContainerID != handle.ContainerID {
			kept = append(kept, h)
		}
	}
	r.handles[key] = kept
	dir, hadSecrets := r.secretDirs[handle.ContainerID]
	if hadSecrets {
		delete(r.secretDirs, handle.ContainerID)
	}
	empty := len(kept) == 0
	r.mu.Unlock()

	if hadSecrets {
		os.RemoveAll(dir)
	}
	return empty
}

func (r *registry) handlesFor(appId pathid.PathId, version snapshot.Timestamp) []runtime.TaskHandle {
	key := appKey(appId, version)
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]runtime.TaskHandle, len(r.handles[key]))
	copy(out, r.handles[key])
	return out
}

func (r *registry) instanceCount(appId pathid.PathId, version snapshot.Timestamp) int {
	return len(r.handlesFor(appId, version))
}

// aliveCount reports how many of (appId, version)'s tracked instances the
// HealthSupervisors covering it currently consider alive — a task counts
// as alive only if every one of its checks does. If the app declares no
// health checks there is nothing to consult, so every tracked instance
// counts. This is what RestartApp's minimumHealthCapacity bound consults,
// per §4.5's "the executor consults the HealthSupervisor for liveness".
func (r *registry) aliveCount(appId pathid.PathId, version snapshot.Timestamp) int {
	key := appKey(appId, version)

	r.mu.Lock()
	sups := append([]*health.Supervisor{}, r.supervisors[key]...)
	handles := append([]runtime.TaskHandle{}, r.handles[key]...)
	r.mu.Unlock()

	if len(sups) == 0 {
		return len(handles)
	}

	count := 0
	for _, h := range handles {
		alive := true
		for _, s := range sups {
			if !s.TaskHealth(health.TaskId(h.ContainerID)).Alive {
				alive = false
				break
			}
		}
		if alive {
			count++
		}
	}
	return count
}

// ensureSupervisors creates one Supervisor per health check declared on
// spec the first time an (appId, version) launches, per §4.6's lifecycle:
// "created when the executor first launches a workload version with that
// check".
func (r *registry) ensureSupervisors(ctx context.Context, appId pathid.PathId, version snapshot.Timestamp, checks []snapshot.HealthCheckSpec) {
	key := appKey(appId, version)
	// Supervisors outlive the deployment step that launched the version;
	// teardownSupervisors is what stops them.
	ctx = context.WithoutCancel(ctx)

	r.mu.Lock()
	if _, exists := r.supervisors[key]; exists {
		r.mu.Unlock()
		return
	}
	sups := make([]*health.Supervisor, 0, len(checks))
	var stops []chan struct{}
	for _, check := range checks {
		sup := health.NewSupervisor(appId, version, check, r, r, r.bus)
		sups = append(sups, sup)
		if check.Protocol == snapshot.HealthCheckCommand && len(check.Command) > 0 {
			stops = append(stops, r.dispatchCommandChecks(ctx, appId, version, check, sup))
		}
	}
	r.supervisors[key] = sups
	r.commandStops[key] = stops
	r.mu.Unlock()

	for _, s := range sups {
		s.Start(ctx)
	}
}

// dispatchCommandChecks runs the delivery side of a COMMAND health check:
// on the check's own interval it execs check.Command inside every running
// task via the facade's exec capability and folds the result into sup
// through ObserveResult, since the Supervisor's own tick loop never
// dispatches COMMAND checks itself. Returns a channel that stops the loop
// when closed; a nil return means the facade can't exec (e.g. in tests),
// so the check silently never fires, matching the Supervisor's longstanding
// behavior for COMMAND checks with no deliverer.
func (r *registry) dispatchCommandChecks(ctx context.Context, appId pathid.PathId, version snapshot.Timestamp, check snapshot.HealthCheckSpec, sup *health.Supervisor) chan struct{} {
	execer, ok := r.facade.(health.ContainerExecutor)
	if !ok {
		return nil
	}

	interval := time.Duration(check.IntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 10 * time.Second
	}
	timeout := time.Duration(check.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				for _, task := range r.RunningTasks(appId, version) {
					checker := health.NewExecChecker(check.Command).
						WithTimeout(timeout).
						WithContainer(string(task.ID), execer)
					sup.ObserveResult(task, version, checker.Check(ctx))
				}
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return stop
}

// teardownSupervisors stops and discards every Supervisor for (appId,
// version), called once its last running task has been untracked.
func (r *registry) teardownSupervisors(appId pathid.PathId, version snapshot.Timestamp) {
	key := appKey(appId, version)

	r.mu.Lock()
	sups := r.supervisors[key]
	stops := r.commandStops[key]
	delete(r.supervisors, key)
	delete(r.commandStops, key)
	r.mu.Unlock()

	for _, s := range sups {
		s.Stop()
	}
	for _, stop := range stops {
		if stop != nil {
			close(stop)
		}
	}
}

// RunningTasks implements health.TaskLister: the set a Supervisor probes is
// exactly what the executor currently has launched for that version.
func (r *registry) RunningTasks(appId pathid.PathId, version snapshot.Timestamp) []health.TaskInfo {
	handles := r.handlesFor(appId, version)
	out := make([]health.TaskInfo, 0, len(handles))
	for _, h := range handles {
		state, err := r.facade.Status(context.Background(), h)
		out = append(out, health.TaskInfo{
			ID:        health.TaskId(h.ContainerID),
			Address:   h.Address,
			StartedAt: h.StartedAt,
			Reachable: err == nil && state != runtime.TaskStateFailed,
		})
	}
	return out
}

// RequestKill implements health.KillRequester: a Supervisor's kill request
// resolves to the facade's immediate-termination path, then the handle is
// dropped from bookkeeping like any other instance exit.
func (r *registry) RequestKill(ctx context.Context, req health.KillRequest) error {
	handles := r.handlesFor(req.AppId, req.Version)
	for _, h := range handles {
		if h.ContainerID != string(req.TaskId) {
			continue
		}
		if err := r.facade.Kill(ctx, h); err != nil {
			return fmt.Errorf("kill %s: %w", req.TaskId, err)
		}
		if r.untrack(req.AppId, req.Version, h) {
			r.teardownSupervisors(req.AppId, req.Version)
		}
		return nil
	}
	return nil
}
