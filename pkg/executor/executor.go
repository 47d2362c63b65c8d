// Package executor implements DeploymentExecutor, the component that turns
// a planner.DeploymentPlan into running tasks by driving a
// runtime.TaskLaunchFacade, one plan step at a time.
package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cazacugmihai/fleetctl/pkg/events"
	"github.com/cazacugmihai/fleetctl/pkg/log"
	"github.com/cazacugmihai/fleetctl/pkg/pathid"
	"github.com/cazacugmihai/fleetctl/pkg/planner"
	"github.com/cazacugmihai/fleetctl/pkg/runtime"
	"github.com/cazacugmihai/fleetctl/pkg/snapshot"
)

// maxLaunchAttempts bounds how many times an instance's launch is tried,
// counting from the first attempt and waiting the app's backoff delay after
// each failure, before the deployment is given up on. The app-level
// backoff strategy alone has no natural stopping point once it hits its
// ceiling; this is what actually exhausts "maxLaunchDelay" in practice.
const maxLaunchAttempts = 5

// defaultStopTimeout is how long StopApp and RestartApp wait for an
// instance to exit before the facade escalates to a kill.
const defaultStopTimeout = 30 * time.Second

type runningDeployment struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// DeploymentExecutor drives DeploymentPlans against a TaskLaunchFacade. It
// satisfies the manager.Executor interface without importing pkg/manager:
// the GroupManager hands it plans and a pair of callbacks and owns its
// lifetime, per the callback-boundary design in §4.5.
type DeploymentExecutor struct {
	registry *registry
	bus      *events.Broker

	mu     sync.Mutex
	active map[string]*runningDeployment
}

// NewDeploymentExecutor builds an executor driving facade, publishing
// lifecycle events on bus. secrets decrypts any snapshot.SecretRef an
// AppSpec declares before launch; pass nil if the deployment never uses
// secrets (e.g. in tests).
func NewDeploymentExecutor(facade runtime.TaskLaunchFacade, bus *events.Broker, secrets SecretOpener) *DeploymentExecutor {
	return &DeploymentExecutor{
		registry: newRegistry(facade, bus, secrets),
		bus:      bus,
		active:   map[string]*runningDeployment{},
	}
}

// Start runs plan to completion on its own goroutine, calling onSuccess or
// onFailure exactly once unless the deployment is canceled first, in which
// case neither fires — the caller that canceled it already knows.
func (e *DeploymentExecutor) Start(ctx context.Context, plan planner.DeploymentPlan, onSuccess func(planID string), onFailure func(planID string, cause error)) {
	runCtx, cancel := context.WithCancel(ctx)
	rd := &runningDeployment{cancel: cancel, done: make(chan struct{})}

	e.mu.Lock()
	e.active[plan.ID] = rd
	e.mu.Unlock()

	go func() {
		defer close(rd.done)
		defer func() {
			e.mu.Lock()
			delete(e.active, plan.ID)
			e.mu.Unlock()
		}()

		err := e.runPlan(runCtx, plan)
		switch {
		case runCtx.Err() != nil:
			// Canceled out from under us; the canceler is responsible for
			// any event publication and for clearing in-flight state.
			return
		case err != nil:
			onFailure(plan.ID, err)
		default:
			onSuccess(plan.ID)
		}
	}()
}

// Cancel stops plan planID's in-flight work and blocks until its goroutine
// has actually exited, so a caller that immediately starts a replacement
// deployment never races with the canceled one's last actions.
func (e *DeploymentExecutor) Cancel(planID string) error {
	e.mu.Lock()
	rd, ok := e.active[planID]
	e.mu.Unlock()
	if !ok {
		return nil
	}
	rd.cancel()
	<-rd.done
	return nil
}

func (e *DeploymentExecutor) runPlan(ctx context.Context, plan planner.DeploymentPlan) error {
	for _, step := range plan.Steps {
		if err := e.runStep(ctx, step); err != nil {
			return err
		}
	}
	return nil
}

func (e *DeploymentExecutor) runStep(ctx context.Context, step planner.DeploymentStep) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, action := range step.Actions {
		action := action
		g.Go(func() error {
			return e.runAction(gctx, action)
		})
	}
	return g.Wait()
}

func (e *DeploymentExecutor) runAction(ctx context.Context, action planner.Action) error {
	switch action.Kind {
	case planner.ActionStartApp:
		return e.startApp(ctx, action.Spec)
	case planner.ActionStopApp:
		return e.stopApp(ctx, action.Spec)
	case planner.ActionScaleApp:
		return e.scaleApp(ctx, action.From, action.To)
	case planner.ActionRestartApp:
		return e.restartApp(ctx, action.From, action.To)
	default:
		return fmt.Errorf("unknown action kind: %s", action.Kind)
	}
}

// startApp launches every instance of spec concurrently, each retried with
// spec's own backoff policy on launch failure.
func (e *DeploymentExecutor) startApp(ctx context.Context, spec snapshot.AppSpec) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < spec.Instances; i++ {
		idx := i
		g.Go(func() error {
			return e.launchInstance(gctx, spec, idx)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	e.registry.ensureSupervisors(ctx, spec.Id, spec.Version, spec.HealthChecks)
	return nil
}

// launchInstance retries Launch with spec.Backoff until it succeeds, ctx is
// canceled, or maxLaunchAttempts consecutive failures have accumulated.
func (e *DeploymentExecutor) launchInstance(ctx context.Context, spec snapshot.AppSpec, idx int) error {
	var lastErr error
	for attempt := 0; attempt < maxLaunchAttempts; attempt++ {
		handle, err := e.registry.launch(ctx, spec.Id, spec.Version, spec, idx)
		if err == nil {
			e.registry.track(spec.Id, spec.Version, handle)
			return nil
		}
		lastErr = err
		delay := spec.Backoff.Delay(attempt + 1)
		if delay <= 0 {
			delay = snapshot.DefaultBackoff.Delay(attempt + 1)
		}
		appLog := log.WithAppID(spec.Id.String())
		appLog.Warn().Err(err).Int("instance", idx).Int("attempt", attempt+1).Dur("delay", delay).Msg("launch failed, retrying")
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("launch %s instance %d: exhausted %d attempts: %w", spec.Id, idx, maxLaunchAttempts, lastErr)
}

// stopApp stops every running instance of spec concurrently.
func (e *DeploymentExecutor) stopApp(ctx context.Context, spec snapshot.AppSpec) error {
	handles := e.registry.handlesFor(spec.Id, spec.Version)
	g, gctx := errgroup.WithContext(ctx)
	for _, h := range handles {
		h := h
		g.Go(func() error {
			return e.stopInstance(gctx, spec.Id, spec.Version, h)
		})
	}
	return g.Wait()
}

func (e *DeploymentExecutor) stopInstance(ctx context.Context, appId pathid.PathId, version snapshot.Timestamp, h runtime.TaskHandle) error {
	if err := e.registry.facade.Stop(ctx, h, defaultStopTimeout); err != nil {
		return fmt.Errorf("stop %s: %w", h.ContainerID, err)
	}
	if e.registry.untrack(appId, version, h) {
		e.registry.teardownSupervisors(appId, version)
	}
	return nil
}

// scaleApp launches or stops instances to move from.Instances to
// to.Instances without changing anything else about the spec.
func (e *DeploymentExecutor) scaleApp(ctx context.Context, from, to snapshot.AppSpec) error {
	current := e.registry.instanceCount(from.Id, from.Version)
	delta := to.Instances - current

	if delta == 0 {
		return nil
	}
	if delta > 0 {
		g, gctx := errgroup.WithContext(ctx)
		for i := 0; i < delta; i++ {
			idx := current + i
			g.Go(func() error {
				return e.launchInstance(gctx, to, idx)
			})
		}
		return g.Wait()
	}

	handles := e.registry.handlesFor(from.Id, from.Version)
	toStop := handles[:min(-delta, len(handles))]
	g, gctx := errgroup.WithContext(ctx)
	for _, h := range toStop {
		h := h
		g.Go(func() error {
			return e.stopInstance(gctx, from.Id, from.Version, h)
		})
	}
	return g.Wait()
}

// restartApp performs a rolling upgrade from the from spec to the to spec,
// replacing instances in waves bounded by to.MinimumHealthCapacity and
// to.MaximumOverCapacity: healthy instance count never drops below
// ceil(from.Instances * minimumHealthCapacity), and total instance count
// never exceeds ceil(from.Instances * (1 + maximumOverCapacity)), as long
// as the two bounds leave room for a wave. When they leave none, a wave of
// one instance runs anyway, and during that wave the bounds are exceeded by
// one instance.
func (e *DeploymentExecutor) restartApp(ctx context.Context, from, to snapshot.AppSpec) error {
	minHealthy := ceilFraction(from.Instances, to.MinimumHealthCapacity)
	maxTotal := ceilFraction(from.Instances, 1+to.MaximumOverCapacity)
	if maxTotal < from.Instances {
		maxTotal = from.Instances
	}

	remaining := e.registry.handlesFor(from.Id, from.Version)
	launched := 0

	for len(remaining) > 0 {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		totalNow := e.registry.instanceCount(from.Id, from.Version) + launched
		aliveNow := e.registry.aliveCount(from.Id, from.Version) + launched
		capacityForNew := maxTotal - totalNow
		capacityToStop := aliveNow - minHealthy
		waveSize := min(capacityForNew, capacityToStop, len(remaining))
		if waveSize <= 0 {
			waveSize = 1 // always make forward progress even under tight invariants
		}
		if waveSize > len(remaining) {
			waveSize = len(remaining)
		}

		wave := remaining[:waveSize]
		remaining = remaining[waveSize:]

		g, gctx := errgroup.WithContext(ctx)
		for i, h := range wave {
			h := h
			idx := launched + i
			g.Go(func() error {
				if err := e.launchInstance(gctx, to, idx); err != nil {
					return err
				}
				return e.stopInstance(gctx, from.Id, from.Version, h)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		launched += len(wave)
	}

	e.registry.ensureSupervisors(ctx, to.Id, to.Version, to.HealthChecks)
	return nil
}

func ceilFraction(n int, fraction float64) int {
	v := float64(n) * fraction
	rounded := int(v)
	if float64(rounded) < v {
		rounded++
	}
	return rounded
}
