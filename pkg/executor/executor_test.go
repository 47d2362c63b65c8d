package executor_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cazacugmihai/fleetctl/pkg/events"
	"github.com/cazacugmihai/fleetctl/pkg/executor"
	"github.com/cazacugmihai/fleetctl/pkg/pathid"
	"github.com/cazacugmihai/fleetctl/pkg/planner"
	"github.com/cazacugmihai/fleetctl/pkg/runtime"
	"github.com/cazacugmihai/fleetctl/pkg/snapshot"
)

// fakeFacade is an in-memory runtime.TaskLaunchFacade: every Launch
// succeeds immediately unless the app id is in failUntil, in which case it
// fails that many times first. It also implements runtime.SecretLauncher,
// recording every secrets directory it was asked to mount.
type fakeFacade struct {
	mu           sync.Mutex
	launches     int
	failUntil    map[string]int
	handles      map[string][]runtime.TaskHandle
	mountedPaths []string
}

func newFakeFacade() *fakeFacade {
	return &fakeFacade{
		failUntil: map[string]int{},
		handles:   map[string][]runtime.TaskHandle{},
	}
}

// fakeOpener is a SecretOpener that deterministically "decrypts" a ref into
// a recognizable plaintext, so tests can assert on what got written.
type fakeOpener struct{}

func (fakeOpener) OpenSecret(ref snapshot.SecretRef) ([]byte, error) {
	return []byte("decrypted:" + ref.Name), nil
}

func (f *fakeFacade) Launch(ctx context.Context, appId pathid.PathId, version snapshot.Timestamp, spec snapshot.AppSpec, idx int) (runtime.TaskHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.launches++

	key := appId.String()
	if remaining := f.failUntil[key]; remaining > 0 {
		f.failUntil[key] = remaining - 1
		return runtime.TaskHandle{}, fmt.Errorf("simulated launch failure")
	}

	h := runtime.TaskHandle{
		ContainerID: fmt.Sprintf("%s-%s-%d", appId.String(), version.String(), idx),
		AppId:       appId,
		Version:     version,
		Instance:    idx,
		Address:     "127.0.0.1:0",
		StartedAt:   time.Now(),
	}
	f.handles[key] = append(f.handles[key], h)
	return h, nil
}

func (f *fakeFacade) Stop(ctx context.Context, handle runtime.TaskHandle, timeout time.Duration) error {
	return f.Kill(ctx, handle)
}

func (f *fakeFacade) Kill(ctx context.Context, handle runtime.TaskHandle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := handle.AppId.String()
	kept := f.handles[key][:0]
	for _, h := range f.handles[key] {
		if h.ContainerID != handle.ContainerID {
			kept = append(kept, h)
		}
	}
	f.handles[key] = kept
	return nil
}

func (f *fakeFacade) Status(ctx context.Context, handle runtime.TaskHandle) (runtime.TaskState, error) {
	return runtime.TaskStateRunning, nil
}

func (f *fakeFacade) Instances(appId pathid.PathId, version snapshot.Timestamp) []runtime.TaskHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]runtime.TaskHandle{}, f.handles[appId.String()]...)
}

func (f *fakeFacade) LaunchWithSecretsMount(ctx context.Context, appId pathid.PathId, version snapshot.Timestamp, spec snapshot.AppSpec, idx int, secretsPath string) (runtime.TaskHandle, error) {
	f.mu.Lock()
	f.mountedPaths = append(f.mountedPaths, secretsPath)
	f.mu.Unlock()
	return f.Launch(ctx, appId, version, spec, idx)
}

func waitForPlan(t *testing.T, successCh, failureCh chan string) string {
	select {
	case id := <-successCh:
		return id
	case cause := <-failureCh:
		t.Fatalf("deployment failed unexpectedly: %s", cause)
	case <-time.After(5 * time.Second):
		t.Fatal("deployment never completed")
	}
	return ""
}

func callbacks(t *testing.T) (func(string), func(string, error), chan string, chan string) {
	successCh := make(chan string, 1)
	failureCh := make(chan string, 1)
	return func(id string) { successCh <- id },
		func(id string, cause error) { failureCh <- fmt.Sprintf("%s: %v", id, cause) },
		successCh, failureCh
}

func TestStartAppLaunchesEveryInstance(t *testing.T) {
	facade := newFakeFacade()
	exec := executor.NewDeploymentExecutor(facade, events.NewBroker(), nil)

	appPath := pathid.New("/prod/web")
	spec := snapshot.AppSpec{Id: appPath, Version: snapshot.Now(), Instances: 3, Backoff: snapshot.DefaultBackoff}
	plan := planner.DeploymentPlan{
		ID:    "d1",
		Steps: []planner.DeploymentStep{{Actions: []planner.Action{{Kind: planner.ActionStartApp, ID: appPath, Spec: spec}}}},
	}

	onSuccess, onFailure, successCh, failureCh := callbacks(t)
	exec.Start(context.Background(), plan, onSuccess, onFailure)
	assert.Equal(t, "d1", waitForPlan(t, successCh, failureCh))
	assert.Len(t, facade.Instances(appPath, spec.Version), 3)
}

func TestStartAppRetriesWithBackoffOnLaunchFailure(t *testing.T) {
	facade := newFakeFacade()
	appPath := pathid.New("/prod/flaky")
	facade.failUntil[appPath.String()] = 2

	exec := executor.NewDeploymentExecutor(facade, events.NewBroker(), nil)
	spec := snapshot.AppSpec{
		Id:        appPath,
		Version:   snapshot.Now(),
		Instances: 1,
		Backoff:   snapshot.Backoff{Initial: time.Millisecond, Factor: 1.5, Max: 10 * time.Millisecond},
	}
	plan := planner.DeploymentPlan{
		ID:    "d2",
		Steps: []planner.DeploymentStep{{Actions: []planner.Action{{Kind: planner.ActionStartApp, ID: appPath, Spec: spec}}}},
	}

	onSuccess, onFailure, successCh, failureCh := callbacks(t)
	exec.Start(context.Background(), plan, onSuccess, onFailure)
	assert.Equal(t, "d2", waitForPlan(t, successCh, failureCh))
	assert.Len(t, facade.Instances(appPath, spec.Version), 1)
}

func TestScaleAppDownStopsExcessInstances(t *testing.T) {
	facade := newFakeFacade()
	exec := executor.NewDeploymentExecutor(facade, events.NewBroker(), nil)

	appPath := pathid.New("/prod/web")
	from := snapshot.AppSpec{Id: appPath, Version: snapshot.Now(), Instances: 4, Backoff: snapshot.DefaultBackoff}
	startPlan := planner.DeploymentPlan{
		ID:    "start",
		Steps: []planner.DeploymentStep{{Actions: []planner.Action{{Kind: planner.ActionStartApp, ID: appPath, Spec: from}}}},
	}
	onSuccess, onFailure, successCh, failureCh := callbacks(t)
	exec.Start(context.Background(), startPlan, onSuccess, onFailure)
	waitForPlan(t, successCh, failureCh)
	require.Len(t, facade.Instances(appPath, from.Version), 4)

	to := from
	to.Instances = 1
	scalePlan := planner.DeploymentPlan{
		ID:    "scale",
		Steps: []planner.DeploymentStep{{Actions: []planner.Action{{Kind: planner.ActionScaleApp, ID: appPath, From: from, To: to}}}},
	}
	onSuccess2, onFailure2, successCh2, failureCh2 := callbacks(t)
	exec.Start(context.Background(), scalePlan, onSuccess2, onFailure2)
	waitForPlan(t, successCh2, failureCh2)
	assert.Len(t, facade.Instances(appPath, from.Version), 1)
}

func TestCancelStopsInFlightDeployment(t *testing.T) {
	facade := newFakeFacade()
	appPath := pathid.New("/prod/slow")
	facade.failUntil[appPath.String()] = 1000 // never succeeds on its own

	exec := executor.NewDeploymentExecutor(facade, events.NewBroker(), nil)
	spec := snapshot.AppSpec{
		Id:        appPath,
		Version:   snapshot.Now(),
		Instances: 1,
		Backoff:   snapshot.Backoff{Initial: time.Millisecond, Factor: 1, Max: time.Millisecond},
	}
	plan := planner.DeploymentPlan{
		ID:    "d3",
		Steps: []planner.DeploymentStep{{Actions: []planner.Action{{Kind: planner.ActionStartApp, ID: appPath, Spec: spec}}}},
	}

	onSuccess, onFailure, successCh, failureCh := callbacks(t)
	exec.Start(context.Background(), plan, onSuccess, onFailure)

	require.NoError(t, exec.Cancel("d3"))

	select {
	case <-successCh:
		t.Fatal("expected no success callback after cancel")
	case <-failureCh:
		t.Fatal("expected no failure callback after cancel")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStartAppWithSecretsMountsDecryptedFiles(t *testing.T) {
	facade := newFakeFacade()
	exec := executor.NewDeploymentExecutor(facade, events.NewBroker(), fakeOpener{})

	appPath := pathid.New("/prod/secretive")
	spec := snapshot.AppSpec{
		Id:        appPath,
		Version:   snapshot.Now(),
		Instances: 1,
		Backoff:   snapshot.DefaultBackoff,
		Secrets:   []snapshot.SecretRef{{Name: "api-key", EncryptedValue: []byte("cipher")}},
	}
	plan := planner.DeploymentPlan{
		ID:    "d4",
		Steps: []planner.DeploymentStep{{Actions: []planner.Action{{Kind: planner.ActionStartApp, ID: appPath, Spec: spec}}}},
	}

	onSuccess, onFailure, successCh, failureCh := callbacks(t)
	exec.Start(context.Background(), plan, onSuccess, onFailure)
	assert.Equal(t, "d4", waitForPlan(t, successCh, failureCh))

	require.Len(t, facade.mountedPaths, 1)
	data, err := os.ReadFile(filepath.Join(facade.mountedPaths[0], "api-key"))
	require.NoError(t, err)
	assert.Equal(t, "decrypted:api-key", string(data))
}
