package runtime

import (
	"context"
	"time"

	"github.com/cazacugmihai/fleetctl/pkg/pathid"
	"github.com/cazacugmihai/fleetctl/pkg/snapshot"
)

// TaskState is the runtime-observed state of a launched instance.
type TaskState string

const (
	TaskStatePending  TaskState = "pending"
	TaskStateRunning  TaskState = "running"
	TaskStateComplete TaskState = "complete"
	TaskStateFailed   TaskState = "failed"
)

// TaskHandle identifies one launched instance of an AppSpec and carries
// what the rest of the control plane needs to address it: DeploymentExecutor
// uses ContainerID to stop/restart it, HealthSupervisor uses Address to
// probe it.
type TaskHandle struct {
	ContainerID string
	AppId       pathid.PathId
	Version     snapshot.Timestamp
	Instance    int
	Address     string
	StartedAt   time.Time
}

// TaskLaunchFacade is the narrow interface DeploymentExecutor and
// HealthSupervisor use to launch, stop and probe task instances, decoupling
// them from any specific container runtime.
type TaskLaunchFacade interface {
	// Launch starts instance number idx of spec and returns its handle.
	Launch(ctx context.Context, appId pathid.PathId, version snapshot.Timestamp, spec snapshot.AppSpec, idx int) (TaskHandle, error)

	// Stop asks the instance to exit gracefully, force-killing it if it
	// doesn't within timeout.
	Stop(ctx context.Context, handle TaskHandle, timeout time.Duration) error

	// Kill force-terminates the instance immediately, used by
	// HealthSupervisor's kill requests.
	Kill(ctx context.Context, handle TaskHandle) error

	// Status reports the instance's current runtime state.
	Status(ctx context.Context, handle TaskHandle) (TaskState, error)

	// Instances lists every handle currently launched for (appId, version).
	Instances(appId pathid.PathId, version snapshot.Timestamp) []TaskHandle
}

// SecretLauncher is an optional capability a TaskLaunchFacade may satisfy:
// launching an instance with decrypted secret material already bind-mounted
// into its filesystem. ContainerdRuntime implements it; callers type-assert
// for it rather than it being part of TaskLaunchFacade itself, so a facade
// with no secrets support (or a test fake) needs nothing extra.
type SecretLauncher interface {
	LaunchWithSecretsMount(ctx context.Context, appId pathid.PathId, version snapshot.Timestamp, spec snapshot.AppSpec, idx int, secretsPath string) (TaskHandle, error)
}
