package runtime

import (
	"bytes"
	"context"
	"fmt"
	"syscall"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/cazacugmihai/fleetctl/pkg/pathid"
	"github.com/cazacugmihai/fleetctl/pkg/snapshot"
)

const (
	// DefaultNamespace isolates fleetctl-launched containers from anything
	// else running on the same containerd socket.
	DefaultNamespace = "fleetctl"

	// DefaultSocketPath is the default containerd socket.
	DefaultSocketPath = "/run/containerd/containerd.sock"
)

// ContainerdRuntime is the default TaskLaunchFacade, backed by a local
// containerd daemon.
type ContainerdRuntime struct {
	client    *containerd.Client
	namespace string
}

var _ TaskLaunchFacade = (*ContainerdRuntime)(nil)

// NewContainerdRuntime dials the containerd socket at socketPath, defaulting
// to DefaultSocketPath when empty.
func NewContainerdRuntime(socketPath string) (*ContainerdRuntime, error) {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}

	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to containerd: %w", err)
	}

	return &ContainerdRuntime{
		client:    client,
		namespace: DefaultNamespace,
	}, nil
}

// Close closes the containerd client connection.
func (r *ContainerdRuntime) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// PullImage pulls a container image from a registry.
func (r *ContainerdRuntime) PullImage(ctx context.Context, imageRef string) error {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	_, err := r.client.Pull(ctx, imageRef, containerd.WithPullUnpack)
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", imageRef, err)
	}

	return nil
}

func containerName(appId pathid.PathId, version snapshot.Timestamp, idx int) string {
	return fmt.Sprintf("%s-%s-%d", appId.String(), version.String(), idx)
}

// Launch pulls spec.Container's image if necessary, creates and starts one
// container instance, and returns a handle for it. Secrets named in
// spec.Secrets are expected to already be decrypted and written to
// secretsPath by the caller; Launch itself never sees plaintext.
func (r *ContainerdRuntime) Launch(ctx context.Context, appId pathid.PathId, version snapshot.Timestamp, spec snapshot.AppSpec, idx int) (TaskHandle, error) {
	if spec.Container == nil {
		return TaskHandle{}, fmt.Errorf("containerd runtime requires a container spec for app %s", appId)
	}

	ctx = namespaces.WithNamespace(ctx, r.namespace)

	image, err := r.client.GetImage(ctx, spec.Container.Image)
	if err != nil {
		image, err = r.client.Pull(ctx, spec.Container.Image, containerd.WithPullUnpack)
		if err != nil {
			return TaskHandle{}, fmt.Errorf("failed to pull image %s: %w", spec.Container.Image, err)
		}
	}

	id := containerName(appId, version, idx)

	var env []string
	for k, v := range spec.Container.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}

	opts := []oci.SpecOpts{
		oci.WithImageConfig(image),
		oci.WithEnv(env),
	}
	if len(spec.Container.Args) > 0 {
		opts = append(opts, oci.WithProcessArgs(spec.Container.Args...))
	}

	container, err := r.client.NewContainer(
		ctx,
		id,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(id+"-snapshot", image),
		containerd.WithNewSpec(opts...),
	)
	if err != nil {
		return TaskHandle{}, fmt.Errorf("failed to create container: %w", err)
	}

	task, err := container.NewTask(ctx, cio.NullIO)
	if err != nil {
		return TaskHandle{}, fmt.Errorf("failed to create task: %w", err)
	}

	if err := task.Start(ctx); err != nil {
		return TaskHandle{}, fmt.Errorf("failed to start task: %w", err)
	}

	return TaskHandle{
		ContainerID: id,
		AppId:       appId,
		Version:     version,
		Instance:    idx,
		StartedAt:   time.Now(),
	}, nil
}

// LaunchWithSecretsMount is Launch plus a read-only bind mount exposing
// secretsPath at /run/secrets inside the container.
func (r *ContainerdRuntime) LaunchWithSecretsMount(ctx context.Context, appId pathid.PathId, version snapshot.Timestamp, spec snapshot.AppSpec, idx int, secretsPath string) (TaskHandle, error) {
	if spec.Container == nil {
		return TaskHandle{}, fmt.Errorf("containerd runtime requires a container spec for app %s", appId)
	}
	if secretsPath == "" {
		return r.Launch(ctx, appId, version, spec, idx)
	}

	ctx = namespaces.WithNamespace(ctx, r.namespace)

	image, err := r.client.GetImage(ctx, spec.Container.Image)
	if err != nil {
		image, err = r.client.Pull(ctx, spec.Container.Image, containerd.WithPullUnpack)
		if err != nil {
			return TaskHandle{}, fmt.Errorf("failed to pull image %s: %w", spec.Container.Image, err)
		}
	}

	id := containerName(appId, version, idx)

	var env []string
	for k, v := range spec.Container.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}

	opts := []oci.SpecOpts{
		oci.WithImageConfig(image),
		oci.WithEnv(env),
		oci.WithMounts([]specs.Mount{
			{
				Source:      secretsPath,
				Destination: "/run/secrets",
				Type:        "bind",
				Options:     []string{"ro", "bind"},
			},
		}),
	}
	if len(spec.Container.Args) > 0 {
		opts = append(opts, oci.WithProcessArgs(spec.Container.Args...))
	}

	container, err := r.client.NewContainer(
		ctx,
		id,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(id+"-snapshot", image),
		containerd.WithNewSpec(opts...),
	)
	if err != nil {
		return TaskHandle{}, fmt.Errorf("failed to create container: %w", err)
	}

	task, err := container.NewTask(ctx, cio.NullIO)
	if err != nil {
		return TaskHandle{}, fmt.Errorf("failed to create task: %w", err)
	}

	if err := task.Start(ctx); err != nil {
		return TaskHandle{}, fmt.Errorf("failed to start task: %w", err)
	}

	return TaskHandle{
		ContainerID: id,
		AppId:       appId,
		Version:     version,
		Instance:    idx,
		StartedAt:   time.Now(),
	}, nil
}

// Stop sends SIGTERM to handle's task, escalating to SIGKILL if it hasn't
// exited within timeout, then deletes the task.
func (r *ContainerdRuntime) Stop(ctx context.Context, handle TaskHandle, timeout time.Duration) error {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	container, err := r.client.LoadContainer(ctx, handle.ContainerID)
	if err != nil {
		return fmt.Errorf("failed to load container %s: %w", handle.ContainerID, err)
	}

	task, err := container.Task(ctx, nil)
	if err != nil {
		// No task means the container already isn't running.
		return nil
	}

	stopCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := task.Kill(stopCtx, syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to send SIGTERM to task %s: %w", handle.ContainerID, err)
	}

	statusC, err := task.Wait(stopCtx)
	if err != nil {
		return fmt.Errorf("failed to wait for task %s: %w", handle.ContainerID, err)
	}

	select {
	case <-statusC:
	case <-stopCtx.Done():
		if err := task.Kill(ctx, syscall.SIGKILL); err != nil {
			return fmt.Errorf("failed to force kill task %s: %w", handle.ContainerID, err)
		}
	}

	if _, err := task.Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete task %s: %w", handle.ContainerID, err)
	}

	if err := container.Delete(ctx, containerd.WithSnapshotCleanup); err != nil {
		return fmt.Errorf("failed to delete container %s: %w", handle.ContainerID, err)
	}

	return nil
}

// Kill force-terminates handle's task immediately with SIGKILL. This is what
// HealthSupervisor's kill requests resolve to — there is no grace period at
// this layer, the grace period already happened in the health fold.
func (r *ContainerdRuntime) Kill(ctx context.Context, handle TaskHandle) error {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	container, err := r.client.LoadContainer(ctx, handle.ContainerID)
	if err != nil {
		return fmt.Errorf("failed to load container %s: %w", handle.ContainerID, err)
	}

	task, err := container.Task(ctx, nil)
	if err != nil {
		return nil
	}

	statusC, err := task.Wait(ctx)
	if err != nil {
		return fmt.Errorf("failed to wait for task %s: %w", handle.ContainerID, err)
	}

	if err := task.Kill(ctx, syscall.SIGKILL); err != nil {
		return fmt.Errorf("failed to kill task %s: %w", handle.ContainerID, err)
	}
	<-statusC

	if _, err := task.Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete task %s: %w", handle.ContainerID, err)
	}

	return container.Delete(ctx, containerd.WithSnapshotCleanup)
}

// Exec runs command inside containerID's task and returns its exit code and
// combined stdout/stderr, satisfying health.ContainerExecutor for COMMAND
// health checks dispatched by pkg/executor's registry.
func (r *ContainerdRuntime) Exec(ctx context.Context, containerID string, command []string, timeout time.Duration) (int, string, error) {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	container, err := r.client.LoadContainer(ctx, containerID)
	if err != nil {
		return -1, "", fmt.Errorf("failed to load container %s: %w", containerID, err)
	}

	task, err := container.Task(ctx, nil)
	if err != nil {
		return -1, "", fmt.Errorf("failed to load task %s: %w", containerID, err)
	}

	spec, err := container.Spec(ctx)
	if err != nil {
		return -1, "", fmt.Errorf("failed to load spec for %s: %w", containerID, err)
	}
	pspec := *spec.Process
	pspec.Args = command
	pspec.Terminal = false

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var output bytes.Buffer
	execID := fmt.Sprintf("healthcheck-%d", time.Now().UnixNano())
	process, err := task.Exec(execCtx, execID, &pspec, cio.NewCreator(cio.WithStreams(nil, &output, &output)))
	if err != nil {
		return -1, "", fmt.Errorf("failed to exec in container %s: %w", containerID, err)
	}
	defer process.Delete(ctx)

	statusC, err := process.Wait(execCtx)
	if err != nil {
		return -1, "", fmt.Errorf("failed to wait for exec in container %s: %w", containerID, err)
	}

	if err := process.Start(execCtx); err != nil {
		return -1, "", fmt.Errorf("failed to start exec in container %s: %w", containerID, err)
	}

	select {
	case status := <-statusC:
		code, _, resultErr := status.Result()
		if resultErr != nil {
			return -1, output.String(), resultErr
		}
		return int(code), output.String(), nil
	case <-execCtx.Done():
		_ = process.Kill(ctx, syscall.SIGKILL)
		return -1, output.String(), execCtx.Err()
	}
}

// Status reports the containerd-observed state of handle's task.
func (r *ContainerdRuntime) Status(ctx context.Context, handle TaskHandle) (TaskState, error) {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	container, err := r.client.LoadContainer(ctx, handle.ContainerID)
	if err != nil {
		return TaskStateFailed, fmt.Errorf("failed to load container %s: %w", handle.ContainerID, err)
	}

	task, err := container.Task(ctx, nil)
	if err != nil {
		return TaskStatePending, nil
	}

	status, err := task.Status(ctx)
	if err != nil {
		return TaskStateFailed, fmt.Errorf("failed to get task status: %w", err)
	}

	switch status.Status {
	case containerd.Running:
		return TaskStateRunning, nil
	case containerd.Stopped:
		if status.ExitStatus == 0 {
			return TaskStateComplete, nil
		}
		return TaskStateFailed, nil
	case containerd.Paused:
		return TaskStateRunning, nil
	default:
		return TaskStatePending, nil
	}
}

// Instances lists handles for every container in this namespace whose name
// matches the (appId, version) naming convention Launch uses.
func (r *ContainerdRuntime) Instances(appId pathid.PathId, version snapshot.Timestamp) []TaskHandle {
	ctx := namespaces.WithNamespace(context.Background(), r.namespace)

	containers, err := r.client.Containers(ctx)
	if err != nil {
		return nil
	}

	prefix := fmt.Sprintf("%s-%s-", appId.String(), version.String())
	var handles []TaskHandle
	for _, c := range containers {
		id := c.ID()
		if len(id) <= len(prefix) || id[:len(prefix)] != prefix {
			continue
		}
		handles = append(handles, TaskHandle{
			ContainerID: id,
			AppId:       appId,
			Version:     version,
		})
	}
	return handles
}
