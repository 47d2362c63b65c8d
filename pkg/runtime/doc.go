/*
Package runtime provides the TaskLaunchFacade default adapter, backed by
containerd.

TaskLaunchFacade is the interface DeploymentExecutor and HealthSupervisor use
to launch, stop, kill and probe individual task instances without depending
on any particular container runtime. ContainerdRuntime implements it against
a local containerd socket: Launch creates and starts one container per
(appId, version, instance index), Stop escalates SIGTERM to SIGKILL on
timeout, and Kill is the immediate SIGKILL path HealthSupervisor's kill
requests resolve to.

Containers launched by this adapter are named "<appId>-<version>-<index>"
and run in the "fleetctl" containerd namespace, which Instances scans to
recover the set of handles for a given (appId, version) after a restart.

# Usage

	rt, err := runtime.NewContainerdRuntime("")
	if err != nil {
		log.Fatal(err)
	}
	defer rt.Close()

	handle, err := rt.Launch(ctx, appId, version, spec, 0)
	status, err := rt.Status(ctx, handle)
	err = rt.Stop(ctx, handle, 30*time.Second)

# See Also

  - pkg/health for the supervisor that issues kill requests against this facade
  - pkg/executor for the deployment-plan driver that launches and stops instances
*/
package runtime
