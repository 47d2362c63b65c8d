/*
Package executor implements DeploymentExecutor, the component
GroupManager.UpdateRoot hands a planner.DeploymentPlan to once it commits a
new root.

DeploymentExecutor drives a plan step by step; within a step every action
runs concurrently via golang.org/x/sync/errgroup, and a step only completes
once every one of its actions does. StartApp and ScaleApp-up retry failed
launches with the app's own exponential backoff; RestartApp performs a
rolling upgrade respecting the target spec's MinimumHealthCapacity and
MaximumOverCapacity fractions, consulting a registry of launched task
handles rather than reaching into the HealthSupervisor's private state.

The executor never calls back into GroupManager directly. Start is handed
an onSuccess/onFailure pair of callbacks and a context it does not own;
canceling that context (via Cancel) stops the run without either callback
firing, since the caller that canceled it already knows the outcome.

Each (appId, version) pair the executor launches gets one health.Supervisor
per declared health check, created on first launch and torn down once its
last task exits — this package's registry type is what stands between a
runtime.TaskLaunchFacade and the health package's Supervisor/TaskLister/
KillRequester contracts.
*/
package executor
