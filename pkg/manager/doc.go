/*
Package manager implements GroupManager, the cluster's single-writer
guardian over the group tree, replicated across a raft quorum.

UpdateRoot is the only mutation entry point. It takes a process-wide lock,
requires this node to hold raft leadership (a non-leader fails fast with
apierror.KindNotLeader naming the current leader), applies the requested
snapshot.GroupUpdate, validates the result, diffs it into a
planner.DeploymentPlan, replicates the new root through the raft log via
groupFSM, and hands the plan to an Executor before releasing the lock.
Readers never block on this: Root loads an atomic pointer updated only
after a successful commit.

A manager quorum is formed the way any raft cluster is: Bootstrap starts a
single-node quorum, GenerateJoinToken mints a JoinToken a second manager
presents to Join, which posts to the leader's /v2/cluster/voters admin
endpoint to be added as a voter. This machinery is exercised by, but
logically separate from, UpdateRoot.

# Usage

	mgr, err := manager.NewManager(&manager.Config{
		NodeID:   "node-1",
		BindAddr: "127.0.0.1:7000",
		DataDir:  "/var/lib/fleetctl",
	}, executor)
	if err != nil {
		log.Fatal(err)
	}
	if err := mgr.Bootstrap(); err != nil {
		log.Fatal(err)
	}

	plan, err := mgr.UpdateRoot(path, update, snapshot.Now(), false)

# See Also

  - pkg/snapshot for the group tree and GroupUpdate semantics UpdateRoot applies
  - pkg/planner for the DeploymentPlan UpdateRoot hands to its Executor
  - pkg/executor for the DeploymentExecutor that satisfies the Executor interface
*/
package manager
