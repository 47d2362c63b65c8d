/*
Package storage provides BoltDB-backed persistence for group-tree snapshots
and the deployment plans derived from them.

Snapshots are immutable once written: SaveSnapshot of a version already on
disk is a no-op. The "current" pointer is the only mutable piece of state
in the database, and CompareAndSwapCurrent is its sole write path — this
gives GroupManager the storage-level half of its single-writer discipline
on top of its own in-process lock.

# Usage

	store, err := storage.NewBoltStore("/var/lib/fleetctl")
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	if err := store.SaveSnapshot(root); err != nil {
		log.Fatal(err)
	}
	if err := store.CompareAndSwapCurrent(prevVersion, root.Version()); err != nil {
		// another writer moved the pointer first
	}

# See Also

  - pkg/manager owns the in-process lock and raft leadership check this
    package's CAS complements.
  - pkg/planner produces the DeploymentPlan values persisted here.
*/
package storage
