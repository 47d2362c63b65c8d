package storage

import (
	"github.com/cazacugmihai/fleetctl/pkg/planner"
	"github.com/cazacugmihai/fleetctl/pkg/snapshot"
)

// Store persists group-tree snapshots and the deployment plans derived from
// them. It is the only component that touches disk; GroupManager and
// DeploymentExecutor hold no file handles of their own.
type Store interface {
	// SaveSnapshot writes root under its own version. Versions are
	// immutable once written — SaveSnapshot of an existing version is a
	// no-op, not an overwrite.
	SaveSnapshot(root snapshot.RootGroup) error

	// LoadSnapshot returns the root tree recorded at version.
	LoadSnapshot(version snapshot.Timestamp) (snapshot.RootGroup, error)

	// ListVersions returns every snapshot version on file, oldest first.
	ListVersions() ([]snapshot.Timestamp, error)

	// CurrentVersion returns the version the "current" pointer names.
	// Returns snapshot.Zero if no snapshot has ever been saved.
	CurrentVersion() (snapshot.Timestamp, error)

	// CompareAndSwapCurrent atomically advances the "current" pointer from
	// expected to next, failing if another writer moved it first. This is
	// the storage-level half of GroupManager's single-writer discipline.
	CompareAndSwapCurrent(expected, next snapshot.Timestamp) error

	// SaveDeploymentPlan persists a plan so it survives a manager restart
	// mid-rollout.
	SaveDeploymentPlan(plan planner.DeploymentPlan) error

	// GetDeploymentPlan looks up a previously saved plan by id.
	GetDeploymentPlan(id string) (planner.DeploymentPlan, error)

	// ListDeploymentPlans returns every plan on file.
	ListDeploymentPlans() ([]planner.DeploymentPlan, error)

	// DeleteDeploymentPlan removes a completed or canceled plan's record.
	DeleteDeploymentPlan(id string) error

	// Close releases the underlying database handle.
	Close() error
}
