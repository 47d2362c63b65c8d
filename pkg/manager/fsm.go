package manager

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/cazacugmihai/fleetctl/pkg/snapshot"
	"github.com/cazacugmihai/fleetctl/pkg/storage"
	"github.com/hashicorp/raft"
)

// opCommitRoot is the only log entry op a groupFSM knows how to apply: the
// GroupManager's single mutation point, updateRoot, replicates exactly one
// of these per successful call.
const opCommitRoot = "commit_root"

// Command is the payload of one Raft log entry.
type Command struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data"`
}

// commitRootPayload carries the new root and the version it replaces, so
// every replica applies the same compare-and-swap the leader already
// validated.
type commitRootPayload struct {
	Root     snapshot.RootGroup `json:"root"`
	Expected snapshot.Timestamp `json:"expected"`
}

// groupFSM implements raft.FSM by applying committed commit_root entries to
// the local repository. It has no knowledge of planning, validation, or
// leadership — those happen once, on the leader, before Apply ever submits
// the command to the log.
type groupFSM struct {
	mu    sync.Mutex
	store storage.Store
}

func newGroupFSM(store storage.Store) *groupFSM {
	return &groupFSM{store: store}
}

// Apply applies one committed Raft log entry. Called on every replica,
// including the leader that originated it.
func (f *groupFSM) Apply(log *raft.Log) interface{} {
	var cmd Command
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		return fmt.Errorf("unmarshal command: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch cmd.Op {
	case opCommitRoot:
		var payload commitRootPayload
		if err := json.Unmarshal(cmd.Data, &payload); err != nil {
			return fmt.Errorf("unmarshal commit_root payload: %w", err)
		}
		if err := f.store.SaveSnapshot(payload.Root); err != nil {
			return fmt.Errorf("save snapshot: %w", err)
		}
		if err := f.store.CompareAndSwapCurrent(payload.Expected, payload.Root.Version()); err != nil {
			return fmt.Errorf("advance current pointer: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unknown command: %s", cmd.Op)
	}
}

// Snapshot captures every root version on file so a new replica can catch
// up from a Raft snapshot instead of replaying the full log.
func (f *groupFSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	versions, err := f.store.ListVersions()
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}

	roots := make([]snapshot.RootGroup, 0, len(versions))
	for _, v := range versions {
		root, err := f.store.LoadSnapshot(v)
		if err != nil {
			return nil, fmt.Errorf("load snapshot %s: %w", v, err)
		}
		roots = append(roots, root)
	}

	current, err := f.store.CurrentVersion()
	if err != nil {
		return nil, fmt.Errorf("load current version: %w", err)
	}

	return &groupFSMSnapshot{Roots: roots, Current: current}, nil
}

// Restore replaces the local repository's contents with a Raft snapshot
// received from the leader. Called when a node joins or falls far enough
// behind that the leader compacted past its log position.
func (f *groupFSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var snap groupFSMSnapshot
	if err := json.NewDecoder(rc).Decode(&snap); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	for _, root := range snap.Roots {
		if err := f.store.SaveSnapshot(root); err != nil {
			return fmt.Errorf("restore snapshot %s: %w", root.Version(), err)
		}
	}

	if !snap.Current.IsZero() {
		for {
			actual, err := f.store.CurrentVersion()
			if err != nil {
				return fmt.Errorf("read current version: %w", err)
			}
			if actual.Equal(snap.Current) {
				break
			}
			if err := f.store.CompareAndSwapCurrent(actual, snap.Current); err == nil {
				break
			}
		}
	}

	return nil
}

// groupFSMSnapshot is the point-in-time state a Raft snapshot carries.
type groupFSMSnapshot struct {
	Roots   []snapshot.RootGroup `json:"roots"`
	Current snapshot.Timestamp   `json:"current"`
}

func (s *groupFSMSnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		if err := json.NewEncoder(sink).Encode(s); err != nil {
			return err
		}
		return sink.Close()
	}()
	if err != nil {
		sink.Cancel()
	}
	return err
}

func (s *groupFSMSnapshot) Release() {}
