package manager

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"

	"github.com/cazacugmihai/fleetctl/pkg/apierror"
	"github.com/cazacugmihai/fleetctl/pkg/events"
	"github.com/cazacugmihai/fleetctl/pkg/log"
	"github.com/cazacugmihai/fleetctl/pkg/pathid"
	"github.com/cazacugmihai/fleetctl/pkg/planner"
	"github.com/cazacugmihai/fleetctl/pkg/security"
	"github.com/cazacugmihai/fleetctl/pkg/snapshot"
	"github.com/cazacugmihai/fleetctl/pkg/storage"
)

// Executor is the narrow interface GroupManager uses to hand off a planned
// deployment, kept separate from any concrete DeploymentExecutor type so
// neither package imports the other's internals. Per this design, the
// executor never calls back into the manager beyond these two callbacks —
// it owns no reference to it.
type Executor interface {
	Start(ctx context.Context, plan planner.DeploymentPlan, onSuccess func(planID string), onFailure func(planID string, cause error))
	Cancel(planID string) error
}

// Config configures a new GroupManager.
type Config struct {
	NodeID   string
	BindAddr string
	DataDir  string
}

type inFlightDeployment struct {
	planID string
	cancel context.CancelFunc
}

// GroupManager is the cluster's single-writer guardian: the only component
// that mutates the group tree. Every write goes through UpdateRoot, which
// takes a process-wide lock, requires this node to hold raft leadership,
// and replicates the new root through the raft log before returning.
type GroupManager struct {
	nodeID   string
	bindAddr string
	dataDir  string

	raft           *raft.Raft
	fsm            *groupFSM
	store          storage.Store
	tokenManager   *TokenManager
	secretsManager *security.SecretsManager
	eventBroker    *events.Broker
	executor       Executor

	writeMu  sync.Mutex // the root-mutation lock: at most one UpdateRoot in flight
	root     atomic.Pointer[snapshot.RootGroup]
	inFlight atomic.Pointer[inFlightDeployment]

	tokenCleanupStop chan struct{}
}

// NewManager builds a GroupManager backed by a BoltDB repository under
// cfg.DataDir. It does not start raft; call Bootstrap or Join for that.
func NewManager(cfg *Config, executor Executor) (*GroupManager, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	clusterKey := security.DeriveKeyFromClusterID(cfg.NodeID)
	secretsManager, err := security.NewSecretsManager(clusterKey)
	if err != nil {
		return nil, fmt.Errorf("create secrets manager: %w", err)
	}

	broker := events.NewBroker()
	broker.Start()

	m := &GroupManager{
		nodeID:           cfg.NodeID,
		bindAddr:         cfg.BindAddr,
		dataDir:          cfg.DataDir,
		fsm:              newGroupFSM(store),
		store:            store,
		tokenManager:     NewTokenManager(),
		secretsManager:   secretsManager,
		eventBroker:      broker,
		executor:         executor,
		tokenCleanupStop: make(chan struct{}),
	}
	go m.runTokenCleanup()

	current, err := store.CurrentVersion()
	if err != nil {
		return nil, fmt.Errorf("read current version: %w", err)
	}
	if current.IsZero() {
		root := snapshot.NewRoot()
		m.root.Store(&root)
	} else {
		root, err := store.LoadSnapshot(current)
		if err != nil {
			return nil, fmt.Errorf("load current root: %w", err)
		}
		m.root.Store(&root)
	}

	return m, nil
}

func raftConfig(nodeID string) *raft.Config {
	config := raft.DefaultConfig()
	config.LocalID = raft.ServerID(nodeID)

	// Hashicorp raft's defaults are tuned for WAN deployments; a
	// LAN-local manager quorum can fail over an order of magnitude
	// faster without risking spurious elections.
	config.HeartbeatTimeout = 500 * time.Millisecond
	config.ElectionTimeout = 500 * time.Millisecond
	config.CommitTimeout = 50 * time.Millisecond
	config.LeaderLeaseTimeout = 250 * time.Millisecond

	return config
}

func (m *GroupManager) newRaft(config *raft.Config) (*raft.Raft, error) {
	addr, err := net.ResolveTCPAddr("tcp", m.bindAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve bind address: %w", err)
	}

	transport, err := raft.NewTCPTransport(m.bindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("create raft transport: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(m.dataDir, 2, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("create snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(m.dataDir, "raft-log.db"))
	if err != nil {
		return nil, fmt.Errorf("create raft log store: %w", err)
	}

	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(m.dataDir, "raft-stable.db"))
	if err != nil {
		return nil, fmt.Errorf("create raft stable store: %w", err)
	}

	r, err := raft.NewRaft(config, m.fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return nil, fmt.Errorf("create raft: %w", err)
	}

	return r, nil
}

// Bootstrap forms a brand new single-node manager quorum with this node as
// its only voter.
func (m *GroupManager) Bootstrap() error {
	config := raftConfig(m.nodeID)
	r, err := m.newRaft(config)
	if err != nil {
		return err
	}
	m.raft = r

	configuration := raft.Configuration{
		Servers: []raft.Server{{ID: config.LocalID, Address: raft.ServerAddress(m.bindAddr)}},
	}
	if err := m.raft.BootstrapCluster(configuration).Error(); err != nil {
		return fmt.Errorf("bootstrap cluster: %w", err)
	}
	return nil
}

// JoinRequest is what Join sends to an existing leader's admin endpoint,
// and what that endpoint decodes and hands to HandleJoinRequest.
type JoinRequest struct {
	NodeID   string `json:"nodeId"`
	BindAddr string `json:"bindAddr"`
	Token    string `json:"token"`
}

// Join starts this node's raft instance and asks the leader reachable at
// leaderAdminAddr (an HTTP address, not the raft bind address) to add it as
// a voter, authenticating with a JoinToken minted by that leader.
func (m *GroupManager) Join(leaderAdminAddr, token string) error {
	config := raftConfig(m.nodeID)
	r, err := m.newRaft(config)
	if err != nil {
		return err
	}
	m.raft = r

	body, err := json.Marshal(JoinRequest{NodeID: m.nodeID, BindAddr: m.bindAddr, Token: token})
	if err != nil {
		return fmt.Errorf("marshal join request: %w", err)
	}

	url := fmt.Sprintf("http://%s/v2/cluster/voters", leaderAdminAddr)
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("contact leader at %s: %w", leaderAdminAddr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("leader rejected join request: status %d", resp.StatusCode)
	}

	return nil
}

// AddVoter adds a new manager node to the raft quorum. Only the leader may
// call this successfully.
func (m *GroupManager) AddVoter(nodeID, address string) error {
	if m.raft == nil {
		return fmt.Errorf("raft not initialized")
	}
	if !m.IsLeader() {
		return apierror.NotLeader(m.LeaderAddr())
	}
	return m.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(address), 0, 10*time.Second).Error()
}

// HandleJoinRequest validates req.Token and, if valid, adds the requesting
// node as a raft voter. It is the implementation behind the leader's
// /v2/cluster/voters admin endpoint.
func (m *GroupManager) HandleJoinRequest(req JoinRequest) error {
	if _, err := m.tokenManager.ValidateToken(req.Token); err != nil {
		return apierror.New(apierror.KindAuthenticationError, err.Error())
	}
	return m.AddVoter(req.NodeID, req.BindAddr)
}

// RemoveServer removes a server from the raft quorum.
func (m *GroupManager) RemoveServer(nodeID string) error {
	if m.raft == nil {
		return fmt.Errorf("raft not initialized")
	}
	if !m.IsLeader() {
		return apierror.NotLeader(m.LeaderAddr())
	}
	return m.raft.RemoveServer(raft.ServerID(nodeID), 0, 10*time.Second).Error()
}

// GenerateJoinToken mints a token a prospective voter can present to Join.
// Only the leader may mint tokens.
func (m *GroupManager) GenerateJoinToken(role string) (*JoinToken, error) {
	if !m.IsLeader() {
		return nil, apierror.NotLeader(m.LeaderAddr())
	}
	return m.tokenManager.GenerateToken(role, 24*time.Hour)
}

// ListJoinTokens returns every join token not yet expired or revoked,
// backing the leader's /v2/cluster/tokens admin endpoint.
func (m *GroupManager) ListJoinTokens() []*JoinToken {
	return m.tokenManager.ListTokens()
}

// RevokeJoinToken invalidates token immediately, before its natural
// expiry. Only the leader may revoke.
func (m *GroupManager) RevokeJoinToken(token string) error {
	if !m.IsLeader() {
		return apierror.NotLeader(m.LeaderAddr())
	}
	m.tokenManager.RevokeToken(token)
	return nil
}

// runTokenCleanup periodically purges expired join tokens so ListJoinTokens
// and the admin endpoint never surface stale entries.
func (m *GroupManager) runTokenCleanup() {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.tokenManager.CleanupExpiredTokens()
		case <-m.tokenCleanupStop:
			return
		}
	}
}

// IsLeader reports whether this node currently holds raft leadership.
func (m *GroupManager) IsLeader() bool {
	return m.raft != nil && m.raft.State() == raft.Leader
}

// LeaderAddr returns the raft bind address of the current leader, or "" if
// none is known.
func (m *GroupManager) LeaderAddr() string {
	if m.raft == nil {
		return ""
	}
	return string(m.raft.Leader())
}

// RaftStats exposes a small snapshot of raft's internal state for
// diagnostics and the metrics collector.
func (m *GroupManager) RaftStats() map[string]string {
	if m.raft == nil {
		return nil
	}
	return map[string]string{
		"state":         m.raft.State().String(),
		"last_log_index": fmt.Sprint(m.raft.LastIndex()),
		"applied_index":  fmt.Sprint(m.raft.AppliedIndex()),
		"leader":         string(m.raft.Leader()),
	}
}

// Events returns the broker every manager-originated lifecycle event is
// published on.
func (m *GroupManager) Events() *events.Broker {
	return m.eventBroker
}

// Root returns the last committed root. Readers never block on
// UpdateRoot's lock; this loads an atomic pointer updated only at the end
// of a successful commit.
func (m *GroupManager) Root() snapshot.RootGroup {
	return *m.root.Load()
}

// Group resolves id against the current root.
func (m *GroupManager) Group(id pathid.PathId) (snapshot.Group, bool) {
	return m.Root().Group(id)
}

// GroupAt resolves id against the root as it existed at version.
func (m *GroupManager) GroupAt(id pathid.PathId, version snapshot.Timestamp) (snapshot.Group, bool) {
	root, err := m.store.LoadSnapshot(version)
	if err != nil {
		return snapshot.Group{}, false
	}
	return root.Group(id)
}

// Versions returns every root version on file, oldest first. The group
// tree versions as a whole, not per sub-path, so every id shares the same
// sequence.
func (m *GroupManager) Versions() ([]snapshot.Timestamp, error) {
	return m.store.ListVersions()
}

// InFlightDeployment reports the plan id of the deployment currently
// rolling out, if any.
func (m *GroupManager) InFlightDeployment() (string, bool) {
	d := m.inFlight.Load()
	if d == nil {
		return "", false
	}
	return d.planID, true
}

// CancelDeployment force-cancels the named in-flight deployment.
func (m *GroupManager) CancelDeployment(planID string) error {
	d := m.inFlight.Load()
	if d == nil || d.planID != planID {
		return apierror.New(apierror.KindUnknownGroup, "no such in-flight deployment: "+planID)
	}
	d.cancel()
	if err := m.executor.Cancel(planID); err != nil {
		return err
	}
	m.inFlight.Store(nil)
	_ = m.store.DeleteDeploymentPlan(planID)
	m.eventBroker.Publish(events.DeploymentCanceled, "canceled via API", map[string]string{"deploymentId": planID})
	return nil
}

// InFlightPlans lists the deployment plans currently persisted as in
// flight. The single-writer model means there is at most one, but the
// repository's shape (and the API's list endpoint) don't assume that.
func (m *GroupManager) InFlightPlans() ([]planner.DeploymentPlan, error) {
	return m.store.ListDeploymentPlans()
}

// DeploymentPlan fetches a single persisted deployment plan by id.
func (m *GroupManager) DeploymentPlan(id string) (planner.DeploymentPlan, error) {
	return m.store.GetDeploymentPlan(id)
}

func (m *GroupManager) historyLookup(path pathid.PathId, version snapshot.Timestamp) (snapshot.Group, bool) {
	return m.GroupAt(path, version)
}

// UpdateRoot is the single mutation entry point for structural, scaling, and
// revert updates. It validates and plans the requested change, replicates
// the new root through the raft log, and hands the resulting plan to the
// executor before returning.
func (m *GroupManager) UpdateRoot(path pathid.PathId, update snapshot.GroupUpdate, v snapshot.Timestamp, force bool) (planner.DeploymentPlan, error) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	update, err := m.sealSecrets(update)
	if err != nil {
		return planner.DeploymentPlan{}, apierror.New(apierror.KindValidation, err.Error())
	}

	current := m.Root()
	next, err := snapshot.Apply(current, path, update, v, m.historyLookup)
	if err != nil {
		return planner.DeploymentPlan{}, err
	}
	return m.applyAndDeploy(path, current, next, v, force)
}

// DeleteGroup removes the subtree at path, planning and executing whatever
// StopApp actions that implies, under the same single-writer discipline as
// UpdateRoot.
func (m *GroupManager) DeleteGroup(path pathid.PathId, v snapshot.Timestamp, force bool) (planner.DeploymentPlan, error) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	current := m.Root()
	next, err := current.RemoveGroup(path, v)
	if err != nil {
		return planner.DeploymentPlan{}, err
	}
	return m.applyAndDeploy(path, current, next, v, force)
}

// DryRunUpdate computes the plan UpdateRoot would execute for update
// without committing anything or starting the executor — used by the PUT
// ?dryRun=true API path.
func (m *GroupManager) DryRunUpdate(path pathid.PathId, update snapshot.GroupUpdate, v snapshot.Timestamp) (planner.DeploymentPlan, error) {
	update, err := m.sealSecrets(update)
	if err != nil {
		return planner.DeploymentPlan{}, apierror.New(apierror.KindValidation, err.Error())
	}

	current := m.Root()
	next, err := snapshot.Apply(current, path, update, v, m.historyLookup)
	if err != nil {
		return planner.DeploymentPlan{}, err
	}
	if err := next.Validate(); err != nil {
		return planner.DeploymentPlan{}, apierror.New(apierror.KindValidation, err.Error())
	}
	return planner.Diff(v.String(), current, next), nil
}

// applyAndDeploy validates next, diffs it against current, resolves any
// in-flight conflict, commits it through raft, and starts the resulting
// plan executing. Callers hold writeMu.
func (m *GroupManager) applyAndDeploy(path pathid.PathId, current, next snapshot.RootGroup, v snapshot.Timestamp, force bool) (planner.DeploymentPlan, error) {
	if !m.IsLeader() {
		return planner.DeploymentPlan{}, apierror.NotLeader(m.LeaderAddr())
	}

	if err := next.Validate(); err != nil {
		return planner.DeploymentPlan{}, apierror.New(apierror.KindValidation, err.Error())
	}

	plan := planner.Diff(v.String(), current, next)

	if existing := m.inFlight.Load(); existing != nil {
		if !force {
			return planner.DeploymentPlan{}, apierror.DeploymentInFlight(existing.planID)
		}
		existing.cancel()
		if err := m.executor.Cancel(existing.planID); err != nil {
			return planner.DeploymentPlan{}, fmt.Errorf("cancel in-flight deployment %s: %w", existing.planID, err)
		}
		_ = m.store.DeleteDeploymentPlan(existing.planID)
		m.eventBroker.Publish(events.DeploymentCanceled, "canceled by force update", map[string]string{"deploymentId": existing.planID})
	}

	if err := m.commit(next, current.Version()); err != nil {
		return planner.DeploymentPlan{}, err
	}

	m.eventBroker.Publish(events.GroupChangeSuccess, "root updated", map[string]string{
		"path":    path.String(),
		"version": v.String(),
	})

	if err := m.store.SaveDeploymentPlan(plan); err != nil {
		return planner.DeploymentPlan{}, apierror.New(apierror.KindRepositoryFailure, fmt.Sprintf("persist deployment plan: %v", err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.inFlight.Store(&inFlightDeployment{planID: plan.ID, cancel: cancel})

	pathLog := log.WithPath(path.String())
	pathLog.Info().Str("deploymentId", plan.ID).Msg("deployment started")
	m.executor.Start(ctx, plan, m.onDeploySuccess, m.onDeployFailure)

	return plan, nil
}

func (m *GroupManager) commit(next snapshot.RootGroup, expected snapshot.Timestamp) error {
	payload := commitRootPayload{Root: next, Expected: expected}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal commit payload: %w", err)
	}

	raw, err := json.Marshal(Command{Op: opCommitRoot, Data: data})
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}

	future := m.raft.Apply(raw, 5*time.Second)
	if err := future.Error(); err != nil {
		return apierror.New(apierror.KindRepositoryFailure, fmt.Sprintf("replicate commit: %v", err))
	}
	if resp := future.Response(); resp != nil {
		if err, ok := resp.(error); ok && err != nil {
			return apierror.New(apierror.KindRepositoryFailure, err.Error())
		}
	}

	m.root.Store(&next)
	return nil
}

func (m *GroupManager) onDeploySuccess(planID string) {
	if d := m.inFlight.Load(); d != nil && d.planID == planID {
		m.inFlight.Store(nil)
	}
	_ = m.store.DeleteDeploymentPlan(planID)
	completedLog := log.WithDeploymentID(planID)
	completedLog.Info().Msg("deployment completed")
	m.eventBroker.Publish(events.DeploymentSuccess, "deployment completed", map[string]string{"deploymentId": planID})
}

func (m *GroupManager) onDeployFailure(planID string, cause error) {
	if d := m.inFlight.Load(); d != nil && d.planID == planID {
		m.inFlight.Store(nil)
	}
	_ = m.store.DeleteDeploymentPlan(planID)
	failedLog := log.WithDeploymentID(planID)
	failedLog.Error().Err(cause).Msg("deployment failed")
	m.eventBroker.Publish(events.DeploymentFailed, cause.Error(), map[string]string{"deploymentId": planID})
}

// Shutdown stops the join-token cleanup loop, then releases the event
// broker, raft, and the repository, in that order.
func (m *GroupManager) Shutdown() error {
	if m.tokenCleanupStop != nil {
		close(m.tokenCleanupStop)
	}

	if m.eventBroker != nil {
		m.eventBroker.Stop()
	}

	if m.raft != nil {
		if err := m.raft.Shutdown().Error(); err != nil {
			return fmt.Errorf("shutdown raft: %w", err)
		}
	}

	if m.store != nil {
		if err := m.store.Close(); err != nil {
			return fmt.Errorf("close store: %w", err)
		}
	}

	return nil
}
