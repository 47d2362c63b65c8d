package manager_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cazacugmihai/fleetctl/pkg/manager"
	"github.com/cazacugmihai/fleetctl/pkg/pathid"
	"github.com/cazacugmihai/fleetctl/pkg/planner"
	"github.com/cazacugmihai/fleetctl/pkg/snapshot"
)

type fakeExecutor struct {
	started []planner.DeploymentPlan
	cancels []string
}

func (f *fakeExecutor) Start(ctx context.Context, plan planner.DeploymentPlan, onSuccess func(string), onFailure func(string, error)) {
	f.started = append(f.started, plan)
}

func (f *fakeExecutor) Cancel(planID string) error {
	f.cancels = append(f.cancels, planID)
	return nil
}

func freeAddr(t *testing.T) string {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func newBootstrappedManager(t *testing.T, exec manager.Executor) *manager.GroupManager {
	mgr, err := manager.NewManager(&manager.Config{
		NodeID:   "node-1",
		BindAddr: freeAddr(t),
		DataDir:  t.TempDir(),
	}, exec)
	require.NoError(t, err)

	require.NoError(t, mgr.Bootstrap())

	require.Eventually(t, mgr.IsLeader, 5*time.Second, 10*time.Millisecond, "node never became leader")

	return mgr
}

func TestBootstrapBecomesLeader(t *testing.T) {
	mgr := newBootstrappedManager(t, &fakeExecutor{})
	assert.True(t, mgr.IsLeader())
	assert.True(t, mgr.Root().Version().IsZero()) // fresh root, no apps yet
}

func TestUpdateRootStartsDeploymentAndAdvancesRoot(t *testing.T) {
	exec := &fakeExecutor{}
	mgr := newBootstrappedManager(t, exec)

	appPath := pathid.New("/prod/web")
	update := snapshot.GroupUpdate{
		Apps: []snapshot.AppSpec{{
			Id:        appPath,
			Instances: 2,
			Cmd:       "serve",
		}},
	}

	plan, err := mgr.UpdateRoot(pathid.New("/prod"), update, snapshot.Now(), false)
	require.NoError(t, err)
	require.Len(t, exec.started, 1)
	assert.Equal(t, plan.ID, exec.started[0].ID)

	app, ok := mgr.Root().AppAt(appPath)
	require.True(t, ok)
	assert.Equal(t, 2, app.Instances)
}

func TestUpdateRootRejectsConcurrentDeploymentWithoutForce(t *testing.T) {
	exec := &fakeExecutor{}
	mgr := newBootstrappedManager(t, exec)

	update1 := snapshot.GroupUpdate{
		Apps: []snapshot.AppSpec{{Id: pathid.New("/a"), Instances: 1}},
	}
	_, err := mgr.UpdateRoot(pathid.Root, update1, snapshot.Now(), false)
	require.NoError(t, err)

	update2 := snapshot.GroupUpdate{
		Apps: []snapshot.AppSpec{{Id: pathid.New("/b"), Instances: 1}},
	}
	_, err = mgr.UpdateRoot(pathid.Root, update2, snapshot.Now(), false)
	require.Error(t, err)
}

func TestUpdateRootForceCancelsInFlightDeployment(t *testing.T) {
	exec := &fakeExecutor{}
	mgr := newBootstrappedManager(t, exec)

	update1 := snapshot.GroupUpdate{
		Apps: []snapshot.AppSpec{{Id: pathid.New("/a"), Instances: 1}},
	}
	first, err := mgr.UpdateRoot(pathid.Root, update1, snapshot.Now(), false)
	require.NoError(t, err)

	update2 := snapshot.GroupUpdate{
		Apps: []snapshot.AppSpec{{Id: pathid.New("/b"), Instances: 1}},
	}
	_, err = mgr.UpdateRoot(pathid.Root, update2, snapshot.Now(), true)
	require.NoError(t, err)

	require.Contains(t, exec.cancels, first.ID)
}

func TestGenerateJoinTokenRequiresLeadership(t *testing.T) {
	mgr := newBootstrappedManager(t, &fakeExecutor{})

	token, err := mgr.GenerateJoinToken("observer")
	require.NoError(t, err)
	assert.Equal(t, "observer", token.Role)
}

func TestUpdateRootSealsPlaintextSecrets(t *testing.T) {
	exec := &fakeExecutor{}
	mgr := newBootstrappedManager(t, exec)

	appPath := pathid.New("/prod/web")
	update := snapshot.GroupUpdate{
		Apps: []snapshot.AppSpec{{
			Id:        appPath,
			Instances: 1,
			Secrets:   []snapshot.SecretRef{{Name: "db-password", PlaintextValue: []byte("hunter2")}},
		}},
	}

	_, err := mgr.UpdateRoot(pathid.New("/prod"), update, snapshot.Now(), false)
	require.NoError(t, err)

	app, ok := mgr.Root().AppAt(appPath)
	require.True(t, ok)
	require.Len(t, app.Secrets, 1)
	assert.Empty(t, app.Secrets[0].PlaintextValue)
	assert.NotEmpty(t, app.Secrets[0].EncryptedValue)
	assert.NotContains(t, string(app.Secrets[0].EncryptedValue), "hunter2")
}
