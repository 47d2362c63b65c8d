package health_test

import (
	"context"
	"testing"
	"time"

	"github.com/cazacugmihai/fleetctl/pkg/health"
	"github.com/cazacugmihai/fleetctl/pkg/pathid"
	"github.com/cazacugmihai/fleetctl/pkg/snapshot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeKiller struct {
	requests []health.KillRequest
}

func (f *fakeKiller) RequestKill(ctx context.Context, req health.KillRequest) error {
	f.requests = append(f.requests, req)
	return nil
}

type fakeLister struct{}

func (fakeLister) RunningTasks(pathid.PathId, snapshot.Timestamp) []health.TaskInfo { return nil }

func newTestSupervisor(check snapshot.HealthCheckSpec, killer health.KillRequester) *health.Supervisor {
	return health.NewSupervisor(pathid.New("/a/b"), snapshot.Now(), check, fakeLister{}, killer, nil)
}

func TestObserveResultIgnoresOtherVersions(t *testing.T) {
	check := snapshot.HealthCheckSpec{MaxConsecutiveFailures: 3}
	sup := newTestSupervisor(check, &fakeKiller{})
	task := health.TaskInfo{ID: "t1", StartedAt: time.Now().Add(-time.Hour), Reachable: true}

	sup.ObserveResult(task, snapshot.Now(), health.Result{Healthy: false, CheckedAt: time.Now()})

	assert.Equal(t, 0, sup.TaskHealth("t1").ConsecutiveFailures)
}

func TestFailuresAccumulateAndAliveFlips(t *testing.T) {
	check := snapshot.HealthCheckSpec{MaxConsecutiveFailures: 3}
	killer := &fakeKiller{}
	version := snapshot.Now()
	sup := health.NewSupervisor(pathid.New("/a/b"), version, check, fakeLister{}, killer, nil)
	task := health.TaskInfo{ID: "t1", StartedAt: time.Now().Add(-time.Hour), Reachable: true}

	for i := 0; i < 3; i++ {
		sup.ObserveResult(task, version, health.Result{Healthy: false, Message: "down", CheckedAt: time.Now()})
	}

	h := sup.TaskHealth("t1")
	require.Equal(t, 3, h.ConsecutiveFailures)
	assert.False(t, h.Alive)
	require.Len(t, killer.requests, 1)
	assert.Equal(t, health.TaskId("t1"), killer.requests[0].TaskId)
}

func TestUnreachableTaskNeverRequestsKill(t *testing.T) {
	check := snapshot.HealthCheckSpec{MaxConsecutiveFailures: 1}
	killer := &fakeKiller{}
	version := snapshot.Now()
	sup := health.NewSupervisor(pathid.New("/a/b"), version, check, fakeLister{}, killer, nil)
	task := health.TaskInfo{ID: "t1", StartedAt: time.Now().Add(-time.Hour), Reachable: false}

	sup.ObserveResult(task, version, health.Result{Healthy: false, CheckedAt: time.Now()})

	assert.Empty(t, killer.requests)
}

func TestGracePeriodSuppressesEarlyFailures(t *testing.T) {
	check := snapshot.HealthCheckSpec{MaxConsecutiveFailures: 1, GracePeriodSeconds: 3600}
	version := snapshot.Now()
	sup := health.NewSupervisor(pathid.New("/a/b"), version, check, fakeLister{}, &fakeKiller{}, nil)
	task := health.TaskInfo{ID: "t1", StartedAt: time.Now(), Reachable: true}

	sup.ObserveResult(task, version, health.Result{Healthy: false, CheckedAt: time.Now()})

	h := sup.TaskHealth("t1")
	assert.Equal(t, 0, h.ConsecutiveFailures)
	assert.True(t, h.Alive)
}

func TestSuccessResetsConsecutiveFailures(t *testing.T) {
	check := snapshot.HealthCheckSpec{MaxConsecutiveFailures: 3}
	version := snapshot.Now()
	sup := health.NewSupervisor(pathid.New("/a/b"), version, check, fakeLister{}, &fakeKiller{}, nil)
	task := health.TaskInfo{ID: "t1", StartedAt: time.Now().Add(-time.Hour), Reachable: true}

	sup.ObserveResult(task, version, health.Result{Healthy: false, CheckedAt: time.Now()})
	sup.ObserveResult(task, version, health.Result{Healthy: false, CheckedAt: time.Now()})
	sup.ObserveResult(task, version, health.Result{Healthy: true, CheckedAt: time.Now()})

	h := sup.TaskHealth("t1")
	assert.Equal(t, 0, h.ConsecutiveFailures)
	assert.True(t, h.Alive)
}

func TestAppHealthReturnsAllTrackedTasks(t *testing.T) {
	check := snapshot.HealthCheckSpec{MaxConsecutiveFailures: 3}
	version := snapshot.Now()
	sup := health.NewSupervisor(pathid.New("/a/b"), version, check, fakeLister{}, &fakeKiller{}, nil)

	sup.ObserveResult(health.TaskInfo{ID: "t1", Reachable: true}, version, health.Result{Healthy: true, CheckedAt: time.Now()})
	sup.ObserveResult(health.TaskInfo{ID: "t2", Reachable: true}, version, health.Result{Healthy: true, CheckedAt: time.Now()})

	all := sup.AppHealth()
	assert.Len(t, all, 2)
}
