package planner_test

import (
	"testing"

	"github.com/cazacugmihai/fleetctl/pkg/pathid"
	"github.com/cazacugmihai/fleetctl/pkg/planner"
	"github.com/cazacugmihai/fleetctl/pkg/snapshot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildRoot(t *testing.T, appPath string, instances int) snapshot.RootGroup {
	t.Helper()
	full := pathid.New(appPath)
	segs := full.Segments()
	name := segs[len(segs)-1]
	parent := full.Parent()

	root := snapshot.NewRoot()
	spec := snapshot.AppSpec{Id: pathid.Relative(name), Instances: instances, Cmd: "run"}
	next, err := snapshot.Apply(root, parent, snapshot.GroupUpdate{Apps: []snapshot.AppSpec{spec}}, snapshot.Now(), nil)
	require.NoError(t, err)
	return next
}

func TestDiffStartApp(t *testing.T) {
	from := snapshot.NewRoot()
	to := buildRoot(t, "/a/b", 1)

	plan := planner.Diff("d1", from, to)
	require.Len(t, plan.Steps, 1)
	require.Len(t, plan.Steps[0].Actions, 1)
	assert.Equal(t, planner.ActionStartApp, plan.Steps[0].Actions[0].Kind)
}

func TestDiffStopApp(t *testing.T) {
	from := buildRoot(t, "/a/b", 1)
	to := snapshot.NewRoot()

	plan := planner.Diff("d1", from, to)
	require.Len(t, plan.Steps, 1)
	assert.Equal(t, planner.ActionStopApp, plan.Steps[0].Actions[0].Kind)
}

func TestDiffScaleOnly(t *testing.T) {
	from := buildRoot(t, "/a/b", 1)
	factor := 3.0
	to, err := snapshot.Apply(from, pathid.New("/a"), snapshot.GroupUpdate{ScaleBy: &factor}, snapshot.Now(), nil)
	require.NoError(t, err)

	plan := planner.Diff("d1", from, to)
	require.Len(t, plan.Steps, 1)
	require.Len(t, plan.Steps[0].Actions, 1)
	assert.Equal(t, planner.ActionScaleApp, plan.Steps[0].Actions[0].Kind)
}

func TestDiffRestartOnConfigChange(t *testing.T) {
	from := buildRoot(t, "/a/b", 1)
	toSpec := snapshot.AppSpec{Id: pathid.Relative("b"), Instances: 1, Cmd: "run-v2"}
	to, err := snapshot.Apply(from, pathid.New("/a"), snapshot.GroupUpdate{Apps: []snapshot.AppSpec{toSpec}}, snapshot.Now(), nil)
	require.NoError(t, err)

	plan := planner.Diff("d1", from, to)
	require.Len(t, plan.Steps, 1)
	assert.Equal(t, planner.ActionRestartApp, plan.Steps[0].Actions[0].Kind)
}

func TestDiffIsDeterministic(t *testing.T) {
	from := snapshot.NewRoot()
	to := buildRoot(t, "/a/b", 1)
	to, err := snapshot.Apply(to, pathid.New("/a"), snapshot.GroupUpdate{Apps: []snapshot.AppSpec{{Id: pathid.Relative("c"), Instances: 2, Cmd: "run"}}}, snapshot.Now(), nil)
	require.NoError(t, err)

	p1 := planner.Diff("d1", from, to)
	p2 := planner.Diff("d1", from, to)
	require.Equal(t, len(p1.Steps), len(p2.Steps))
	for i := range p1.Steps {
		require.Equal(t, len(p1.Steps[i].Actions), len(p2.Steps[i].Actions))
		for j := range p1.Steps[i].Actions {
			assert.Equal(t, p1.Steps[i].Actions[j].ID.String(), p2.Steps[i].Actions[j].ID.String())
		}
	}
}

func TestDiffNoChangeYieldsEmptyPlan(t *testing.T) {
	root := buildRoot(t, "/a/b", 1)
	plan := planner.Diff("d1", root, root)
	assert.Empty(t, plan.Steps)
}
