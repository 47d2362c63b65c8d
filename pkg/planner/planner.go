// Package planner diffs two group-tree snapshots into an ordered
// deployment plan.
package planner

import (
	"sort"

	"github.com/cazacugmihai/fleetctl/pkg/pathid"
	"github.com/cazacugmihai/fleetctl/pkg/snapshot"
)

// ActionKind identifies which of the four action variants an Action is.
type ActionKind string

const (
	ActionStartApp   ActionKind = "StartApp"
	ActionStopApp    ActionKind = "StopApp"
	ActionScaleApp   ActionKind = "ScaleApp"
	ActionRestartApp ActionKind = "RestartApp"
)

// Action is one unit of executable work inside a DeploymentStep.
type Action struct {
	Kind ActionKind
	ID   pathid.PathId
	// Spec is the target AppSpec for StartApp/RestartApp.
	Spec snapshot.AppSpec
	// From/To are the prior/next AppSpec for ScaleApp/RestartApp.
	From snapshot.AppSpec
	To   snapshot.AppSpec
}

// DeploymentStep is a set of actions with no dependency edges between them;
// they may execute concurrently.
type DeploymentStep struct {
	Actions []Action
}

// DeploymentPlan is the output of Diff: an ordered sequence of steps whose
// sequential execution transforms From into To.
type DeploymentPlan struct {
	ID    string
	From  snapshot.RootGroup
	To    snapshot.RootGroup
	Steps []DeploymentStep
}

// Diff computes the DeploymentPlan that transforms from into to.
func Diff(id string, from, to snapshot.RootGroup) DeploymentPlan {
	fromApps := from.TransitiveAppsById()
	toApps := to.TransitiveAppsById()

	actionsByGroup := map[string][]Action{}
	addAction := func(a Action) {
		groupKey := a.ID.Parent().String()
		actionsByGroup[groupKey] = append(actionsByGroup[groupKey], a)
	}

	for appID, toSpec := range toApps {
		if _, existed := fromApps[appID]; !existed {
			addAction(Action{Kind: ActionStartApp, ID: toSpec.Id, Spec: toSpec})
		}
	}
	for appID, fromSpec := range fromApps {
		if _, stillPresent := toApps[appID]; !stillPresent {
			addAction(Action{Kind: ActionStopApp, ID: fromSpec.Id, Spec: fromSpec})
		}
	}
	for appID, toSpec := range toApps {
		fromSpec, existed := fromApps[appID]
		if !existed {
			continue
		}
		if fromSpec.EqualSpec(toSpec) {
			continue
		}
		if fromSpec.EqualIgnoringInstances(toSpec) {
			addAction(Action{Kind: ActionScaleApp, ID: toSpec.Id, From: fromSpec, To: toSpec})
		} else {
			addAction(Action{Kind: ActionRestartApp, ID: toSpec.Id, From: fromSpec, To: toSpec, Spec: toSpec})
		}
	}

	order := topologicalGroupOrder(to, from)
	steps := make([]DeploymentStep, 0, len(order))
	for _, groupKey := range order {
		acts := actionsByGroup[groupKey]
		if len(acts) == 0 {
			continue
		}
		sort.Slice(acts, func(i, j int) bool { return acts[i].ID.Less(acts[j].ID) })
		steps = append(steps, DeploymentStep{Actions: acts})
	}

	return DeploymentPlan{ID: id, From: from, To: to, Steps: steps}
}

// topologicalGroupOrder returns the keys (String() of each group's Id) of
// every group in to and from, plus the root, ordered so that a group's
// declared Dependencies always precede it, and lexical PathId order breaks
// ties between groups with no ordering relationship. Diff skips the groups
// that own no changed app. Only group-level Dependencies add edges; an
// AppSpec's own Dependencies are not consulted.
func topologicalGroupOrder(to, from snapshot.RootGroup) []string {
	depsByGroup := map[string][]string{}
	var collectDeps func(g snapshot.Group)
	collectDeps = func(g snapshot.Group) {
		key := g.Id().String()
		for _, dep := range g.Dependencies() {
			depsByGroup[key] = append(depsByGroup[key], dep.String())
		}
		for _, sub := range g.Groups() {
			collectDeps(sub)
		}
	}
	collectDeps(to)
	collectDeps(from)

	allGroups := map[string]pathid.PathId{}
	var collectGroupIDs func(g snapshot.Group)
	collectGroupIDs = func(g snapshot.Group) {
		allGroups[g.Id().String()] = g.Id()
		for _, sub := range g.Groups() {
			collectGroupIDs(sub)
		}
	}
	collectGroupIDs(to)
	collectGroupIDs(from)
	allGroups[pathid.Root.String()] = pathid.Root

	keys := make([]string, 0, len(allGroups))
	for k := range allGroups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return allGroups[keys[i]].Less(allGroups[keys[j]]) })

	visited := map[string]bool{}
	var order []string
	var visit func(key string)
	visit = func(key string) {
		if visited[key] {
			return
		}
		visited[key] = true
		for _, dep := range depsByGroup[key] {
			visit(dep)
		}
		order = append(order, key)
	}
	for _, k := range keys {
		visit(k)
	}
	return order
}
