package snapshot

import (
	"github.com/cazacugmihai/fleetctl/pkg/apierror"
	"github.com/cazacugmihai/fleetctl/pkg/pathid"
)

// GroupDef is the user-declared shape of a sub-group inside a structural
// GroupUpdate: an id (relative to its enclosing group, typically a single
// segment), the apps it declares directly, and any nested sub-groups.
type GroupDef struct {
	Id           pathid.PathId
	Apps         []AppSpec
	Groups       []GroupDef
	Dependencies []pathid.PathId
}

// GroupUpdate is a patch document describing an intended mutation at a
// path. Exactly one of the three alternatives below applies, checked in
// the order revert, scale, structural.
type GroupUpdate struct {
	// RevertVersion, if set, requests a revert of the subtree at the target
	// path to the group found at that prior version.
	RevertVersion *Timestamp
	// ScaleBy, if set, multiplies every transitive app's Instances by this
	// factor, rounding up, and changes nothing else.
	ScaleBy *float64
	// Apps and Groups declare the structural merge: apps/sub-groups are
	// created if absent, replaced if their spec differs, left untouched
	// otherwise.
	Apps         []AppSpec
	Groups       []GroupDef
	Dependencies []pathid.PathId
}

// HistoryLookup resolves the group that was current at path as of version —
// supplied by the caller (the GroupManager, backed by the repository) since
// the snapshot package itself has no notion of persisted history.
type HistoryLookup func(path pathid.PathId, version Timestamp) (Group, bool)

// Apply resolves a GroupUpdate against root at path, returning the new
// root. It is pure except for the optional call into lookup for the revert
// case.
func Apply(root RootGroup, path pathid.PathId, update GroupUpdate, v Timestamp, lookup HistoryLookup) (RootGroup, error) {
	switch {
	case update.RevertVersion != nil:
		if lookup == nil {
			return RootGroup{}, apierror.New(apierror.KindUnknownVersion, "no history lookup available for revert")
		}
		prior, ok := lookup(path, *update.RevertVersion)
		if !ok {
			return RootGroup{}, apierror.New(apierror.KindUnknownVersion, "no group found at that version")
		}
		prior.id = path
		return root.PutGroup(prior, v)

	case update.ScaleBy != nil:
		factor := *update.ScaleBy
		return root.UpdateTransitiveApps(path, func(a AppSpec) AppSpec {
			return a.WithInstances(ScaledUp(a.Instances, factor), v)
		}, v)

	default:
		var existing *Group
		if g, ok := root.Group(path); ok {
			existing = &g
		}
		merged, err := mergeGroup(existing, path, update.Apps, update.Groups, update.Dependencies, v)
		if err != nil {
			return RootGroup{}, err
		}
		return root.PutGroup(merged, v)
	}
}

// mergeGroup builds the group content at id by overlaying the declared
// apps/sub-groups onto whatever already exists there, recursing into
// nested GroupDefs.
func mergeGroup(existing *Group, id pathid.PathId, apps []AppSpec, subgroups []GroupDef, deps []pathid.PathId, v Timestamp) (Group, error) {
	base := NewEmpty(id, v)
	if existing != nil {
		base.apps = copyApps(existing.apps)
		base.groups = copyGroups(existing.groups)
		base.dependencies = existing.dependencies
	}
	if deps != nil {
		base.dependencies = deps
	}

	for _, app := range apps {
		resolved := app
		resolved.Id = app.Id.CanonicalPath(id)
		resolved.Version = v
		if !resolved.Id.IsChildOf(id) {
			return Group{}, apierror.New(apierror.KindInvalidHierarchy, "app id is not a child of its group")
		}
		key := resolved.Id.String()
		if _, isGroup := base.groups[key]; isGroup {
			return Group{}, apierror.New(apierror.KindConflictingPath, "path already exists as a group: "+key)
		}
		if prev, ok := base.apps[key]; ok && prev.EqualSpec(resolved) {
			continue
		}
		base.apps[key] = resolved
	}

	for _, sub := range subgroups {
		childID := sub.Id.CanonicalPath(id)
		if !childID.IsChildOf(id) {
			return Group{}, apierror.New(apierror.KindInvalidHierarchy, "group id is not a child of its parent")
		}
		key := childID.String()
		if _, isApp := base.apps[key]; isApp {
			return Group{}, apierror.New(apierror.KindConflictingPath, "path already exists as an app: "+key)
		}
		var existingChild *Group
		if g, ok := base.groups[key]; ok {
			existingChild = &g
		}
		merged, err := mergeGroup(existingChild, childID, sub.Apps, sub.Groups, sub.Dependencies, v)
		if err != nil {
			return Group{}, err
		}
		base.groups[key] = merged
	}

	return base, nil
}

// Conflicts reports whether an app or a group already exists at path (the
// root group always does) — used by the API controller to distinguish
// POST's "already exists" 409 from a routine create.
func Conflicts(root RootGroup, path pathid.PathId) bool {
	if _, ok := root.Group(path); ok {
		return true
	}
	_, ok := root.AppAt(path)
	return ok
}
