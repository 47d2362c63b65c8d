package snapshot

import (
	"encoding/json"

	"github.com/cazacugmihai/fleetctl/pkg/apierror"
	"github.com/cazacugmihai/fleetctl/pkg/pathid"
)

// Group is a node in the declarative path tree: a named folder holding apps
// and/or sub-groups. Every transformation below is pure — it returns a new
// value, never mutating the receiver.
type Group struct {
	id           pathid.PathId
	version      Timestamp
	apps         map[string]AppSpec
	groups       map[string]Group
	dependencies []pathid.PathId
}

// RootGroup is the distinguished Group whose Id is the absolute empty path.
type RootGroup = Group

// NewRoot returns an empty root group at the zero version.
func NewRoot() RootGroup {
	return Group{id: pathid.Root, version: Zero, apps: map[string]AppSpec{}, groups: map[string]Group{}}
}

// NewEmpty returns an empty group at id with the given version.
func NewEmpty(id pathid.PathId, v Timestamp) Group {
	return Group{id: id, version: v, apps: map[string]AppSpec{}, groups: map[string]Group{}}
}

func (g Group) Id() pathid.PathId  { return g.id }
func (g Group) Version() Timestamp { return g.version }

// Dependencies returns the explicit ordering edges declared on this group —
// consumed by the planner to serialize dependent groups into separate steps.
func (g Group) Dependencies() []pathid.PathId { return g.dependencies }

// WithDependencies returns a copy of g carrying the given dependency edges.
func (g Group) WithDependencies(deps []pathid.PathId) Group {
	g.dependencies = deps
	return g
}

// Apps returns a defensive copy of the group's direct apps, keyed by their
// String() id.
func (g Group) Apps() map[string]AppSpec {
	return copyApps(g.apps)
}

// Groups returns a defensive copy of the group's direct sub-groups.
func (g Group) Groups() map[string]Group {
	return copyGroups(g.groups)
}

// App looks up a direct app by its full id.
func (g Group) App(id pathid.PathId) (AppSpec, bool) {
	a, ok := g.apps[id.String()]
	return a, ok
}

// SubGroup looks up a direct sub-group by its full id.
func (g Group) SubGroup(id pathid.PathId) (Group, bool) {
	sub, ok := g.groups[id.String()]
	return sub, ok
}

func copyApps(m map[string]AppSpec) map[string]AppSpec {
	out := make(map[string]AppSpec, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyGroups(m map[string]Group) map[string]Group {
	out := make(map[string]Group, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Group looks up a node anywhere in the tree rooted at g, including g
// itself.
func (g Group) Group(id pathid.PathId) (Group, bool) {
	if id.Equal(g.id) {
		return g, true
	}
	if !id.Contains(g.id) && !g.id.Contains(id) {
		return Group{}, false
	}
	return g.descend(relativeSegments(g.id, id))
}

func (g Group) descend(remaining []string) (Group, bool) {
	if len(remaining) == 0 {
		return g, true
	}
	childID := g.id.Child(remaining[0])
	child, ok := g.groups[childID.String()]
	if !ok {
		return Group{}, false
	}
	return child.descend(remaining[1:])
}

// relativeSegments returns target's segments beyond base's, assuming base
// is an ancestor of (or equal to) target.
func relativeSegments(base, target pathid.PathId) []string {
	baseLen := len(base.Segments())
	return target.Segments()[baseLen:]
}

// AppAt looks up an app anywhere in the tree rooted at g by its full id.
func (g Group) AppAt(id pathid.PathId) (AppSpec, bool) {
	holder, ok := g.Group(id.Parent())
	if !ok {
		return AppSpec{}, false
	}
	return holder.App(id)
}

// TransitiveAppsById flattens every app under g, including g's own direct
// apps, keyed by full id.
func (g Group) TransitiveAppsById() map[string]AppSpec {
	out := map[string]AppSpec{}
	g.collectApps(out)
	return out
}

func (g Group) collectApps(out map[string]AppSpec) {
	for k, v := range g.apps {
		out[k] = v
	}
	for _, sub := range g.groups {
		sub.collectApps(out)
	}
}

// PutGroup inserts or replaces the sub-group at content's Id, auto-creating
// missing ancestor groups as empty groups. content's own Id and Version
// fields are honored; the spine from the root to content's parent is
// stamped with v.
func (g Group) PutGroup(content Group, v Timestamp) (Group, error) {
	if content.id.IsRoot() {
		return Group{id: g.id, version: v, apps: copyApps(content.apps), groups: copyGroups(content.groups)}, nil
	}
	if !content.id.Contains(g.id) && !g.id.Contains(content.id) {
		return Group{}, apierror.New(apierror.KindInvalidHierarchy, "path is not within this tree")
	}
	remaining := relativeSegments(g.id, content.id.Parent())
	return g.putGroupRec(remaining, content, v)
}

func (g Group) putGroupRec(remaining []string, content Group, v Timestamp) (Group, error) {
	if len(remaining) == 0 {
		key := content.id.String()
		if !content.id.IsChildOf(g.id) {
			return Group{}, apierror.New(apierror.KindInvalidHierarchy, "child id is not a child path of its parent")
		}
		if _, isApp := g.apps[key]; isApp {
			return Group{}, apierror.New(apierror.KindConflictingPath, "path already exists as an app")
		}
		newGroups := copyGroups(g.groups)
		newGroups[key] = content
		return Group{id: g.id, version: v, apps: g.apps, groups: newGroups}, nil
	}
	seg := remaining[0]
	childID := g.id.Child(seg)
	key := childID.String()
	if _, isApp := g.apps[key]; isApp {
		return Group{}, apierror.New(apierror.KindConflictingPath, "path already exists as an app")
	}
	child, ok := g.groups[key]
	if !ok {
		child = NewEmpty(childID, v)
	}
	newChild, err := child.putGroupRec(remaining[1:], content, v)
	if err != nil {
		return Group{}, err
	}
	newGroups := copyGroups(g.groups)
	newGroups[key] = newChild
	return Group{id: g.id, version: v, apps: g.apps, groups: newGroups}, nil
}

// RemoveGroup detaches the subtree at id, pruning any ancestor that becomes
// empty as a result (except the root itself, which is never removed).
func (g Group) RemoveGroup(id pathid.PathId, v Timestamp) (Group, error) {
	if id.Equal(g.id) {
		return NewEmpty(g.id, v), nil
	}
	if !g.id.Contains(id) {
		return Group{}, apierror.New(apierror.KindUnknownGroup, "path is not within this tree")
	}
	remaining := relativeSegments(g.id, id)
	next, _, err := g.removeRec(remaining, v)
	return next, err
}

func (g Group) removeRec(remaining []string, v Timestamp) (Group, bool, error) {
	seg := remaining[0]
	childID := g.id.Child(seg)
	key := childID.String()
	child, ok := g.groups[key]
	if !ok {
		return Group{}, false, apierror.New(apierror.KindUnknownGroup, "group not found")
	}

	if len(remaining) == 1 {
		newGroups := copyGroups(g.groups)
		delete(newGroups, key)
		updated := Group{id: g.id, version: v, apps: g.apps, groups: newGroups}
		return updated, len(updated.apps) == 0 && len(updated.groups) == 0, nil
	}

	newChild, childEmpty, err := child.removeRec(remaining[1:], v)
	if err != nil {
		return Group{}, false, err
	}
	newGroups := copyGroups(g.groups)
	if childEmpty {
		delete(newGroups, key)
	} else {
		newGroups[key] = newChild
	}
	updated := Group{id: g.id, version: v, apps: g.apps, groups: newGroups}
	return updated, len(updated.apps) == 0 && len(updated.groups) == 0, nil
}

// UpdateTransitiveApps maps fn over every app under id (inclusive),
// stamping v on the spine from the root to id.
func (g Group) UpdateTransitiveApps(id pathid.PathId, fn func(AppSpec) AppSpec, v Timestamp) (Group, error) {
	if id.Equal(g.id) {
		return g.mapApps(fn, v), nil
	}
	if !g.id.Contains(id) {
		return Group{}, apierror.New(apierror.KindUnknownGroup, "path is not within this tree")
	}
	remaining := relativeSegments(g.id, id)
	return g.updateRec(remaining, fn, v)
}

func (g Group) updateRec(remaining []string, fn func(AppSpec) AppSpec, v Timestamp) (Group, error) {
	seg := remaining[0]
	childID := g.id.Child(seg)
	key := childID.String()
	child, ok := g.groups[key]
	if !ok {
		return Group{}, apierror.New(apierror.KindUnknownGroup, "group not found")
	}

	var newChild Group
	var err error
	if len(remaining) == 1 {
		newChild = child.mapApps(fn, v)
	} else {
		newChild, err = child.updateRec(remaining[1:], fn, v)
		if err != nil {
			return Group{}, err
		}
	}
	newGroups := copyGroups(g.groups)
	newGroups[key] = newChild
	return Group{id: g.id, version: v, apps: g.apps, groups: newGroups}, nil
}

// mapApps applies fn to every app transitively under g, returning a new
// tree with v stamped at every level touched.
func (g Group) mapApps(fn func(AppSpec) AppSpec, v Timestamp) Group {
	newApps := make(map[string]AppSpec, len(g.apps))
	for k, a := range g.apps {
		newApps[k] = fn(a)
	}
	newGroups := make(map[string]Group, len(g.groups))
	for k, sub := range g.groups {
		newGroups[k] = sub.mapApps(fn, v)
	}
	return Group{id: g.id, version: v, apps: newApps, groups: newGroups}
}

// Validate walks the tree checking the invariants from §3: every key
// matches its value's Id, every child's parent is its holder's Id, and apps
// and groups are disjoint across the whole transitive tree.
func (g Group) Validate() error {
	seen := map[string]bool{}
	return g.validate(seen)
}

func (g Group) validate(seen map[string]bool) error {
	for key, a := range g.apps {
		if a.Id.String() != key {
			return apierror.New(apierror.KindInvalidHierarchy, "app key does not match its id")
		}
		if !a.Id.IsChildOf(g.id) {
			return apierror.New(apierror.KindInvalidHierarchy, "app is not a child of its holding group")
		}
		if seen[key] {
			return apierror.New(apierror.KindConflictingPath, "path is used more than once: "+key)
		}
		seen[key] = true
	}
	for key, sub := range g.groups {
		if sub.id.String() != key {
			return apierror.New(apierror.KindInvalidHierarchy, "group key does not match its id")
		}
		if !sub.id.IsChildOf(g.id) {
			return apierror.New(apierror.KindInvalidHierarchy, "group is not a child of its holding group")
		}
		if seen[key] {
			return apierror.New(apierror.KindConflictingPath, "path is used more than once: "+key)
		}
		seen[key] = true
		if err := sub.validate(seen); err != nil {
			return err
		}
	}
	return nil
}

// groupDTO is the wire form of Group used by MarshalJSON/UnmarshalJSON,
// since Group's fields are private to keep the tree's invariants under the
// package's own control.
type groupDTO struct {
	Id           pathid.PathId      `json:"id"`
	Version      Timestamp          `json:"version"`
	Apps         map[string]AppSpec `json:"apps"`
	Groups       map[string]groupDTO `json:"groups"`
	Dependencies []pathid.PathId    `json:"dependencies,omitempty"`
}

func (g Group) toDTO() groupDTO {
	groups := make(map[string]groupDTO, len(g.groups))
	for k, sub := range g.groups {
		groups[k] = sub.toDTO()
	}
	return groupDTO{Id: g.id, Version: g.version, Apps: copyApps(g.apps), Groups: groups, Dependencies: g.dependencies}
}

func (d groupDTO) toGroup() Group {
	groups := make(map[string]Group, len(d.Groups))
	for k, sub := range d.Groups {
		groups[k] = sub.toGroup()
	}
	apps := d.Apps
	if apps == nil {
		apps = map[string]AppSpec{}
	}
	return Group{id: d.Id, version: d.Version, apps: apps, groups: groups, dependencies: d.Dependencies}
}

// MarshalJSON renders the full tree rooted at g.
func (g Group) MarshalJSON() ([]byte, error) {
	return json.Marshal(g.toDTO())
}

// UnmarshalJSON parses the form written by MarshalJSON.
func (g *Group) UnmarshalJSON(data []byte) error {
	var dto groupDTO
	if err := json.Unmarshal(data, &dto); err != nil {
		return err
	}
	*g = dto.toGroup()
	return nil
}
