// Package pathid implements the canonical hierarchical identifier used to
// address groups and apps in the group tree.
package pathid

import (
	"encoding/json"
	"strings"
)

// PathId is an ordered sequence of non-empty path segments plus an
// absolute/relative flag. The absolute path with no segments is the root.
type PathId struct {
	segments []string
	absolute bool
}

// Root is the distinguished absolute empty path.
var Root = PathId{absolute: true}

// New parses a "/"-joined path. A leading "/" marks it absolute. Empty
// segments produced by repeated or trailing slashes are dropped.
func New(raw string) PathId {
	absolute := strings.HasPrefix(raw, "/")
	parts := strings.Split(raw, "/")
	segments := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			segments = append(segments, p)
		}
	}
	return PathId{segments: segments, absolute: absolute}
}

// Absolute builds an absolute PathId from segments.
func Absolute(segments ...string) PathId {
	return PathId{segments: append([]string{}, segments...), absolute: true}
}

// Relative builds a relative PathId from segments.
func Relative(segments ...string) PathId {
	return PathId{segments: append([]string{}, segments...), absolute: false}
}

// IsAbsolute reports whether the id carries the absolute flag.
func (p PathId) IsAbsolute() bool { return p.absolute }

// IsRoot reports whether p is the absolute empty path.
func (p PathId) IsRoot() bool { return p.absolute && len(p.segments) == 0 }

// Segments returns the path's segments. The returned slice must not be
// mutated by the caller.
func (p PathId) Segments() []string { return p.segments }

// Parent returns the id's parent. The parent of the root is the root.
func (p PathId) Parent() PathId {
	if len(p.segments) == 0 {
		return p
	}
	return PathId{segments: p.segments[:len(p.segments)-1], absolute: p.absolute}
}

// Child returns the child id formed by appending name; it is absolute
// exactly when p is.
func (p PathId) Child(name string) PathId {
	segs := make([]string, len(p.segments)+1)
	copy(segs, p.segments)
	segs[len(p.segments)] = name
	return PathId{segments: segs, absolute: p.absolute}
}

// CanonicalPath resolves p against base: if p is already absolute it is
// returned unchanged, otherwise base's segments are prepended.
func (p PathId) CanonicalPath(base PathId) PathId {
	if p.absolute {
		return p
	}
	segs := make([]string, 0, len(base.segments)+len(p.segments))
	segs = append(segs, base.segments...)
	segs = append(segs, p.segments...)
	return PathId{segments: segs, absolute: true}
}

// Contains reports whether other names a node at or below p in the tree.
func (p PathId) Contains(other PathId) bool {
	if len(other.segments) < len(p.segments) {
		return false
	}
	for i, seg := range p.segments {
		if other.segments[i] != seg {
			return false
		}
	}
	return true
}

// IsChildOf reports whether p's parent is exactly parent.
func (p PathId) IsChildOf(parent PathId) bool {
	if len(p.segments) != len(parent.segments)+1 {
		return false
	}
	return p.Parent().Equal(parent)
}

// Equal reports structural equality, ignoring the absolute flag's
// significance once both ids have been canonicalized by the caller.
func (p PathId) Equal(other PathId) bool {
	if p.absolute != other.absolute || len(p.segments) != len(other.segments) {
		return false
	}
	for i, seg := range p.segments {
		if other.segments[i] != seg {
			return false
		}
	}
	return true
}

// String renders the "/"-joined form; the empty root renders as "/".
func (p PathId) String() string {
	joined := strings.Join(p.segments, "/")
	if p.absolute {
		return "/" + joined
	}
	return joined
}

// Less provides a total, deterministic lexical ordering used by the
// planner's tie-break rule.
func (p PathId) Less(other PathId) bool {
	return p.String() < other.String()
}

// MarshalJSON renders p as its String() form, prefixed so a relative path
// round-trips distinctly from an absolute one with the same segments.
func (p PathId) MarshalJSON() ([]byte, error) {
	if p.absolute {
		return json.Marshal(p.String())
	}
	return json.Marshal("rel:" + p.String())
}

// UnmarshalJSON parses the form written by MarshalJSON.
func (p *PathId) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if strings.HasPrefix(s, "rel:") {
		*p = New(s[len("rel:"):])
		p.absolute = false
		return nil
	}
	*p = New(s)
	return nil
}
