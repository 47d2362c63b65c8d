package pathid_test

import (
	"testing"

	"github.com/cazacugmihai/fleetctl/pkg/pathid"
	"github.com/stretchr/testify/assert"
)

func TestNewAndString(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"root", "/", "/"},
		{"absolute", "/a/b", "/a/b"},
		{"relative", "a/b", "a/b"},
		{"trailing slash", "/a/b/", "/a/b"},
		{"double slash", "/a//b", "/a/b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, pathid.New(tt.raw).String())
		})
	}
}

func TestParentOfRootIsRoot(t *testing.T) {
	assert.True(t, pathid.Root.Parent().IsRoot())
}

func TestParent(t *testing.T) {
	p := pathid.New("/a/b/c")
	assert.Equal(t, "/a/b", p.Parent().String())
}

func TestCanonicalPath(t *testing.T) {
	base := pathid.New("/a")
	assert.Equal(t, "/a/b", pathid.Relative("b").CanonicalPath(base).String())
	assert.Equal(t, "/z", pathid.Absolute("z").CanonicalPath(base).String())
}

func TestContains(t *testing.T) {
	assert.True(t, pathid.New("/a").Contains(pathid.New("/a/b")))
	assert.True(t, pathid.New("/a").Contains(pathid.New("/a")))
	assert.False(t, pathid.New("/a/b").Contains(pathid.New("/a")))
	assert.False(t, pathid.New("/a").Contains(pathid.New("/ab")))
}

func TestIsChildOf(t *testing.T) {
	assert.True(t, pathid.New("/a/b").IsChildOf(pathid.New("/a")))
	assert.False(t, pathid.New("/a/b/c").IsChildOf(pathid.New("/a")))
}

func TestLess(t *testing.T) {
	assert.True(t, pathid.New("/a").Less(pathid.New("/b")))
	assert.False(t, pathid.New("/b").Less(pathid.New("/a")))
}
