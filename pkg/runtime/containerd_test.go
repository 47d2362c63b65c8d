package runtime

import (
	"testing"
	"time"

	"github.com/cazacugmihai/fleetctl/pkg/pathid"
	"github.com/cazacugmihai/fleetctl/pkg/snapshot"
	"github.com/stretchr/testify/assert"
)

func TestContainerNameIsStableForSameInputs(t *testing.T) {
	appId := pathid.New("/prod/web")
	version := snapshot.Zero

	a := containerName(appId, version, 0)
	b := containerName(appId, version, 0)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, containerName(appId, version, 1))
}

func TestContainerNameDiffersAcrossVersions(t *testing.T) {
	appId := pathid.New("/prod/web")
	v1 := snapshot.At(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	v2 := snapshot.At(time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC))

	assert.NotEqual(t, containerName(appId, v1, 0), containerName(appId, v2, 0))
}
