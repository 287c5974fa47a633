package versions

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

// setBuildValues overrides the ldflags variables and returns a restore func.
// Tests using it mutate package state and must not run in parallel.
func setBuildValues(version, commit, buildDate string) func() {
	prevVersion, prevCommit, prevBuildDate := Version, Commit, BuildDate
	Version, Commit, BuildDate = version, commit, buildDate
	return func() {
		Version, Commit, BuildDate = prevVersion, prevCommit, prevBuildDate
	}
}

func TestGetVersionInfo(t *testing.T) {
	info := GetVersionInfo()

	assert.NotEmpty(t, info.Version)
	assert.Equal(t, runtime.Version(), info.GoVersion)
	assert.Contains(t, info.Platform, runtime.GOOS)
	assert.Contains(t, info.Platform, runtime.GOARCH)
}

func TestGetVersionInfoRelease(t *testing.T) {
	restore := setBuildValues("1.2.3", "abcdef1234567890", "2025-03-01T10:00:00Z")
	defer restore()

	info := GetVersionInfo()
	assert.Equal(t, "1.2.3", info.Version)
	assert.Equal(t, "abcdef1234567890", info.Commit)
	assert.Equal(t, "2025-03-01 10:00:00 UTC", info.BuildDate)
}

func TestGetVersionInfoDevUsesCommit(t *testing.T) {
	restore := setBuildValues("dev", "abcdef1234567890", unknownStr)
	defer restore()

	info := GetVersionInfo()
	assert.Equal(t, "build-abcdef12", info.Version)
}
