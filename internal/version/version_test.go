package version

import (
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"
)

func buildInfo(mainVersion string, settings ...debug.BuildSetting) func() (*debug.BuildInfo, bool) {
	return func() (*debug.BuildInfo, bool) {
		return &debug.BuildInfo{Main: debug.Module{Version: mainVersion}, Settings: settings}, true
	}
}

func TestResolve_LdflagsWin(t *testing.T) {
	b := resolve("v1.4.0", "abc123", "2026-10-01", buildInfo("v0.0.1",
		debug.BuildSetting{Key: "vcs.revision", Value: "fff"},
		debug.BuildSetting{Key: "vcs.time", Value: "2020-01-01T00:00:00Z"},
	))

	assert.Equal(t, Build{Version: "v1.4.0", Commit: "abc123", Date: "2026-10-01"}, b)
}

func TestResolve_FallsBackToVCS(t *testing.T) {
	b := resolve("dev", "unknown", "unknown", buildInfo("(devel)",
		debug.BuildSetting{Key: "vcs.revision", Value: "0c1d2e"},
		debug.BuildSetting{Key: "vcs.time", Value: "2026-10-02T08:00:00Z"},
		debug.BuildSetting{Key: "vcs.modified", Value: "true"},
	))

	assert.Equal(t, "dev", b.Version)
	assert.Equal(t, "0c1d2e", b.Commit)
	assert.Equal(t, "2026-10-02T08:00:00Z", b.Date)
	assert.True(t, b.Modified)
	assert.Equal(t, "version=dev commit=0c1d2e-dirty date=2026-10-02T08:00:00Z", b.String())
}

func TestResolve_ModuleVersion(t *testing.T) {
	b := resolve("dev", "unknown", "unknown", buildInfo("v0.3.1"))
	assert.Equal(t, "v0.3.1", b.Version)
}

func TestResolve_NoBuildInfo(t *testing.T) {
	b := resolve("dev", "unknown", "unknown", func() (*debug.BuildInfo, bool) { return nil, false })
	assert.Equal(t, Build{Version: "dev", Commit: "unknown", Date: "unknown"}, b)
}

func TestCurrent_Accessors(t *testing.T) {
	b := Current()

	assert.NotEmpty(t, GetVersion())
	assert.Equal(t, b.Version, GetVersion())
	assert.Equal(t, b.Commit, GetCommit())
	assert.Equal(t, b.Date, GetDate())
	assert.Equal(t, b.String(), String())
	assert.Contains(t, String(), "version=")
}
