package version

import (
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveCommit(t *testing.T) {
	stamped := func() (*debug.BuildInfo, bool) {
		return &debug.BuildInfo{Settings: []debug.BuildSetting{
			{Key: "vcs", Value: "git"},
			{Key: "vcs.revision", Value: "0123456789abcdef"},
		}}, true
	}
	unstamped := func() (*debug.BuildInfo, bool) { return &debug.BuildInfo{}, true }
	missing := func() (*debug.BuildInfo, bool) { return nil, false }

	tests := []struct {
		name     string
		override string
		read     func() (*debug.BuildInfo, bool)
		want     string
	}{
		{"override wins", "fedcba9876543210", stamped, "fedcba98"},
		{"short override kept", "abc", stamped, "abc"},
		{"vcs revision", "", stamped, "01234567"},
		{"no revision", "", unstamped, "dev"},
		{"no build info", "", missing, "dev"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, resolveCommit(tt.override, tt.read))
		})
	}
}

func TestCurrent(t *testing.T) {
	info := Current()
	assert.Equal(t, AppName, info.App)
	assert.Equal(t, GitCommit, info.Commit)
	assert.NotEmpty(t, info.GoVersion)
	assert.Contains(t, info.Platform, "/")
	assert.Equal(t, AppName+"/"+GitCommit, Full())
}
