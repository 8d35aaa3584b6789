// Package version reports the build commit of flowscope.
//
// The commit comes from -ldflags when set, then from the VCS stamp in
// debug.BuildInfo, and is "dev" otherwise.
package version

import (
	"runtime"
	"runtime/debug"
)

// AppName prefixes version strings and user agents.
const AppName = "flowscope"

// commitLength is how many hex digits of the revision are reported.
const commitLength = 8

// gitCommitOverride is set with -ldflags "-X ...version.gitCommitOverride=<sha>"
// for builds without a .git directory.
var gitCommitOverride string

// GitCommit is the short revision, or "dev" under go test and non-VCS builds.
var GitCommit = resolveCommit(gitCommitOverride, debug.ReadBuildInfo)

func resolveCommit(override string, read func() (*debug.BuildInfo, bool)) string {
	if override != "" {
		return short(override)
	}
	if info, ok := read(); ok {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" && s.Value != "" {
				return short(s.Value)
			}
		}
	}
	return "dev"
}

func short(rev string) string {
	if len(rev) > commitLength {
		return rev[:commitLength]
	}
	return rev
}

// Full returns "flowscope/<commit>", used as the gRPC user agent.
func Full() string {
	return AppName + "/" + GitCommit
}

// Info is the build description printed by the version command and
// reported by the health endpoint.
type Info struct {
	App       string `json:"app"`
	Commit    string `json:"commit"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// Current returns the Info of the running binary.
func Current() Info {
	return Info{
		App:       AppName,
		Commit:    GitCommit,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}
