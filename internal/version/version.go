// Package version reports the build identity of the capa binary.
package version

import (
	"fmt"
	"runtime/debug"
)

// Set at build time with -ldflags "-X github.com/example/capa/internal/version.Version=...".
var (
	Version = "dev"
	Commit  = ""
)

// String returns "capa <version> (<commit>)". Without an ldflags commit the
// VCS revision stamped by the Go toolchain is used, if any.
func String() string {
	commit := Commit
	if commit == "" {
		commit = vcsRevision()
	}
	if commit == "" {
		return "capa " + Version
	}
	if len(commit) > 7 {
		commit = commit[:7]
	}
	return fmt.Sprintf("capa %s (%s)", Version, commit)
}

func vcsRevision() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" {
			return s.Value
		}
	}
	return ""
}
