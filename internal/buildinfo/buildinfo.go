// Package buildinfo reports which scholar binary is running.
//
// Release builds stamp Version, GitCommit and BuildTime with -ldflags.
// Plain `go build` and `go install` binaries fall back to the VCS
// settings the Go toolchain embeds.
package buildinfo

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"time"
)

const unknown = "unknown"

// Set with -ldflags "-X github.com/nugget/scholar/internal/buildinfo.Version=...".
var (
	Version   = "dev"
	GitCommit = unknown
	BuildTime = unknown
)

var (
	startTime = time.Now()

	embedOnce sync.Once
	embedded  vcs
)

// vcs is the subset of embedded build settings scholar reports.
type vcs struct {
	revision string
	time     string
	modified bool
}

func readVCS() vcs {
	embedOnce.Do(func() {
		bi, ok := debug.ReadBuildInfo()
		if !ok {
			return
		}
		embedded = vcsFrom(bi.Settings)
	})
	return embedded
}

func vcsFrom(settings []debug.BuildSetting) vcs {
	var v vcs
	for _, s := range settings {
		switch s.Key {
		case "vcs.revision":
			v.revision = s.Value
		case "vcs.time":
			v.time = s.Value
		case "vcs.modified":
			v.modified = s.Value == "true"
		}
	}
	return v
}

// Commit returns the stamped commit, or the embedded VCS revision
// shortened to 12 characters. A "-dirty" suffix marks a build from a
// modified tree.
func Commit() string {
	if GitCommit != unknown {
		return GitCommit
	}
	return commitFrom(readVCS())
}

func commitFrom(v vcs) string {
	if v.revision == "" {
		return unknown
	}
	rev := v.revision
	if len(rev) > 12 {
		rev = rev[:12]
	}
	if v.modified {
		rev += "-dirty"
	}
	return rev
}

// Built returns the stamped build time, or the embedded commit time.
func Built() string {
	if BuildTime != unknown {
		return BuildTime
	}
	if t := readVCS().time; t != "" {
		return t
	}
	return unknown
}

// Info is the payload of the version endpoint and `scholar version -o json`.
func Info() map[string]string {
	return map[string]string{
		"version":    Version,
		"git_commit": Commit(),
		"build_time": Built(),
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"uptime":     Uptime().String(),
	}
}

// Uptime is the time since process start, to the second.
func Uptime() time.Duration {
	return time.Since(startTime).Truncate(time.Second)
}

// String returns a one-line summary for logs and `scholar version`.
func String() string {
	return fmt.Sprintf("scholar %s (%s) built %s, %s %s/%s",
		Version, Commit(), Built(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// UserAgent is sent on every outbound HTTP request. arXiv and Wikipedia
// both ask API clients to identify themselves.
func UserAgent() string {
	return fmt.Sprintf("scholar/%s (+https://github.com/nugget/scholar)", Version)
}
