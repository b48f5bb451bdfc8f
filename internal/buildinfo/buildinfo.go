// Package buildinfo identifies the running tooledca binary: its release,
// the commit it came from, and how long the gateway has been up. The
// /v1/version endpoint and the outbound User-Agent both read from here.
package buildinfo

import (
	"fmt"
	"runtime"
	"time"
)

// Release identity, overridden by release builds through the linker:
//
//	-X github.com/ianisms/ha.ollama.conv.tools/internal/buildinfo.Version=v0.3.0
var (
	Version   = "dev"
	GitCommit = "unknown"
	GitBranch = "unknown"
	BuildTime = "unknown"
)

// startTime is fixed at package init and anchors Uptime.
var startTime = time.Now()

// Info is the payload of /v1/version and of `tooledca version -o json`.
func Info() map[string]string {
	return map[string]string{
		"version":    Version,
		"git_commit": GitCommit,
		"git_branch": GitBranch,
		"build_time": BuildTime,
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"uptime":     Uptime().String(),
	}
}

// StartTime reports when the gateway started.
func StartTime() time.Time { return startTime }

// Uptime is whole seconds since StartTime.
func Uptime() time.Duration {
	return time.Since(startTime).Truncate(time.Second)
}

// String is the first line printed by `tooledca version`.
func String() string {
	return fmt.Sprintf("tooledca %s (%s@%s) built %s", Version, GitCommit, GitBranch, BuildTime)
}

// UserAgent identifies the gateway to Ollama, Home Assistant and the
// web tools.
func UserAgent() string {
	return fmt.Sprintf("tooledca/%s (%s; %s)", Version, runtime.GOOS, runtime.GOARCH)
}
