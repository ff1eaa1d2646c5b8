// Package version holds build metadata injected with -ldflags -X.
package version

import "fmt"

var (
	// Version is the release version.
	Version = "v0.0.0-dev"
	// GitCommit is the source revision.
	GitCommit = "unknown"
	// BuildTime is the build timestamp.
	BuildTime = "unknown"
)

// String returns "hako <version> (<commit>, built <time>)".
func String() string {
	return fmt.Sprintf("hako %s (%s, built %s)", Version, GitCommit, BuildTime)
}
