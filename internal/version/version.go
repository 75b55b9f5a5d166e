package version

import "fmt"

// Name of the application.
const Name = "Warden"

var (
	// Version is the semantic version
	Version = "0.1.0"
	// BuildTime and GitCommit are set during build via ldflags
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// Full returns the version with build metadata when it was stamped in.
func Full() string {
	if BuildTime == "unknown" || GitCommit == "unknown" {
		return Version
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildTime)
}
