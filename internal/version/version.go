// Package version holds build metadata stamped in with -ldflags.
package version

import "fmt"

var (
	// Version is the release of the nadc tool
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// String formats the build metadata for the version command.
func String() string {
	return fmt.Sprintf("nadc %s (%s, built %s)", Version, GitSHA, BuildTime)
}
