// Package version holds build-time version information.
// These values are set via -ldflags at build time.
package version

var (
	// GitRelease is the release tag (e.g., v0.3.1).
	GitRelease = "dev"

	// GitCommit is the commit hash the binary was built from.
	GitCommit = "unknown"

	// BuildTime is the UTC build timestamp.
	BuildTime = "unknown"
)
