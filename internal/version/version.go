// Package version carries build identification, reported by the health
// endpoint and startup log. The variables are overridden at build time via
// -ldflags "-X ...".
package version

var (
	// Version is the current application version
	Version = "1.0.0"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)
