// Package version holds build identification, stamped via -ldflags at
// release build time and served at /api/version.
package version

var (
	// Version is the tagfind release version.
	Version = "dev"
	// GitSHA is the git commit the binary was built from.
	GitSHA = "unknown"
	// BuildTime is the build timestamp.
	BuildTime = "unknown"
)
