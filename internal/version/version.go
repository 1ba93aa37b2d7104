package version

import "fmt"

var (
	// Version is the current application version
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// String is the one-line form written to HISTORY rows and -version output.
func String() string {
	return fmt.Sprintf("uvbin %s (%s, built %s)", Version, GitSHA, BuildTime)
}
