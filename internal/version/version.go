package version

import "fmt"

// AppName is the binary name.
const AppName = "bosgateway"

var (
	// Version is the semantic version of the binary. Overridden at build time.
	Version = "dev"
	// Commit is the git commit hash. Overridden at build time.
	Commit = "unknown"
	// BuildDate is the build timestamp. Overridden at build time.
	BuildDate = "unknown"
)

// String renders the build metadata on one line.
func String() string {
	return fmt.Sprintf("%s %s (commit %s, built %s)", AppName, Version, Commit, BuildDate)
}
