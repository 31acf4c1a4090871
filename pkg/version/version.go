package version

import "fmt"

const versionDev = "dev"

var (
	// Build-time injected variables
	Version    = versionDev
	CommitHash string
	BuildTime  string
)

func GetVersion() string {
	if Version == versionDev || CommitHash == "" {
		return Version
	}
	if Version == CommitHash {
		return fmt.Sprintf("Commit %s", Version)
	}
	return fmt.Sprintf("%s (%s)", Version, CommitHash)
}
