package config

import "fmt"

// ModuleName of this service.
const ModuleName = "github/tokenvest/go-gateway"

// Build arguments, set via ldflags at build time.
var (
	Commit    = "unknown"
	BuildDate = "unknown"
)

// GetFormattedBuildArgs returns the build metadata as a single line, used
// for the CLI version template.
func GetFormattedBuildArgs() string {
	return fmt.Sprintf("%s @ %s (%s)", ModuleName, Commit, BuildDate)
}
