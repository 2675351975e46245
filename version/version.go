package version

import (
	"runtime/debug"
)

const modulePath = "github.com/curtisnewbie/evbus"

var (
	Version = "v0.1.0"
)

func init() {
	if ver := ReadBuildVersion(); ver != "" {
		Version = ver
	}
}

// Read version of the evbus module from the build info of the running binary.
//
// Returns empty string when evbus is the main module or build info is unavailable.
func ReadBuildVersion() string {
	buildInfo, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, dep := range buildInfo.Deps {
		if dep.Path == modulePath {
			return dep.Version
		}
	}
	return ""
}
