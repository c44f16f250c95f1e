// Package version provides the mask-enroller version strings.
package version

import "strings"

// buildVersion can be set at link time:
//
//	go build -ldflags "-X github.com/buildkite/mask-enroller/version.buildVersion=abc"
var (
	baseVersion  = "0.3.0"
	buildVersion string
)

func Version() string {
	return strings.TrimSpace(baseVersion)
}

func BuildVersion() string {
	if buildVersion == "" {
		return "x"
	}
	return buildVersion
}

// FullVersion is Version and BuildVersion joined, e.g. 0.3.0.x.
func FullVersion() string {
	return Version() + "." + BuildVersion()
}
