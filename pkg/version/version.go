package version

import "fmt"

// Injected at build time via -ldflags "-X frameworks/purser-recharge/pkg/version.Version=...".
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// ServiceName identifies this binary in logs, metrics and health output.
const ServiceName = "purser-recharge"

// Info is the version payload exposed by the CLI and the health endpoint.
type Info struct {
	Service   string `json:"service"`
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
}

func GetInfo() Info {
	return Info{
		Service:   ServiceName,
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
	}
}

// GetShortCommit returns the first 7 characters of the commit hash.
func GetShortCommit() string {
	if len(GitCommit) >= 7 {
		return GitCommit[:7]
	}
	return GitCommit
}

// String renders a one-line banner, e.g. "purser-recharge dev (abcdef1, built unknown)".
func String() string {
	return fmt.Sprintf("%s %s (%s, built %s)", ServiceName, Version, GetShortCommit(), BuildDate)
}
