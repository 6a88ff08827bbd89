package version

import (
	"fmt"
	"runtime"
)

// Semantic version of the analyzer.
const (
	Major = 1
	Minor = 3
	Patch = 0
)

// Set at build time via -ldflags.
var (
	GitCommit = ""
	BuildDate = ""
)

// Version returns the semantic version string.
func Version() string {
	return fmt.Sprintf("%d.%d.%d", Major, Minor, Patch)
}

// Full returns the version with build metadata when available.
func Full() string {
	out := fmt.Sprintf("walletpulse v%s (go: %s, platform: %s/%s)",
		Version(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
	if GitCommit != "" && len(GitCommit) >= 7 {
		out += fmt.Sprintf(" commit %s", GitCommit[:7])
	}
	if BuildDate != "" {
		out += fmt.Sprintf(" built %s", BuildDate)
	}
	return out
}
