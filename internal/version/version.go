// Package version holds build information for the drti tool.
package version

import "github.com/fatih/color"

// These variables can be overridden at build time via -ldflags.
var (
	// Version is the semantic version of the CLI.
	Version = "0.3.0-dev"

	// SupportVersion is the version of the embedded support fragment the
	// engine was built against. Kept in sync by support.Version tests.
	SupportVersion = 3

	// GitCommit is an optional git commit hash.
	GitCommit = ""

	// BuildDate is an optional build date in ISO-8601.
	BuildDate = ""
)

var (
	majorColor = color.New(color.FgYellow, color.Bold)
	restColor  = color.New(color.FgGreen)
)

// Pretty renders Version with colour when the terminal supports it.
func Pretty() string {
	v := Version
	for i := 0; i < len(v); i++ {
		if v[i] == '.' {
			return majorColor.Sprint(v[:i]) + restColor.Sprint(v[i:])
		}
	}
	return majorColor.Sprint(v)
}
