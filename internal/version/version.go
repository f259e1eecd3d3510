// Package version carries the build identity of the nucleus binary.
// Dev builds report the defaults below; release builds overwrite them
// through -ldflags "-X nucleus/internal/version.Version=...".
package version

import (
	"strings"

	"github.com/fatih/color"
)

var (
	// Version is the semantic version the CLI reports. It stays free
	// of escape codes so --version and JSON output remain clean.
	Version = "0.1.0-dev"

	// GitCommit, GitMessage and BuildDate are optional build stamps.
	GitCommit  = ""
	GitMessage = ""
	BuildDate  = ""
)

var componentColors = [3]*color.Color{
	color.New(color.FgYellow, color.Bold),
	color.New(color.FgGreen, color.Bold),
	color.New(color.FgBlue, color.Bold),
}

// Colorize tints the major.minor.patch components of v for terminal
// output. Pre-release suffixes stay plain, and anything that is not
// three dotted parts passes through untouched, so ldflags overrides
// never break rendering.
func Colorize(v string) string {
	base, suffix, _ := strings.Cut(v, "-")
	parts := strings.Split(base, ".")
	if len(parts) != 3 {
		return v
	}
	for i, p := range parts {
		parts[i] = componentColors[i].Sprint(p)
	}
	out := strings.Join(parts, ".")
	if suffix != "" {
		out += "-" + suffix
	}
	return out
}
