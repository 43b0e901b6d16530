// Package main is the portprobe command.
package main

import (
	"github.com/anstrom/portprobe/cmd/cli"
)

// Build information, set via -ldflags.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func main() {
	cli.SetVersion(version, commit, buildTime)
	cli.Execute()
}
