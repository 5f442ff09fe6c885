// Package main provides the gizmo CLI.
package main

import (
	"github.com/dotcommander/gizmo/internal/cmd"
	"github.com/dotcommander/gizmo/internal/config"
)

// Build vars.
var (
	//nolint: gochecknoglobals
	Version = ""
	//nolint: gochecknoglobals
	CommitSHA = ""
)

func main() {
	cfg, cfgErr := config.Ensure()
	cmd.Execute(cmd.BuildInfo{Version: Version, CommitSHA: CommitSHA}, cfg, cfgErr)
}
