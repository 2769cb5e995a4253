package main

import (
	"os"

	"github.com/pzverkov/pqlink/cmd/pqlink/commands"
)

// Build-time variables (set via -ldflags)
var (
	version   = ""        // -X main.version=x.y.z
	buildTime = "unknown" // -X main.buildTime=...
	gitCommit = "unknown" // -X main.gitCommit=...
)

func main() {
	commands.SetBuildInfo(version, buildTime, gitCommit)
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
