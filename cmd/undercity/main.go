// Package main provides the CLI entry point for the undercity application.
package main

import (
	"os"

	"github.com/undercity-dev/undercity/internal/cmd"
)

// Version is set at build time via -ldflags "-X main.Version=...".
var Version = "dev"

func main() {
	cmd.Version = Version
	os.Exit(cmd.Execute())
}
