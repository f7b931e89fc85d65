package main

import (
	"context"
	"os"

	"github.com/hugo-lorenzo-mato/crashrelay/cmd/crashrelay/cmd"
)

// Stamped by the release build with -ldflags "-X main.version=...".
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cmd.SetVersion(version, commit, date)
	os.Exit(cmd.Execute(context.Background()))
}
