// Package main is the entrypoint of the sparkled daemon: one binary
// that creates or joins a Sparkle overlay network.
package main

import "github.com/ShiRenzhi/sparkle/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
