// Command taskrails runs the local control plane that connects coding agents
// to the desktop task board.
package main

import (
	"fmt"
	"os"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "taskrails: %v\n", err)
		os.Exit(1)
	}
}
