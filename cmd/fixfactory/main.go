package main

import (
	"fmt"
	"os"

	"github.com/lucasnoah/fixfactory/internal/cli"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	cli.SetVersion(Version)
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fixfactory: %v\n", err)
		os.Exit(1)
	}
}
