// Package main is the entry point for the printwatch agent.
package main

import (
	"os"

	"github.com/kioskctl/printwatch/cmd/printwatch/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
