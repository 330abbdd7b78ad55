// Package main is the entry point for the tidum admin CLI.
package main

import (
	"os"

	"github.com/runger/tidum/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
