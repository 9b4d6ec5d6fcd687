// Package main provides the entry point for the ragsearch CLI.
package main

import (
	"os"

	"github.com/openecm/ragsearch/cmd/ragsearch/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
