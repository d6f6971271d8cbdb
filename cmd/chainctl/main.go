// Package main is the entry point for the chainctl CLI tool.
package main

import (
	"os"

	"github.com/good-yellow-bee/incidentchain/cmd/chainctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
