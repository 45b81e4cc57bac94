// Package main is the entry point for the Intelify threat-intel pipeline.
package main

import (
	"os"

	"github.com/subrat243/Intelify/cmd"
)

func main() {
	if err := cmd.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
