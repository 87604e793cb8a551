// Package main is the entry point for the vsdl application.
package main

import (
	"os"

	"github.com/jmylchreest/vsdl/cmd/vsdl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
