// Package main is the entry point for the calendar-api service and CLI.
package main

import (
	"fmt"
	"os"
	_ "time/tzdata"

	"github.com/Xavierhuang/linkedinAutomationTool-sub002/internal/cli"
)

// Version information (set at build time)
var version = "dev"

func main() {
	if err := cli.Execute(version); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
