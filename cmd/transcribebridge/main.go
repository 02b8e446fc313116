// Package main is the entry point for the transcribebridge application.
package main

import (
	"os"

	"github.com/transcribebridge/transcribebridge/cmd/transcribebridge/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
