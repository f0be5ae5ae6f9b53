// Package main provides the entry point for the clinical interview grading
// HTTP API server.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "graderd",
	Short: "Clinical interview grading service",
	Long:  "graderd grades recorded clinical-interview transcripts against structured evaluation rubrics, producing per-item pass/fail evidence and per-phase timing.",
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
