// Memoryd is a scoped, durable memory store for AI assistants: agents
// persist free-text memories and retrieve them later by hybrid keyword
// and semantic search, scoped to a person, team, application, or everyone.
//
// Usage:
//
//	# Start the daemon with defaults (embedded chromem store)
//	memoryd serve
//
//	# Embed historical memories that never received a vector
//	memoryd backfill
//
// Configuration is loaded from a YAML file and MEMORYD_* environment
// variables. See internal/config for the full schema.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "memoryd",
	Short: "Scoped durable memory store with hybrid retrieval",
	Long: `memoryd stores free-text memories for AI assistants and retrieves them
by blended keyword and vector-similarity ranking, scoped to a person, a
team, an application, or everyone.`,
	Version: fmt.Sprintf("%s (commit %s, built %s)", version, gitCommit, buildDate),
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (YAML)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(backfillCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
