// Package cli implements the reverie command line interface.
package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/reverie-ai/reverie/internal/config"
	"github.com/reverie-ai/reverie/internal/storage/sqlite"
)

// RootCmd is the root of the command tree. Subcommands register themselves
// in their init functions.
var RootCmd = &cobra.Command{
	Use:   "reverie",
	Short: "Adaptive memory lifecycle engine for conversational agents",
	Long: "Reverie manages the lifecycle of an agent's memories: decay, merging,\n" +
		"conflict resolution, short-term to long-term consolidation, and\n" +
		"procedural skill tracking.",
}

// Execute runs the root command.
func Execute() error {
	return RootCmd.Execute()
}

// openStore opens the configured SQLite store, creating the data directory
// if needed.
func openStore(cfg *config.Config) (*sqlite.Store, error) {
	if err := os.MkdirAll(cfg.Storage.DataPath, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return sqlite.New(filepath.Join(cfg.Storage.DataPath, "reverie.db"))
}

// exitErr prints a command failure and exits non-zero.
func exitErr(op string, err error) {
	fmt.Fprintf(os.Stderr, "reverie: %s: %v\n", op, err)
	os.Exit(1)
}
