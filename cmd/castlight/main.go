// castlight syncs a sharded Farcaster-style replication feed into SQLite
// and serves semantic, keyword, and hybrid search over the result.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"castlight/internal/config"
	"castlight/internal/embedding"
	"castlight/internal/logging"
	"castlight/internal/store"
)

var (
	// Global flags
	configPath string
	dbPath     string
	verbose    bool

	// Loaded in PersistentPreRunE, shared by all commands.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "castlight",
	Short: "castlight - shard sync and retrieval for Farcaster data",
	Long: `castlight ingests a sharded replication feed into a local SQLite
database and answers semantic, keyword, and hybrid queries over the
synced casts and profiles.

Sync is idempotent and resumable: messages commit in batches and each
shard's cursor advances only after its batch is durable, so an
interrupted run picks up where it left off without duplicating rows.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if dbPath != "" {
			cfg.DatabasePath = dbPath
		}
		if verbose {
			cfg.Logging.Level = "debug"
		}
		return logging.Initialize(cfg.Logging)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "castlight.yaml", "config file path")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "database path (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(threadCmd)
	rootCmd.AddCommand(backfillCmd)
}

func openStore() (*store.Store, error) {
	return store.Open(cfg.DatabasePath)
}

func newEmbedder() (embedding.Engine, error) {
	return embedding.NewEngine(embedding.Config{
		Provider:       cfg.Embedding.Provider,
		OllamaEndpoint: cfg.Embedding.OllamaEndpoint,
		OllamaModel:    cfg.Embedding.OllamaModel,
		GenAIAPIKey:    cfg.Embedding.GenAIAPIKey,
		GenAIModel:     cfg.Embedding.GenAIModel,
	})
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
