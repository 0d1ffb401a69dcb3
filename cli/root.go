// Package cli wires the visearch commands: the HTTP service, one-shot
// reconcile runs and vector index maintenance.
package cli

import (
	"fmt"
	"os"

	"github.com/hubenschmidt/go-visearch/config"
	"github.com/hubenschmidt/go-visearch/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	cfgFile string
	cfg     *config.Config
	logger  *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "visearch",
	Short: "Visual similarity search over a product catalog",
	Long: `visearch serves search-by-image over a product catalog. Product images
are embedded into vectors, stored in a vector index, and matched against an
uploaded query image. When the index or embedder is unavailable, search
degrades to a random sample of the catalog.

Example usage:
  visearch serve                  # Start the HTTP API
  visearch reconcile              # Embed and index every product once
  visearch index schema           # Create the index schema
  visearch config init            # Write the default config file`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg.ApplyEnv()
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}

		logger, err = logging.New(cfg.Logging)
		if err != nil {
			return fmt.Errorf("failed to init logging: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			logger.Sync()
		}
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "visearch.yaml", "config file; missing means defaults")
}
