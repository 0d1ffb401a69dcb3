package cli

import (
	"fmt"

	"github.com/hubenschmidt/go-visearch/vector"
	"github.com/spf13/cobra"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Vector index maintenance",
}

var indexSchemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Create the index schema if the backend needs one",
	Args:  cobra.NoArgs,
	RunE:  runIndexSchema,
}

var indexHealthCmd = &cobra.Command{
	Use:   "health",
	Short: "Probe the vector index",
	Args:  cobra.NoArgs,
	RunE:  runIndexHealth,
}

func init() {
	indexCmd.AddCommand(indexSchemaCmd, indexHealthCmd)
	rootCmd.AddCommand(indexCmd)
}

func runIndexSchema(cmd *cobra.Command, args []string) error {
	index, err := vector.NewIndex(cfg.VectorConfig())
	if err != nil {
		return err
	}
	defer index.Close()

	sm, ok := index.(vector.SchemaManager)
	if !ok {
		fmt.Fprintf(cmd.OutOrStdout(), "%s: no schema to manage\n", index.Name())
		return nil
	}
	if err := sm.EnsureSchema(cmd.Context()); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: schema ready\n", index.Name())
	return nil
}

func runIndexHealth(cmd *cobra.Command, args []string) error {
	index, err := vector.NewIndex(cfg.VectorConfig())
	if err != nil {
		return err
	}
	defer index.Close()

	if !index.HealthCheck(cmd.Context()) {
		return fmt.Errorf("%s: unhealthy", index.Name())
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: healthy\n", index.Name())
	return nil
}
