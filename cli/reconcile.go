package cli

import (
	"fmt"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Embed and index every catalog product once",
	Long: `Walk the catalog, embed products that have no cached embedding, and
upsert every product with an image into the vector index. Per-product
failures are counted and do not stop the run.`,
	Args: cobra.NoArgs,
	RunE: runReconcile,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)
}

func runReconcile(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	var bar *progressbar.ProgressBar
	progress := func(done, total int) {
		if bar == nil {
			bar = progressbar.NewOptions(total,
				progressbar.OptionSetWriter(out),
				progressbar.OptionEnableColorCodes(true),
				progressbar.OptionSetWidth(40),
				progressbar.OptionShowCount(),
				progressbar.OptionSetDescription("[cyan]Reconciling[reset]"),
				progressbar.OptionSetTheme(progressbar.Theme{
					Saucer:        "[green]=[reset]",
					SaucerHead:    "[green]>[reset]",
					SaucerPadding: " ",
					BarStart:      "[",
					BarEnd:        "]",
				}),
				progressbar.OptionOnCompletion(func() {
					fmt.Fprintln(out)
				}),
			)
		}
		bar.Set(done)
	}

	sum, err := a.reconcile.Run(cmd.Context(), progress)
	if err != nil {
		return fmt.Errorf("reconcile failed: %w", err)
	}

	fmt.Fprintf(out, "\nReconcile complete:\n")
	fmt.Fprintf(out, "  Processed: %d\n", sum.Processed)
	fmt.Fprintf(out, "  Skipped:   %d (no image)\n", sum.Skipped)
	fmt.Fprintf(out, "  Errors:    %d\n", sum.Errors)
	fmt.Fprintf(out, "  Duration:  %dms\n", sum.DurationMs)
	return nil
}
