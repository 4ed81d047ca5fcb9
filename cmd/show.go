package cmd

import (
	"fmt"
	"os"

	"github.com/andresmejia3/facegroup/internal/cluster"
	"github.com/andresmejia3/facegroup/internal/utils"
	"github.com/spf13/cobra"
)

var (
	showFormat string
	showOutput string
)

var showCmd = &cobra.Command{
	Use:   "show [run-id]",
	Short: "Print the people found by a saved run (default: the latest)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if !validFormat(showFormat) {
			return fmt.Errorf("unknown output format %q", showFormat)
		}

		db, err := openDB(ctx)
		if err != nil {
			utils.ShowError("Database unavailable", err, nil)
			return err
		}
		var id string
		if len(args) == 1 {
			id = args[0]
		}
		if id, err = resolveRun(ctx, db, id); err != nil {
			utils.ShowError("No run to show", err, nil)
			return err
		}
		run, p, err := db.LoadRun(ctx, id)
		if err != nil {
			utils.ShowError("Failed to load run", err, nil)
			return err
		}

		fmt.Fprintf(os.Stderr, "📼 Run %s: %s (threshold %.2f, %s match, %d images, %d failed)\n",
			run.ID, run.InputPath, run.Threshold, run.Policy, run.Images, run.Failed)
		if err := writeSummary(cmd.OutOrStdout(), cluster.Summarize(p), showFormat); err != nil {
			return err
		}
		if showOutput != "" {
			return writeLabels(ctx, p, showOutput)
		}
		return nil
	},
}

func init() {
	showCmd.Flags().StringVarP(&showFormat, "format", "f", "table", "Summary format: table, json or yaml")
	showCmd.Flags().StringVarP(&showOutput, "output", "o", "", "Write labeled copies of the run's images into this folder")
	rootCmd.AddCommand(showCmd)
}
