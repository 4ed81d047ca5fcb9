package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/andresmejia3/facegroup/internal/store"
	"github.com/andresmejia3/facegroup/internal/utils"
	"github.com/spf13/cobra"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List the grouping runs saved in the database",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runList(cmd.Context())
	},
}

var runsDeleteCmd = &cobra.Command{
	Use:   "rm <run-id>",
	Short: "Delete a saved run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB(cmd.Context())
		if err != nil {
			utils.ShowError("Database unavailable", err, nil)
			return err
		}
		if err := db.DeleteRun(cmd.Context(), args[0]); err != nil {
			utils.ShowError("Failed to delete run", err, nil)
			return err
		}
		fmt.Printf("🗑️  Deleted run %s\n", args[0])
		return nil
	},
}

func init() {
	runsCmd.AddCommand(runsDeleteCmd)
	rootCmd.AddCommand(runsCmd)
}

func runList(ctx context.Context) error {
	db, err := openDB(ctx)
	if err != nil {
		utils.ShowError("Database unavailable", err, nil)
		return err
	}
	runs, err := db.ListRuns(ctx)
	if err != nil {
		utils.ShowError("Failed to list runs", err, nil)
		return err
	}

	if len(runs) == 0 {
		fmt.Println("No runs found in database.")
		return nil
	}

	fmt.Println(runsTable(runs))
	return nil
}

func runsTable(runs []store.Run) string {
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, []string{
			r.ID,
			r.CreatedAt.Local().Format("2006-01-02 15:04"),
			r.InputPath,
			strconv.FormatFloat(r.Threshold, 'g', -1, 64),
			r.Policy,
			strconv.Itoa(r.Images),
			strconv.Itoa(r.Failed),
			strconv.Itoa(r.Identities),
			strconv.Itoa(r.Faces),
		})
	}
	return renderTable(
		[]string{"ID", "CREATED", "INPUT", "THRESHOLD", "POLICY", "IMAGES", "FAILED", "PEOPLE", "FACES"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignRight, alignRight, alignRight, alignRight},
	)
}

// resolveRun maps "" and "latest" to the newest saved run.
func resolveRun(ctx context.Context, db *store.Store, id string) (string, error) {
	if id != "" && id != "latest" {
		return id, nil
	}
	id, err := db.LatestRunID(ctx)
	if err != nil {
		return "", err
	}
	fmt.Fprintf(os.Stderr, "📌 Using latest run %s\n", id)
	return id, nil
}
