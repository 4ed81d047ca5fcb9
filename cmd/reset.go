package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/andresmejia3/facegroup/internal/utils"
	"github.com/spf13/cobra"
)

var (
	resetDB     bool
	resetOutput string
	resetYes    bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset system state (saved runs, labeled images)",
	Long:  "Clears saved data. By default it drops the database tables. Use --output to also delete a folder of labeled images.",
	RunE: func(cmd *cobra.Command, args []string) error {
		// Without flags only the database is cleared
		if !resetDB && resetOutput == "" {
			resetDB = true
		}

		reader := bufio.NewReader(os.Stdin)

		if resetDB {
			if resetYes || confirm(reader, "⚠️  Are you sure you want to DROP all database tables?") {
				db, err := openDB(cmd.Context())
				if err != nil {
					utils.ShowError("Database unavailable", err, nil)
					return err
				}
				fmt.Println("🗑️  Clearing Database...")
				if err := db.Reset(cmd.Context()); err != nil {
					utils.ShowError("Failed to reset database", err, nil)
					return err
				}
			}
		}

		if resetOutput != "" {
			if resetYes || confirm(reader, fmt.Sprintf("⚠️  Are you sure you want to delete %s?", resetOutput)) {
				fmt.Println("🗑️  Clearing Labeled Images...")
				removeDir(resetOutput)
			}
		}

		fmt.Println("✨ System Reset Complete.")
		return nil
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetDB, "db", false, "Drop the PostgreSQL tables")
	resetCmd.Flags().StringVar(&resetOutput, "output", "", "Delete this folder of labeled images")
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "Do not ask for confirmation")
	rootCmd.AddCommand(resetCmd)
}

func confirm(r *bufio.Reader, prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	res, _ := r.ReadString('\n')
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}

func removeDir(path string) {
	if err := os.RemoveAll(path); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  Failed to remove %s: %v\n", path, err)
	}
}
