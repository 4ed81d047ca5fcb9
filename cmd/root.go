package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/andresmejia3/facegroup/internal/config"
	"github.com/andresmejia3/facegroup/internal/logging"
	"github.com/andresmejia3/facegroup/internal/store"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// Options holds shared configuration for the group and find commands
type Options struct {
	InputPath      string
	NumEngines     int
	MatchThreshold float64
	Policy         string
	EmbeddingsFile string
	RecordFile     string
	OutputDir      string
	Format         string
	Save           bool
	RunID          string
}

var (
	// DB is the database connection shared by subcommands, opened on first use
	DB *store.Store
	// dbURL is the connection string
	dbURL string

	cfg      *config.Config
	logLevel string
	log      zerolog.Logger
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "facegroup",
	Short:   "Group the faces in a folder of photos into identities",
	Version: Version, // This enables the --version flag
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			// Use Background here because the main context might be cancelled already (due to Ctrl+C)
			// and we still need to send the "Close" command to the DB.
			DB.Close(context.Background())
		}
	},
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// This tells Cobra not to print the version in the help text, which is cleaner.
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "PostgreSQL connection string (default: $DATABASE_URL or postgres://localhost:5432/facegroup)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (default: $FACEGROUP_LOG_LEVEL or info)")
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
	cfg = config.Load()

	level := cfg.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	log = logging.New(level, os.Stderr)
}

// openDB connects on first use so that commands which never touch PostgreSQL run without it.
func openDB(ctx context.Context) (*store.Store, error) {
	if DB != nil {
		return DB, nil
	}
	url := dbURL
	if url == "" {
		url = cfg.Database.URL
	}
	s, err := store.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	DB = s
	return DB, nil
}
