package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Database DatabaseConfig
	Worker   WorkerConfig
	Grouping GroupingConfig
	LogLevel string
}

type DatabaseConfig struct {
	URL string // PostgreSQL connection URL, only needed when saving or reading runs
}

type WorkerConfig struct {
	Python       string // interpreter (default python3)
	Script       string // detector script (default python/worker.py)
	EmbeddingDim int    // encoder output size (default 128)
	Engines      int    // parallel detector processes (default 1)
}

type GroupingConfig struct {
	Threshold float64 // maximum euclidean distance for a match (default 0.6)
	Policy    string  // "first" or "nearest" (default first)
}

const defaultDatabaseURL = "postgres://localhost:5432/facegroup"

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads a positive float, falling back to defaultVal.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
		return f
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s := strings.TrimSpace(os.Getenv(key)); s != "" {
		return s
	}
	return defaultVal
}

// databaseURL prefers DATABASE_URL, then builds one from the POSTGRES_* variables.
func databaseURL() string {
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return url
	}
	if host := os.Getenv("POSTGRES_HOST"); host != "" {
		user := os.Getenv("POSTGRES_USER")
		pass := os.Getenv("POSTGRES_PASSWORD")
		name := os.Getenv("POSTGRES_DB")
		port := os.Getenv("POSTGRES_PORT")
		if port == "" {
			port = "5432"
		}
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, pass, host, port, name)
	}
	// Fallback to local default if no env vars are present
	return defaultDatabaseURL
}

// Load reads the configuration from the environment. A .env file, if any, must be loaded first.
func Load() *Config {
	return &Config{
		Database: DatabaseConfig{
			URL: databaseURL(),
		},
		Worker: WorkerConfig{
			Python:       envString("FACEGROUP_PYTHON", "python3"),
			Script:       envString("FACEGROUP_WORKER_SCRIPT", "python/worker.py"),
			EmbeddingDim: envInt("FACEGROUP_EMBEDDING_DIM", 128),
			Engines:      envInt("FACEGROUP_ENGINES", 1),
		},
		Grouping: GroupingConfig{
			Threshold: envFloat("FACEGROUP_THRESHOLD", 0.6),
			Policy:    envString("FACEGROUP_POLICY", "first"),
		},
		LogLevel: envString("FACEGROUP_LOG_LEVEL", "info"),
	}
}
