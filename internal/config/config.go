// Package config provides configuration for the CLI and KMS helper through
// environment variables.
package config

import (
	"os"
	"path/filepath"

	"github.com/allisson/go-env"
	"github.com/joho/godotenv"
)

// Config holds configuration for the command-line tool and the KMS keeper helper.
// The library core itself takes no configuration beyond the Crypt options.
type Config struct {
	// LogLevel is the logging level (e.g., "debug", "info", "warn", "error").
	LogLevel string

	// KMSKeyURI is the gocloud.dev/secrets keeper URI used to decrypt key material
	// (e.g., "base64key://...", "hashivault://keyname", "awskms://...").
	KMSKeyURI string

	// KMSRequestsPerSec limits the rate of KMS round trips.
	KMSRequestsPerSec float64
	// KMSBurst is the burst size for the KMS rate limiter.
	KMSBurst int

	// CacheNoblock makes contexts poll shared caches instead of blocking in WaitDone.
	CacheNoblock bool

	// MetricsEnabled indicates whether metrics collection is enabled.
	MetricsEnabled bool
	// MetricsNamespace is the namespace for the application metrics.
	MetricsNamespace string
}

// Load loads configuration from environment variables and .env file.
func Load() *Config {
	// Try to load .env file recursively
	loadDotEnv()

	return &Config{
		// Logging
		LogLevel: env.GetString("LOG_LEVEL", "info"),

		// KMS configuration
		KMSKeyURI:         env.GetString("KMS_KEY_URI", ""),
		KMSRequestsPerSec: env.GetFloat64("KMS_REQUESTS_PER_SEC", 10.0),
		KMSBurst:          env.GetInt("KMS_BURST", 5),

		// Shared cache behavior
		CacheNoblock: env.GetBool("CACHE_NOBLOCK", false),

		// Metrics
		MetricsEnabled:   env.GetBool("METRICS_ENABLED", false),
		MetricsNamespace: env.GetString("METRICS_NAMESPACE", "fieldcrypt"),
	}
}

// loadDotEnv searches for a .env file recursively from the current directory
// up to the root directory and loads it if found.
func loadDotEnv() {
	// Get current working directory
	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	// Search for .env file recursively up the directory tree
	dir := cwd
	for {
		envPath := filepath.Join(dir, ".env")
		if _, err := os.Stat(envPath); err == nil {
			// .env file found, load it
			_ = godotenv.Load(envPath)
			return
		}

		// Move to parent directory
		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root directory
			break
		}
		dir = parent
	}
}
