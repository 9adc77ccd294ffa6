package config

import (
	"fmt"
	"os"
)

type Config struct {
	DatabaseURL string
	// BackupRoot is the durable artifact directory; each backup type gets a
	// subdirectory underneath it.
	BackupRoot string
	// TempRoot holds ephemeral per-operation workspaces.
	TempRoot    string
	UploadsRoot string
	// ChecksumAlgorithm selects the artifact content hash (sha256 or blake3).
	ChecksumAlgorithm string
	// Environment gates the retention scheduler: background jobs run only in
	// production, so development and tests see no surprise writes.
	Environment       string
	LogLevel          string
	MetricsListenAddr string
	MigrationsDir     string
	ServiceName       string
}

func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:       getEnv("DATABASE_URL", ""),
		BackupRoot:        getEnv("BACKUP_ROOT", "storage/backups"),
		TempRoot:          getEnv("BACKUP_TEMP_ROOT", "storage/temp/backups"),
		UploadsRoot:       getEnv("UPLOADS_ROOT", "storage/uploads"),
		ChecksumAlgorithm: getEnv("CHECKSUM_ALGORITHM", "sha256"),
		Environment:       getEnv("ENVIRONMENT", "development"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		MetricsListenAddr: getEnv("METRICS_LISTEN_ADDR", ":9120"),
		MigrationsDir:     getEnv("MIGRATIONS_DIR", "migrations"),
		ServiceName:       getEnv("SERVICE_NAME", "backupd"),
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	return nil
}

// IsProduction reports whether the process runs in a production-like
// environment.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
