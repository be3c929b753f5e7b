package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// searchPaths returns the ordered list of config file locations to try.
func searchPaths() []string {
	paths := []string{
		"/etc/genie/genie.yaml",
	}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "genie", "genie.yaml"))
	}

	paths = append(paths, "genie.yaml")

	if envPath := os.Getenv("GENIE_CONFIG"); envPath != "" {
		paths = append(paths, envPath)
	}

	return paths
}

// Load reads configuration from YAML files and environment variables.
// Files are loaded in order (each overrides the previous):
// /etc/genie/genie.yaml < ~/.config/genie/genie.yaml < ./genie.yaml < $GENIE_CONFIG
func Load() (*Config, error) {
	cfg := Defaults()

	for _, path := range searchPaths() {
		if err := loadFile(cfg, path); err != nil {
			return nil, fmt.Errorf("loading config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadFromFile reads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	cfg := Defaults()

	if err := loadFile(cfg, path); err != nil {
		return nil, fmt.Errorf("loading config %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables have higher priority than YAML config values.
func applyEnvOverrides(cfg *Config) {
	setStr := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	setStr(&cfg.Storage.Path, "STORAGE_PATH")
	setStr(&cfg.Storage.BackupDir, "BACKUP_DIR")
	if v := os.Getenv("AUTO_BACKUP"); v != "" {
		cfg.Storage.AutoBackup = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("BACKUP_RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Storage.BackupRetentionDays = n
		}
	}

	setStr(&cfg.LLM.APIKey, "LLM_API_KEY")
	setStr(&cfg.Research.APIKey, "RESEARCH_API_KEY")
	setStr(&cfg.Calendar.CredentialsPath, "CALENDAR_CREDENTIALS_PATH")
	setStr(&cfg.Calendar.TokenPath, "CALENDAR_TOKEN_PATH")
	setStr(&cfg.Calendar.CalendarID, "DEFAULT_CALENDAR_ID")
	if v := os.Getenv("EVENT_SUMMARY_PREFIX"); v != "" {
		cfg.Calendar.SummaryPrefix = v
	}

	setMillis := func(dst *time.Duration, key string) {
		if v := os.Getenv(key); v != "" {
			if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
				*dst = time.Duration(ms) * time.Millisecond
			}
		}
	}
	setMillis(&cfg.Pipeline.OverallDeadline, "OVERALL_DEADLINE_MS")
	setMillis(&cfg.LLM.Deadline, "LLM_DEADLINE_MS")
	setMillis(&cfg.Calendar.Deadline, "CALENDAR_DEADLINE_MS")

	setStr(&cfg.Tunnel.AuthToken, "GENIE_NGROK_AUTHTOKEN")
}

func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from trusted config search paths
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading file: %w", err)
	}

	slog.Debug("loading config file", "path", path)

	expanded := os.ExpandEnv(string(data))

	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return fmt.Errorf("parsing YAML: %w", err)
	}

	return nil
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", cfg.Server.Port)
	}

	if cfg.Storage.Path == "" {
		return fmt.Errorf("storage.path must not be empty")
	}

	if cfg.Storage.BackupRetentionDays < 1 {
		return fmt.Errorf("storage.backup_retention_days must be at least 1")
	}

	if cfg.Pipeline.MaxConcurrent < 1 {
		return fmt.Errorf("pipeline.max_concurrent must be at least 1")
	}

	if cfg.Pipeline.OverallDeadline <= 0 {
		return fmt.Errorf("pipeline.overall_deadline must be positive")
	}

	cfg.Storage.Path = ExpandHome(cfg.Storage.Path)
	cfg.Storage.BackupDir = ExpandHome(cfg.Storage.BackupDir)
	cfg.Calendar.CredentialsPath = ExpandHome(cfg.Calendar.CredentialsPath)
	cfg.Calendar.TokenPath = ExpandHome(cfg.Calendar.TokenPath)

	return nil
}
