package config

import "time"

// Config is the root configuration for Genie.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Storage       StorageConfig       `yaml:"storage"`
	LLM           LLMConfig           `yaml:"llm"`
	Research      ResearchConfig      `yaml:"research"`
	Calendar      CalendarConfig      `yaml:"calendar"`
	Pipeline      PipelineConfig      `yaml:"pipeline"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Tunnel        TunnelConfig        `yaml:"tunnel"`
}

type ServerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`
}

type StorageConfig struct {
	Path                string `yaml:"path"`
	BackupDir           string `yaml:"backup_dir"`
	AutoBackup          bool   `yaml:"auto_backup"`
	BackupRetentionDays int    `yaml:"backup_retention_days"`
}

type LLMConfig struct {
	APIKey     string        `yaml:"api_key"`
	BaseURL    string        `yaml:"base_url"`
	Model      string        `yaml:"model"`
	PromptsDir string        `yaml:"prompts_dir"`
	Deadline   time.Duration `yaml:"deadline"`
	MaxRetry   time.Duration `yaml:"max_retry"` // max elapsed time across retries
}

type ResearchConfig struct {
	APIKey   string        `yaml:"api_key"`
	BaseURL  string        `yaml:"base_url"`
	Model    string        `yaml:"model"`
	Deadline time.Duration `yaml:"deadline"`
}

type CalendarConfig struct {
	CredentialsPath string        `yaml:"credentials_path"`
	TokenPath       string        `yaml:"token_path"`
	CalendarID      string        `yaml:"calendar_id"`
	SummaryPrefix   string        `yaml:"summary_prefix"`
	Deadline        time.Duration `yaml:"deadline"`
}

type PipelineConfig struct {
	OverallDeadline time.Duration `yaml:"overall_deadline"`
	MaxConcurrent   int           `yaml:"max_concurrent"`
}

type NotificationsConfig struct {
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type WebhookConfig struct {
	Name   string   `yaml:"name"`
	URL    string   `yaml:"url"`
	Events []string `yaml:"events"`
}

type TunnelConfig struct {
	Enabled   bool   `yaml:"enabled"`
	AuthToken string `yaml:"authtoken"`
	Domain    string `yaml:"domain"`
}

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:     "127.0.0.1",
			Port:     8430,
			LogLevel: "info",
		},
		Storage: StorageConfig{
			Path:                "~/.config/genie/progress.json",
			BackupDir:           "~/.config/genie/backups",
			AutoBackup:          true,
			BackupRetentionDays: 30,
		},
		LLM: LLMConfig{
			BaseURL:    "https://generativelanguage.googleapis.com/v1beta/openai",
			Model:      "gemini-2.0-flash",
			PromptsDir: "prompts",
			Deadline:   30 * time.Second,
			MaxRetry:   20 * time.Second,
		},
		Research: ResearchConfig{
			BaseURL:  "https://api.perplexity.ai",
			Model:    "sonar-pro",
			Deadline: 10 * time.Second,
		},
		Calendar: CalendarConfig{
			CredentialsPath: "~/.config/genie/credentials.json",
			TokenPath:       "~/.config/genie/token.json",
			CalendarID:      "primary",
			SummaryPrefix:   "[Genie] ",
			Deadline:        10 * time.Second,
		},
		Pipeline: PipelineConfig{
			OverallDeadline: 60 * time.Second,
			MaxConcurrent:   8,
		},
	}
}
