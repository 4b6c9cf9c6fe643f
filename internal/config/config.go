package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config represents the flat kbflow configuration.
type Config struct {
	Version               string `json:"version"`
	DatabasePath          string `json:"database_path,omitempty"`
	ListenAddr            string `json:"listen_addr,omitempty"`
	GatheringTimeoutHours int    `json:"gathering_timeout_hours,omitempty"`
	SweepIntervalMinutes  int    `json:"sweep_interval_minutes,omitempty"`
	PostResolutionSummary bool   `json:"post_resolution_summary,omitempty"`

	ServiceNowURL      string `json:"servicenow_url,omitempty"`
	ServiceNowUsername string `json:"servicenow_username,omitempty"`
	ServiceNowPassword string `json:"-"`

	SlackBotToken string `json:"-"`

	LLMURL   string `json:"llm_url,omitempty"`
	LLMModel string `json:"llm_model,omitempty"`
	LLMKey   string `json:"-"`
}

// Defaults applied when the config file omits a value.
const (
	DefaultListenAddr            = ":8090"
	DefaultGatheringTimeoutHours = 24
	DefaultSweepIntervalMinutes  = 60
	DefaultLLMModel              = "gpt-4o-mini"
)

// Dir returns the kbflow config directory (~/.kbflow).
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".kbflow"), nil
}

// LoadConfig reads config.json from the given directory and applies env
// overrides. A missing file is not an error: credentials commonly come
// entirely from the environment.
func LoadConfig(dir string) (*Config, error) {
	cfg := &Config{}

	path := filepath.Join(dir, "config.json")
	data, err := os.ReadFile(path)
	if err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg.applyEnv()
	cfg.applyDefaults(dir)
	return cfg, nil
}

// SaveConfig writes config.json to the given directory. Secrets are
// never written; they resolve from the environment only.
func SaveConfig(dir string, cfg *Config) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnv overlays environment variables on the file config. The
// SERVICENOW_* names match the credential convention of the ServiceNow
// tooling this engine integrates with.
func (c *Config) applyEnv() {
	overlay(&c.ServiceNowURL, "SERVICENOW_URL")
	overlay(&c.ServiceNowUsername, "SERVICENOW_USERNAME")
	overlay(&c.ServiceNowPassword, "SERVICENOW_PASSWORD")
	overlay(&c.SlackBotToken, "SLACK_BOT_TOKEN")
	overlay(&c.LLMURL, "KBFLOW_LLM_URL")
	overlay(&c.LLMKey, "KBFLOW_LLM_KEY")
	overlay(&c.LLMModel, "KBFLOW_LLM_MODEL")
	overlay(&c.ListenAddr, "KBFLOW_LISTEN_ADDR")
	overlay(&c.DatabasePath, "KBFLOW_DB_PATH")
}

func (c *Config) applyDefaults(dir string) {
	if c.DatabasePath == "" {
		c.DatabasePath = filepath.Join(dir, "kbflow.db")
	}
	if c.ListenAddr == "" {
		c.ListenAddr = DefaultListenAddr
	}
	if c.GatheringTimeoutHours <= 0 {
		c.GatheringTimeoutHours = DefaultGatheringTimeoutHours
	}
	if c.SweepIntervalMinutes <= 0 {
		c.SweepIntervalMinutes = DefaultSweepIntervalMinutes
	}
	if c.LLMModel == "" {
		c.LLMModel = DefaultLLMModel
	}
}

// GatheringTimeout returns the gathering timeout as a duration.
func (c *Config) GatheringTimeout() time.Duration {
	return time.Duration(c.GatheringTimeoutHours) * time.Hour
}

// SweepInterval returns the sweep cadence as a duration.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalMinutes) * time.Minute
}

func overlay(target *string, key string) {
	if value := os.Getenv(key); value != "" {
		*target = value
	}
}
