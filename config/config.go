package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ByteMirror/runmux/log"
)

const ConfigFileName = "config.json"

// GetConfigDir returns the path to the application's configuration directory
func GetConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get config home directory: %w", err)
	}
	return filepath.Join(homeDir, ".runmux"), nil
}

// Config represents the application configuration
type Config struct {
	// MaxConcurrent is the maximum number of commands that run at the same
	// time. Commands beyond this limit are queued.
	MaxConcurrent int `json:"max_concurrent"`
	// GracePeriodMS is how long (ms) a cancelled command gets to exit after
	// SIGTERM before it is force killed.
	GracePeriodMS int `json:"grace_period_ms"`
	// KillMarginMS is the additional wait (ms) after SIGKILL before a command
	// is written off as terminated.
	KillMarginMS int `json:"kill_margin_ms"`
	// MergeStrategy selects how output from concurrent commands is combined:
	// "interleaved", "line" or "grouped".
	MergeStrategy string `json:"merge_strategy"`
	// MaxLines is the maximum number of merged output lines kept in memory
	// for display scrollback.
	MaxLines int `json:"max_lines"`
	// HistoryEnabled controls whether run commands are recorded for
	// frequency learning. A pointer so a hand-edited file that omits the
	// field keeps the default instead of silently disabling history.
	HistoryEnabled *bool `json:"history_enabled"`
}

// HistoryOn reports the effective history setting.
func (c *Config) HistoryOn() bool {
	return c.HistoryEnabled == nil || *c.HistoryEnabled
}

func boolPtr(v bool) *bool {
	return &v
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		MaxConcurrent:  64,
		GracePeriodMS:  3000,
		KillMarginMS:   1000,
		MergeStrategy:  "line",
		MaxLines:       10000,
		HistoryEnabled: boolPtr(true),
	}
}

// LoadConfig loads the configuration from disk. If it cannot be done, we return the default configuration.
func LoadConfig() *Config {
	configDir, err := GetConfigDir()
	if err != nil {
		log.ErrorLog.Printf("failed to get config directory: %v", err)
		return DefaultConfig()
	}

	configPath := filepath.Join(configDir, ConfigFileName)
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// Create and save default config if file doesn't exist
			defaultCfg := DefaultConfig()
			if saveErr := SaveConfig(defaultCfg); saveErr != nil {
				log.WarningLog.Printf("failed to save default config: %v", saveErr)
			}
			return defaultCfg
		}

		log.WarningLog.Printf("failed to get config file: %v", err)
		return DefaultConfig()
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		log.ErrorLog.Printf("failed to parse config file: %v", err)
		return DefaultConfig()
	}

	config.applyDefaults()
	return &config
}

// applyDefaults fills in zero values left by partial config files.
func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = def.MaxConcurrent
	}
	if c.GracePeriodMS <= 0 {
		c.GracePeriodMS = def.GracePeriodMS
	}
	if c.KillMarginMS <= 0 {
		c.KillMarginMS = def.KillMarginMS
	}
	if c.MergeStrategy == "" {
		c.MergeStrategy = def.MergeStrategy
	}
	if c.MaxLines <= 0 {
		c.MaxLines = def.MaxLines
	}
	if c.HistoryEnabled == nil {
		c.HistoryEnabled = def.HistoryEnabled
	}
}

// SaveConfig saves the configuration to disk
func SaveConfig(config *Config) error {
	configDir, err := GetConfigDir()
	if err != nil {
		return fmt.Errorf("failed to get config directory: %w", err)
	}

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	configPath := filepath.Join(configDir, ConfigFileName)
	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
