// Package config provides configuration management for imputectl. It
// supports loading configuration from environment variables, YAML config
// files, and command-line flags with proper precedence handling.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the configuration for imputectl.
type Config struct {
	// DataDir is the directory holding the server registry and token files
	DataDir string `yaml:"data_dir"`

	// TokenFile overrides the default per-server token file location
	TokenFile string `yaml:"token_file"`

	// NonInteractive disables credential prompts; a missing token becomes
	// a hard failure
	NonInteractive bool `yaml:"non_interactive"`

	// Debug enables raw header/body reporting for every HTTP call
	Debug bool `yaml:"debug"`

	// LogLevel controls the logging verbosity (debug, info, warn, error)
	LogLevel string `yaml:"log_level"`

	// LogJSON enables JSON-formatted logging output
	LogJSON bool `yaml:"log_json"`

	// ConfigFile is the path to the YAML config file
	ConfigFile string `yaml:"-"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		DataDir:  "data",
		LogLevel: "info",
	}
}

// FromEnv loads configuration from environment variables. Returns nil if no
// relevant environment variables are set.
func FromEnv() *Config {
	cfg := &Config{
		DataDir:   os.Getenv("IMPUTE_DATA_DIR"),
		TokenFile: os.Getenv("IMPUTE_TOKEN_FILE"),
		LogLevel:  os.Getenv("LOG_LEVEL"),
	}

	if v := os.Getenv("LOG_JSON"); v == "true" || v == "1" {
		cfg.LogJSON = true
	}
	if v := os.Getenv("IMPUTE_DEBUG"); v == "true" || v == "1" {
		cfg.Debug = true
	}
	if v := os.Getenv("IMPUTE_NON_INTERACTIVE"); v == "true" || v == "1" {
		cfg.NonInteractive = true
	}

	if *cfg == (Config{}) {
		return nil
	}
	return cfg
}

// FromFile loads configuration from a YAML file.
func FromFile(path string) (*Config, error) {
	if path == "" {
		return nil, nil
	}

	// Expand home directory
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil // File doesn't exist, not an error
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// Load loads configuration with proper precedence:
// CLI flags (via cfg parameter) > environment variables > config file > defaults
func Load(cfg *Config) (*Config, error) {
	result := DefaultConfig()

	// Try to load from config file if specified
	if cfg != nil && cfg.ConfigFile != "" {
		fileCfg, err := FromFile(cfg.ConfigFile)
		if err != nil {
			return nil, err
		}
		if fileCfg != nil {
			result = mergeConfigs(result, fileCfg)
		}
	} else {
		// Try default config locations
		for _, defaultPath := range []string{
			"~/.imputectl.yaml",
			"~/.config/imputectl/config.yaml",
		} {
			fileCfg, err := FromFile(defaultPath)
			if err != nil {
				return nil, err
			}
			if fileCfg != nil {
				result = mergeConfigs(result, fileCfg)
				break
			}
		}
	}

	// Load from environment variables
	if envCfg := FromEnv(); envCfg != nil {
		result = mergeConfigs(result, envCfg)
	}

	// Apply CLI flags (highest precedence)
	if cfg != nil {
		result = mergeConfigs(result, cfg)
	}

	if err := result.Validate(); err != nil {
		return nil, err
	}
	return result, nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("data directory must not be empty")
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}
	c.LogLevel = strings.ToLower(c.LogLevel)

	return nil
}

// mergeConfigs merges two configs, with values from 'override' taking
// precedence. Only non-zero values from 'override' are used.
func mergeConfigs(base, override *Config) *Config {
	result := *base

	if override.DataDir != "" {
		result.DataDir = override.DataDir
	}
	if override.TokenFile != "" {
		result.TokenFile = override.TokenFile
	}
	if override.NonInteractive {
		result.NonInteractive = true
	}
	if override.Debug {
		result.Debug = true
	}
	if override.LogLevel != "" {
		result.LogLevel = override.LogLevel
	}
	if override.LogJSON {
		result.LogJSON = true
	}
	if override.ConfigFile != "" {
		result.ConfigFile = override.ConfigFile
	}

	return &result
}
