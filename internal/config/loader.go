package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// Load reads the configuration file, overlays ENGRAM_ environment
// variables, and validates the result. A missing file yields defaults; a
// present-but-broken file is an error.
func (l *Loader) Load() (*Config, error) {
	configPath := l.configPath
	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".engram", "engram.json")
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	v.SetEnvPrefix("ENGRAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := DefaultConfig()
	if _, err := os.Stat(configPath); err == nil {
		data, rerr := os.ReadFile(configPath)
		if rerr != nil {
			return nil, fmt.Errorf("failed to read config file: %w", rerr)
		}
		if verr := validateDocument(data); verr != nil {
			return nil, verr
		}
		if rerr := v.ReadInConfig(); rerr != nil {
			return nil, fmt.Errorf("failed to read config file: %w", rerr)
		}
		if uerr := v.Unmarshal(cfg); uerr != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", uerr)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	applyEnvOverrides(v, cfg)

	if cfg.Workspace == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		cfg.Workspace = wd
	}

	if err := NewValidator().Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides maps the flat environment variables onto nested config
// fields. AutomaticEnv alone cannot reach keys that were never set in the
// file, so the common ones are bound explicitly.
func applyEnvOverrides(v *viper.Viper, cfg *Config) {
	if s := v.GetString("workspace"); s != "" {
		cfg.Workspace = s
	}
	if s := v.GetString("database_url"); s != "" {
		cfg.Database.URL = s
	}
	if s := v.GetString("database_schema"); s != "" {
		cfg.Database.Schema = s
	}
	if s := v.GetString("memory_mode"); s != "" {
		cfg.Memory.Mode = s
	}
	if s := v.GetString("log_level"); s != "" {
		cfg.Logging.Level = s
	}
}
