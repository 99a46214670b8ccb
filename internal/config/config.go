package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Config represents the main Engram configuration
type Config struct {
	// Workspace is the root directory of markdown memory files
	Workspace string `json:"workspace" mapstructure:"workspace"`

	// Memory holds indexing and retrieval settings
	Memory MemoryConfig `json:"memory" mapstructure:"memory"`

	// Database holds backing-store settings
	Database DatabaseConfig `json:"database" mapstructure:"database"`

	// Providers lists embedding providers in failover order
	Providers []ProviderConfig `json:"providers" mapstructure:"providers"`

	// Logging holds log output settings
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
}

// MemoryConfig holds indexing and retrieval settings
type MemoryConfig struct {
	Mode               string  `json:"mode" mapstructure:"mode"` // keyword, fts, vector, hybrid
	MaxResults         int     `json:"max_results" mapstructure:"max_results"`
	MinScore           float64 `json:"min_score" mapstructure:"min_score"`
	VectorWeight       float64 `json:"vector_weight" mapstructure:"vector_weight"`
	FTSWeight          float64 `json:"fts_weight" mapstructure:"fts_weight"`
	TranscriptsEnabled bool    `json:"transcripts_enabled" mapstructure:"transcripts_enabled"`
	RetentionDays      int     `json:"retention_days" mapstructure:"retention_days"`
	Watch              bool    `json:"watch" mapstructure:"watch"`
}

// DatabaseConfig holds backing-store settings. An empty URL runs the
// runtime storeless, on the filesystem fallback alone.
type DatabaseConfig struct {
	URL    string `json:"url" mapstructure:"url"`
	Schema string `json:"schema" mapstructure:"schema"`
}

// ProviderConfig describes one embedding provider endpoint
type ProviderConfig struct {
	Name    string `json:"name" mapstructure:"name"`
	BaseURL string `json:"base_url" mapstructure:"base_url"`
	APIKey  string `json:"api_key" mapstructure:"api_key"`
	Model   string `json:"model" mapstructure:"model"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `json:"level" mapstructure:"level"`
	File   string `json:"file" mapstructure:"file"`
	Pretty bool   `json:"pretty" mapstructure:"pretty"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Memory: MemoryConfig{
			Mode:               "hybrid",
			MaxResults:         6,
			MinScore:           0.05,
			VectorWeight:       0.7,
			FTSWeight:          0.3,
			TranscriptsEnabled: true,
			RetentionDays:      30,
			Watch:              true,
		},
		Database: DatabaseConfig{
			Schema: "public",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Retention converts the configured day count to a duration
func (c *Config) Retention() time.Duration {
	days := c.Memory.RetentionDays
	if days <= 0 {
		days = 30
	}
	return time.Duration(days) * 24 * time.Hour
}

// String returns a JSON representation with secrets redacted
func (c *Config) String() string {
	clone := *c
	clone.Providers = make([]ProviderConfig, len(c.Providers))
	for i, p := range c.Providers {
		p.APIKey = redact(p.APIKey)
		clone.Providers[i] = p
	}
	data, err := json.MarshalIndent(clone, "", "  ")
	if err != nil {
		return fmt.Sprintf("config marshal error: %v", err)
	}
	return string(data)
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "..." + s[len(s)-4:]
}
