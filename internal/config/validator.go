package config

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

var validModes = map[string]bool{
	"keyword": true,
	"fts":     true,
	"vector":  true,
	"hybrid":  true,
}

var schemaNamePattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Validate checks the whole configuration, reporting the first problem
func (v *Validator) Validate(cfg *Config) error {
	if err := v.ValidateMode(cfg.Memory.Mode); err != nil {
		return err
	}
	if cfg.Memory.MaxResults < 0 {
		return fmt.Errorf("memory.max_results cannot be negative")
	}
	if cfg.Memory.MinScore < 0 || cfg.Memory.MinScore > 1 {
		return fmt.Errorf("memory.min_score must be within [0, 1]")
	}
	if cfg.Memory.VectorWeight < 0 || cfg.Memory.FTSWeight < 0 {
		return fmt.Errorf("memory weights cannot be negative")
	}
	if cfg.Database.Schema != "" && !schemaNamePattern.MatchString(cfg.Database.Schema) {
		return fmt.Errorf("database.schema %q is not a valid identifier", cfg.Database.Schema)
	}
	for i, p := range cfg.Providers {
		if err := v.ValidateProvider(p); err != nil {
			return fmt.Errorf("providers[%d]: %w", i, err)
		}
	}
	return nil
}

// ValidateMode checks a retrieval mode name
func (v *Validator) ValidateMode(mode string) error {
	if mode == "" {
		return nil
	}
	if !validModes[mode] {
		return fmt.Errorf("invalid memory mode %q (expected keyword, fts, vector or hybrid)", mode)
	}
	return nil
}

// ValidateProvider checks an embedding provider entry
func (v *Validator) ValidateProvider(p ProviderConfig) error {
	if p.Name == "" {
		return fmt.Errorf("provider name cannot be empty")
	}
	if p.Model == "" {
		return fmt.Errorf("provider model cannot be empty")
	}
	if p.BaseURL == "" {
		return fmt.Errorf("provider base_url cannot be empty")
	}
	u, err := url.Parse(p.BaseURL)
	if err != nil || u.Host == "" || !strings.HasPrefix(u.Scheme, "http") {
		return fmt.Errorf("provider base_url %q is not a valid http(s) URL", p.BaseURL)
	}
	return nil
}
