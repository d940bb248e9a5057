// Package core contains the business logic for grandma: the iteration
// controller state machine, signal parsing, session guarding, prompt
// construction, and configuration loading.
package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/valter-silva-au/grandma/pkg/models"
)

// ConfigurationManager defines the interface for loading and validating the
// loop configuration from an optional .grandmarc file.
type ConfigurationManager interface {
	Load() (*models.Config, error)
	Validate(cfg *models.Config) error
}

// viperConfigManager implements ConfigurationManager using Viper for reading
// the YAML override file.
type viperConfigManager struct {
	// basePath is the supervised working directory where .grandmarc resides.
	basePath string
}

// NewConfigurationManager creates a ConfigurationManager that reads
// .grandmarc relative to basePath.
func NewConfigurationManager(basePath string) ConfigurationManager {
	return &viperConfigManager{basePath: basePath}
}

// defaultConfig returns a Config populated with the documented defaults:
// opus-class for reviews and high-complexity work, haiku-class for
// low-complexity work and session init, sonnet-class otherwise.
func defaultConfig() *models.Config {
	return &models.Config{
		Models: models.ModelConfig{
			Low:    "claude-haiku-4-5",
			Medium: "claude-sonnet-4-5",
			High:   "claude-opus-4-1",
			Review: "claude-opus-4-1",
			Init:   "claude-haiku-4-5",
		},
		Agent: models.AgentConfig{
			Command: "claude",
			Args:    []string{"-p", "--dangerously-skip-permissions"},
		},
		Limits: models.LimitConfig{
			Timeout:        15 * time.Minute,
			MaxAttempts:    3,
			BaseDelay:      5 * time.Second,
			MinOutputBytes: 50,
			MaxIterations:  10,
		},
	}
}

// Load reads the .grandmarc file from the base path using Viper. If the file
// does not exist, the documented defaults are returned. The returned value
// is assembled once and never mutated afterwards.
func (cm *viperConfigManager) Load() (*models.Config, error) {
	cfg := defaultConfig()

	v := viper.New()
	v.SetConfigName(".grandmarc")
	v.SetConfigType("yaml")
	v.AddConfigPath(cm.basePath)

	// Set Viper defaults so missing keys fall back gracefully.
	v.SetDefault("models.low", cfg.Models.Low)
	v.SetDefault("models.medium", cfg.Models.Medium)
	v.SetDefault("models.high", cfg.Models.High)
	v.SetDefault("models.review", cfg.Models.Review)
	v.SetDefault("models.init", cfg.Models.Init)
	v.SetDefault("agent.command", cfg.Agent.Command)
	v.SetDefault("agent.args", cfg.Agent.Args)
	v.SetDefault("limits.timeout_minutes", 15)
	v.SetDefault("limits.max_attempts", cfg.Limits.MaxAttempts)
	v.SetDefault("limits.base_delay_seconds", 5)
	v.SetDefault("limits.min_output_bytes", cfg.Limits.MinOutputBytes)
	v.SetDefault("limits.max_iterations", cfg.Limits.MaxIterations)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// No override file — run on defaults.
			return cfg, nil
		}
		return nil, fmt.Errorf("reading .grandmarc: %w", err)
	}

	cfg.Models.Low = v.GetString("models.low")
	cfg.Models.Medium = v.GetString("models.medium")
	cfg.Models.High = v.GetString("models.high")
	cfg.Models.Review = v.GetString("models.review")
	cfg.Models.Init = v.GetString("models.init")
	cfg.Agent.Command = v.GetString("agent.command")
	cfg.Agent.Args = v.GetStringSlice("agent.args")
	cfg.Limits.Timeout = time.Duration(v.GetInt("limits.timeout_minutes")) * time.Minute
	cfg.Limits.MaxAttempts = v.GetInt("limits.max_attempts")
	cfg.Limits.BaseDelay = time.Duration(v.GetInt("limits.base_delay_seconds")) * time.Second
	cfg.Limits.MinOutputBytes = v.GetInt("limits.min_output_bytes")
	cfg.Limits.MaxIterations = v.GetInt("limits.max_iterations")

	return cfg, nil
}

// Validate checks the provided configuration for invalid values and returns
// a clear error message identifying every problem.
func (cm *viperConfigManager) Validate(cfg *models.Config) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	var errs []string

	if cfg.Agent.Command == "" {
		errs = append(errs, "agent.command must not be empty")
	}
	for name, model := range map[string]string{
		"models.low":    cfg.Models.Low,
		"models.medium": cfg.Models.Medium,
		"models.high":   cfg.Models.High,
		"models.review": cfg.Models.Review,
		"models.init":   cfg.Models.Init,
	} {
		if model == "" {
			errs = append(errs, name+" must not be empty")
		}
	}
	if cfg.Limits.Timeout <= 0 {
		errs = append(errs, fmt.Sprintf("limits.timeout_minutes must be positive, got %s", cfg.Limits.Timeout))
	}
	if cfg.Limits.MaxAttempts < 1 {
		errs = append(errs, fmt.Sprintf("limits.max_attempts must be at least 1, got %d", cfg.Limits.MaxAttempts))
	}
	if cfg.Limits.BaseDelay < 0 {
		errs = append(errs, fmt.Sprintf("limits.base_delay_seconds must be non-negative, got %s", cfg.Limits.BaseDelay))
	}
	if cfg.Limits.MinOutputBytes < 0 {
		errs = append(errs, fmt.Sprintf("limits.min_output_bytes must be non-negative, got %d", cfg.Limits.MinOutputBytes))
	}
	if cfg.Limits.MaxIterations < 1 {
		errs = append(errs, fmt.Sprintf("limits.max_iterations must be at least 1, got %d", cfg.Limits.MaxIterations))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}
