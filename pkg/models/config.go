package models

import "time"

// ModelConfig maps complexity tiers and loop phases to model identifiers.
type ModelConfig struct {
	Low    string `yaml:"low"`
	Medium string `yaml:"medium"`
	High   string `yaml:"high"`
	Review string `yaml:"review"`
	Init   string `yaml:"init"`
}

// ForComplexity returns the model identifier for a task's complexity tier.
// Unknown or absent complexity falls back to the medium tier.
func (m ModelConfig) ForComplexity(c Complexity) string {
	switch c {
	case ComplexityLow:
		return m.Low
	case ComplexityHigh:
		return m.High
	default:
		return m.Medium
	}
}

// AgentConfig describes how to invoke the external agent executable.
type AgentConfig struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

// LimitConfig bounds invocation time and the retry budget.
type LimitConfig struct {
	Timeout        time.Duration `yaml:"timeout"`
	MaxAttempts    int           `yaml:"max_attempts"`
	BaseDelay      time.Duration `yaml:"base_delay"`
	MinOutputBytes int           `yaml:"min_output_bytes"`
	MaxIterations  int           `yaml:"max_iterations"`
}

// Config is the immutable configuration value assembled once at startup from
// defaults merged with an optional .grandmarc override file. It is passed by
// reference into the controller; there are no ambient mutable globals.
type Config struct {
	Models ModelConfig `yaml:"models"`
	Agent  AgentConfig `yaml:"agent"`
	Limits LimitConfig `yaml:"limits"`
}
