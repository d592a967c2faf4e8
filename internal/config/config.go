package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// ConsoleConfig controls terminal output formatting.
type ConsoleConfig struct {
	EnableColor    bool `yaml:"enable_color" mapstructure:"enable_color" json:"enable_color"`
	CompactMode    bool `yaml:"compact_mode" mapstructure:"compact_mode" json:"compact_mode"`
	ShowDurations  bool `yaml:"show_durations" mapstructure:"show_durations" json:"show_durations"`
	ShowFileCounts bool `yaml:"show_file_counts" mapstructure:"show_file_counts" json:"show_file_counts"`
}

// RouterConfig names the model identifiers for each tier and the
// escalation behavior between them.
type RouterConfig struct {
	LowModel           string `yaml:"low_model" mapstructure:"low_model" json:"low_model"`
	MidModel           string `yaml:"mid_model" mapstructure:"mid_model" json:"mid_model"`
	TopModel           string `yaml:"top_model" mapstructure:"top_model" json:"top_model"`
	MaxTier            string `yaml:"max_tier" mapstructure:"max_tier" json:"max_tier"`
	ModelOverride      string `yaml:"model_override" mapstructure:"model_override" json:"model_override,omitempty"`
	EscalateAfterFails int    `yaml:"escalate_after_fails" mapstructure:"escalate_after_fails" json:"escalate_after_fails"`
	HistoryWindow      int    `yaml:"history_window" mapstructure:"history_window" json:"history_window"`
}

// BudgetConfig configures the rate-limit tracker and usage guard.
type BudgetConfig struct {
	FiveHourTokenLimit int64   `yaml:"five_hour_token_limit" mapstructure:"five_hour_token_limit" json:"five_hour_token_limit"`
	WeeklyTokenLimit   int64   `yaml:"weekly_token_limit" mapstructure:"weekly_token_limit" json:"weekly_token_limit"`
	PauseThreshold     float64 `yaml:"pause_threshold" mapstructure:"pause_threshold" json:"pause_threshold"`
	BackoffBaseSeconds int     `yaml:"backoff_base_seconds" mapstructure:"backoff_base_seconds" json:"backoff_base_seconds"`
}

// LearningConfig configures the knowledge base and pattern stores.
type LearningConfig struct {
	Enabled            bool    `yaml:"enabled" mapstructure:"enabled" json:"enabled"`
	NoveltyThreshold   float64 `yaml:"novelty_threshold" mapstructure:"novelty_threshold" json:"novelty_threshold"`
	ConfidenceBoost    float64 `yaml:"confidence_boost" mapstructure:"confidence_boost" json:"confidence_boost"`
	ConfidenceDecay    float64 `yaml:"confidence_decay" mapstructure:"confidence_decay" json:"confidence_decay"`
	MaxOverrideLog     int     `yaml:"max_override_log" mapstructure:"max_override_log" json:"max_override_log"`
	KeepExecutionsDays int     `yaml:"keep_executions_days" mapstructure:"keep_executions_days" json:"keep_executions_days"`
}

// MergeQueueConfig configures the serial integration queue.
type MergeQueueConfig struct {
	MaxRetries  int `yaml:"max_retries" mapstructure:"max_retries" json:"max_retries"`
	BaseDelayMS int `yaml:"base_delay_ms" mapstructure:"base_delay_ms" json:"base_delay_ms"`
	MaxDelayMS  int `yaml:"max_delay_ms" mapstructure:"max_delay_ms" json:"max_delay_ms"`
}

// ControlConfig configures the external HTTP control daemon.
type ControlConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled" json:"enabled"`
	Addr    string `yaml:"addr" mapstructure:"addr" json:"addr"`
}

// Config is undercity's top-level configuration.
type Config struct {
	MaxConcurrency int           `yaml:"max_concurrency" mapstructure:"max_concurrency" json:"max_concurrency"`
	Timeout        time.Duration `yaml:"timeout" mapstructure:"timeout" json:"timeout"`
	LogLevel       string        `yaml:"log_level" mapstructure:"log_level" json:"log_level"`
	LogDir         string        `yaml:"log_dir" mapstructure:"log_dir" json:"log_dir"`
	DryRun         bool          `yaml:"dry_run" mapstructure:"dry_run" json:"dry_run"`

	Console    ConsoleConfig    `yaml:"console" mapstructure:"console" json:"console"`
	Router     RouterConfig     `yaml:"router" mapstructure:"router" json:"router"`
	Budget     BudgetConfig     `yaml:"budget" mapstructure:"budget" json:"budget"`
	Learning   LearningConfig   `yaml:"learning" mapstructure:"learning" json:"learning"`
	MergeQueue MergeQueueConfig `yaml:"merge_queue" mapstructure:"merge_queue" json:"merge_queue"`
	Control    ControlConfig    `yaml:"control" mapstructure:"control" json:"control"`
}

// DefaultConfig returns a Config populated with sensible built-in defaults.
// These are overridden, in order, by the .undercityrc file, environment
// variables, and finally CLI flags (see Load and MergeWithFlags).
// LoadDefaultsYAML is a separate layer that Load does not apply.
func DefaultConfig() *Config {
	return &Config{
		MaxConcurrency: 3,
		Timeout:        10 * time.Hour,
		LogLevel:       "info",
		LogDir:         ".undercity/logs",
		DryRun:         false,
		Console: ConsoleConfig{
			EnableColor:    true,
			CompactMode:    false,
			ShowDurations:  true,
			ShowFileCounts: true,
		},
		Router: RouterConfig{
			LowModel:           "claude-haiku",
			MidModel:           "claude-sonnet",
			TopModel:           "claude-opus",
			MaxTier:            "top",
			EscalateAfterFails: 2,
			HistoryWindow:      20,
		},
		Budget: BudgetConfig{
			FiveHourTokenLimit: 0,
			WeeklyTokenLimit:   0,
			PauseThreshold:     0.9,
			BackoffBaseSeconds: 30,
		},
		Learning: LearningConfig{
			Enabled:            true,
			NoveltyThreshold:   0.15,
			ConfidenceBoost:    0.05,
			ConfidenceDecay:    0.1,
			MaxOverrideLog:     500,
			KeepExecutionsDays: 90,
		},
		MergeQueue: MergeQueueConfig{
			MaxRetries:  3,
			BaseDelayMS: 1000,
			MaxDelayMS:  30000,
		},
		Control: ControlConfig{
			Enabled: false,
			Addr:    "127.0.0.1:7331",
		},
	}
}

// Load builds the effective configuration by layering, in increasing
// precedence: built-in defaults, the .undercityrc file (resolved via
// viper, JSON by default but any format viper recognizes), and
// UNDERCITY_-prefixed environment variables. CLI flags are applied
// afterward via MergeWithFlags.
func Load(rcPath string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigType("json")
	v.SetEnvPrefix("UNDERCITY")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if rcPath != "" {
		v.SetConfigFile(rcPath)
	} else {
		if home, err := GetUndercityHome(); err == nil {
			v.AddConfigPath(home)
		}
		v.SetConfigName(".undercityrc")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read .undercityrc: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDefaultsYAML merges a plain YAML defaults file over cfg in place.
// A missing file is not an error. Load does not call it.
func LoadDefaultsYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read defaults yaml: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse defaults yaml: %w", err)
	}
	return nil
}

// MergeWithFlags applies CLI flag overrides, taking precedence over
// whatever Load produced. Nil pointers are left untouched.
func (c *Config) MergeWithFlags(maxConcurrency *int, logDir *string, dryRun *bool, logLevel *string) {
	if maxConcurrency != nil {
		c.MaxConcurrency = *maxConcurrency
	}
	if logDir != nil {
		c.LogDir = *logDir
	}
	if dryRun != nil {
		c.DryRun = *dryRun
	}
	if logLevel != nil {
		c.LogLevel = *logLevel
	}
}

// ErrInvalidConfig wraps every error Validate returns, so callers (the
// CLI's exit-code mapping in particular, spec.md §6's "2: configuration
// invalid") can distinguish a bad config from any other failure with
// errors.Is instead of string matching.
var ErrInvalidConfig = errors.New("invalid configuration")

// Validate checks the configuration for internally inconsistent values.
func (c *Config) Validate() error {
	if c.MaxConcurrency < 0 {
		return fmt.Errorf("%w: max_concurrency must be >= 0, got %d", ErrInvalidConfig, c.MaxConcurrency)
	}
	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("%w: invalid log_level %q", ErrInvalidConfig, c.LogLevel)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("%w: timeout must be >= 0, got %v", ErrInvalidConfig, c.Timeout)
	}
	if c.Learning.NoveltyThreshold < 0 || c.Learning.NoveltyThreshold > 1 {
		return fmt.Errorf("%w: learning.novelty_threshold must be in [0,1], got %v", ErrInvalidConfig, c.Learning.NoveltyThreshold)
	}
	if c.Learning.MaxOverrideLog <= 0 {
		return fmt.Errorf("%w: learning.max_override_log must be > 0, got %d", ErrInvalidConfig, c.Learning.MaxOverrideLog)
	}
	if c.MergeQueue.MaxRetries < 0 {
		return fmt.Errorf("%w: merge_queue.max_retries must be >= 0, got %d", ErrInvalidConfig, c.MergeQueue.MaxRetries)
	}
	if c.Budget.PauseThreshold <= 0 || c.Budget.PauseThreshold > 1 {
		return fmt.Errorf("%w: budget.pause_threshold must be in (0,1], got %v", ErrInvalidConfig, c.Budget.PauseThreshold)
	}
	return nil
}
