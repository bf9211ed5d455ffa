// Package config handles configuration loading from TOML files and environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is the root configuration structure.
type Config struct {
	DefaultProvider string                    `toml:"default_provider"`
	Providers       map[string]ProviderConfig `toml:"providers"`
	MCP             MCPConfig                 `toml:"mcp"`
	Cache           CacheConfig               `toml:"cache"`
	Agent           AgentConfig               `toml:"agent"`
	Quota           QuotaConfig               `toml:"quota"`
	Safety          SafetyConfig              `toml:"safety"`
}

// AgentConfig holds tunables for the agent loop and conversation management.
type AgentConfig struct {
	// MaxTokens bounds the context window the conversation is allowed to
	// grow to before pruning kicks in.
	MaxTokens int `toml:"max_tokens"`
	// PruneThreshold is the fraction of MaxTokens that triggers pruning
	// (0 < threshold <= 1).
	PruneThreshold float64 `toml:"prune_threshold"`
	// MaxToolRounds bounds how many tool-call rounds a single turn may run.
	MaxToolRounds int `toml:"max_tool_rounds"`
	// MaxDepth bounds subagent recursion (spec.md §4.6: root is depth 0).
	MaxDepth int `toml:"max_depth"`
	// MinRetainTurns is the number of most recent tool-call/result groups
	// pruning must never touch, regardless of budget pressure.
	MinRetainTurns int `toml:"min_retain_turns"`
	// WarningThreshold is the utilization fraction (0 < threshold <= 1) at
	// which the chat REPL prints a context-budget warning.
	WarningThreshold float64 `toml:"warning_threshold"`
	// AutoSummaryThreshold is the utilization fraction (0 < threshold <= 1)
	// at which run mode (no operator to prompt) auto-prunes on its own.
	AutoSummaryThreshold float64 `toml:"auto_summary_threshold"`
	// SummaryModel names the model used for the auto-summarization call
	// itself, separate from the model answering the conversation. Empty
	// uses the conversation's own model.
	SummaryModel string `toml:"summary_model"`
}

// MaxTokensOrDefault returns the configured context ceiling or 128000 if unset.
func (a AgentConfig) MaxTokensOrDefault() int {
	if a.MaxTokens <= 0 {
		return 128000
	}
	return a.MaxTokens
}

// PruneThresholdOrDefault returns the configured prune trigger or 0.8 if unset.
func (a AgentConfig) PruneThresholdOrDefault() float64 {
	if a.PruneThreshold <= 0 || a.PruneThreshold > 1 {
		return 0.8
	}
	return a.PruneThreshold
}

// MaxToolRoundsOrDefault returns the configured round cap or 50 if unset.
func (a AgentConfig) MaxToolRoundsOrDefault() int {
	if a.MaxToolRounds <= 0 {
		return 50
	}
	return a.MaxToolRounds
}

// MaxDepthOrDefault returns the configured recursion depth or 1 if unset
// (one level of subagent, no grandchildren, per spec.md §4.6).
func (a AgentConfig) MaxDepthOrDefault() int {
	if a.MaxDepth <= 0 {
		return 1
	}
	return a.MaxDepth
}

// MinRetainTurnsOrDefault returns the configured retain-group floor or 4 if unset.
func (a AgentConfig) MinRetainTurnsOrDefault() int {
	if a.MinRetainTurns <= 0 {
		return 4
	}
	return a.MinRetainTurns
}

// WarningThresholdOrDefault returns the configured warning fraction or 0.75 if unset.
func (a AgentConfig) WarningThresholdOrDefault() float64 {
	if a.WarningThreshold <= 0 || a.WarningThreshold > 1 {
		return 0.75
	}
	return a.WarningThreshold
}

// AutoSummaryThresholdOrDefault returns the configured auto-summary fraction or 0.9 if unset.
func (a AgentConfig) AutoSummaryThresholdOrDefault() float64 {
	if a.AutoSummaryThreshold <= 0 || a.AutoSummaryThreshold > 1 {
		return 0.9
	}
	return a.AutoSummaryThreshold
}

// QuotaConfig bounds total resource consumption for one root agent run
// (spec.md §4.6/§5).
type QuotaConfig struct {
	MaxExecutions  int `toml:"max_executions"`
	MaxTokens      int `toml:"max_tokens"`
	MaxDurationSec int `toml:"max_duration_seconds"`
}

// SafetyConfig selects the default command-execution policy (spec.md §6:
// "/safe", "/yolo"). Mode is one of "interactive", "restricted_autonomous",
// "full_autonomous".
type SafetyConfig struct {
	Mode string `toml:"mode"`
}

// ModeOrDefault returns the configured execution mode or "interactive" if unset.
func (s SafetyConfig) ModeOrDefault() string {
	if s.Mode == "" {
		return "interactive"
	}
	return s.Mode
}

// CacheConfig holds web cache settings.
type CacheConfig struct {
	TTLHours int `toml:"ttl_hours"`
}

// CacheTTLOrDefault returns the configured TTL or 24 hours if unset.
func (c CacheConfig) CacheTTLOrDefault() int {
	if c.TTLHours <= 0 {
		return 24
	}
	return c.TTLHours
}

// ProviderConfig holds LLM provider settings.
type ProviderConfig struct {
	// Kind selects the wire protocol: "ollama" (default), "vllm", "anthropic", "zen", or "mock".
	Kind        string  `toml:"kind"`
	Endpoint    string  `toml:"endpoint"`
	Model       string  `toml:"model"`
	Temperature float64 `toml:"temperature"`
}

// KindOrDefault returns the configured provider kind or "ollama" if unset.
func (p ProviderConfig) KindOrDefault() string {
	if p.Kind == "" {
		return "ollama"
	}
	return p.Kind
}

// MCPConfig holds MCP proxy settings.
type MCPConfig struct {
	Upstream string `toml:"upstream"`
}

// Load reads configuration from a TOML file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Providers: make(map[string]ProviderConfig),
	}

	// Config file is required
	if path == "" {
		return nil, fmt.Errorf("config path is required")
	}

	// File must exist
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	// Load from file
	_, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate returns an error if the configuration is invalid.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Providers) == 0 {
		errs = append(errs, errors.New("providers: at least one provider must be configured"))
	} else {
		for name, providerCfg := range c.Providers {
			errs = append(errs, validateProviderConfig(name, providerCfg)...)
		}
	}

	// Validate default provider if specified
	if c.DefaultProvider != "" {
		if _, ok := c.Providers[c.DefaultProvider]; !ok {
			errs = append(errs, fmt.Errorf("default_provider=%q does not exist in providers", c.DefaultProvider))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

func validateProviderConfig(name string, cfg ProviderConfig) []error {
	var errs []error
	if cfg.Endpoint == "" {
		errs = append(errs, fmt.Errorf("providers.%s.endpoint is required", name))
	} else if err := validateEndpoint(cfg.Endpoint); err != nil {
		errs = append(errs, fmt.Errorf("providers.%s.endpoint=%q is invalid: %v", name, cfg.Endpoint, err))
	}

	if cfg.Model == "" {
		errs = append(errs, fmt.Errorf("providers.%s.model is required", name))
	}

	if cfg.Temperature < 0.0 || cfg.Temperature > 2.0 {
		errs = append(errs, fmt.Errorf("providers.%s.temperature=%v must be between 0.0 and 2.0", name, cfg.Temperature))
	}

	return errs
}

func validateEndpoint(value string) error {
	parsed, err := url.Parse(value)
	if err != nil {
		return err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return errors.New("missing scheme or host")
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	for _, setter := range []struct {
		env   string
		apply func(string)
	}{
		{"XZATOMA_MCP_ENDPOINT", func(v string) {
			if v != "" {
				cfg.MCP.Upstream = v
			}
		}},
		{"XZATOMA_SAFETY_MODE", func(v string) {
			if v != "" {
				cfg.Safety.Mode = v
			}
		}},
	} {
		setter.apply(os.Getenv(setter.env))
	}
}

// DataDir returns the path to the xzatoma data directory (~/.config/xzatoma).
func DataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "xzatoma"), nil
}

// EnsureDataDir creates the data directory if it doesn't exist.
func EnsureDataDir() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", err
	}
	return dir, nil
}
