// Package config handles configuration loading and saving.
package config

import (
	"errors"
	"os"
	"strings"
	"time"
)

const configFileName = "config.yaml"

// configDirOverride redirects the config directory, used by tests and the
// --config-dir flag.
var configDirOverride string

// SetConfigDir overrides the config directory for this process.
func SetConfigDir(dir string) {
	configDirOverride = strings.TrimSpace(dir)
}

// Config is the root configuration structure.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Worker    WorkerConfig    `yaml:"worker"`
	Providers ProvidersConfig `yaml:"providers"`
	Logging   LoggingConfig   `yaml:"logging"`
	Workspace string          `yaml:"workspace,omitempty"` // defaults to ~/.mindloom/workspace
}

// ServerConfig contains the HTTP API configuration.
type ServerConfig struct {
	Addr string `yaml:"addr,omitempty"` // defaults to 127.0.0.1:7420
}

// WorkerConfig contains worker process policy.
type WorkerConfig struct {
	Provider                 string  `yaml:"provider,omitempty"`                 // anthropic, openai
	Model                    string  `yaml:"model,omitempty"`                    // provider model name
	MaxTokens                int     `yaml:"maxTokens,omitempty"`                // defaults to 8192
	Temperature              float64 `yaml:"temperature,omitempty"`              // defaults to 0.7
	MaxToolIterations        int     `yaml:"maxToolIterations,omitempty"`        // defaults to 20
	MaxRestarts              int     `yaml:"maxRestarts,omitempty"`              // defaults to 3
	RestartDelaySeconds      int     `yaml:"restartDelaySeconds,omitempty"`      // defaults to 1
	HealthCheckSeconds       int     `yaml:"healthCheckSeconds,omitempty"`       // defaults to 10
	PermissionTimeoutSeconds int     `yaml:"permissionTimeoutSeconds,omitempty"` // defaults to 60
	PermissionPollMillis     int     `yaml:"permissionPollMillis,omitempty"`     // defaults to 500
}

// ProvidersConfig contains provider API configurations.
type ProvidersConfig struct {
	Anthropic *ProviderConfig `yaml:"anthropic,omitempty"`
	OpenAI    *ProviderConfig `yaml:"openai,omitempty"`
}

// ProviderConfig contains API credentials for a provider.
type ProviderConfig struct {
	APIKey  string `yaml:"apiKey"`
	APIBase string `yaml:"apiBase,omitempty"` // optional custom base URL
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Enabled *bool  `yaml:"enabled,omitempty"`
	Level   string `yaml:"level,omitempty"`
	Stdout  bool   `yaml:"stdout,omitempty"`
	File    string `yaml:"file,omitempty"`
}

// GetProvider returns the configured worker provider.
func (c *Config) GetProvider() string {
	if c == nil {
		return ""
	}
	return strings.TrimSpace(c.Worker.Provider)
}

// GetModel returns the configured worker model name.
func (c *Config) GetModel() string {
	if c == nil {
		return ""
	}
	return strings.TrimSpace(c.Worker.Model)
}

// GetAPIKey returns the API key for the configured provider (env overrides config).
func (c *Config) GetAPIKey() (string, error) {
	providerCfg, envKey, _, err := c.providerConfigEnv()
	if err != nil {
		return "", err
	}
	if envKey != "" {
		if v := strings.TrimSpace(os.Getenv(envKey)); v != "" {
			return v, nil
		}
	}
	if providerCfg == nil || strings.TrimSpace(providerCfg.APIKey) == "" {
		return "", errors.New(c.GetProvider() + " API key not configured")
	}
	return providerCfg.APIKey, nil
}

// GetAPIBase returns the API base URL for the configured provider (env overrides config).
func (c *Config) GetAPIBase() string {
	providerCfg, _, envBase, err := c.providerConfigEnv()
	if err != nil {
		return ""
	}
	if envBase != "" {
		if v := strings.TrimSpace(os.Getenv(envBase)); v != "" {
			return v
		}
	}
	if providerCfg != nil {
		return strings.TrimSpace(providerCfg.APIBase)
	}
	return ""
}

func (c *Config) providerConfigEnv() (*ProviderConfig, string, string, error) {
	switch c.GetProvider() {
	case "anthropic":
		return c.Providers.Anthropic, "ANTHROPIC_API_KEY", "ANTHROPIC_API_BASE", nil
	case "openai":
		return c.Providers.OpenAI, "OPENAI_API_KEY", "OPENAI_API_BASE", nil
	default:
		return nil, "", "", errors.New("unknown provider: " + c.GetProvider())
	}
}

// RestartDelay returns the worker restart delay as a duration.
func (c *Config) RestartDelay() time.Duration {
	return time.Duration(c.Worker.RestartDelaySeconds) * time.Second
}

// HealthCheckInterval returns the worker liveness probe interval.
func (c *Config) HealthCheckInterval() time.Duration {
	return time.Duration(c.Worker.HealthCheckSeconds) * time.Second
}

// PermissionTimeout returns the permission approval timeout.
func (c *Config) PermissionTimeout() time.Duration {
	return time.Duration(c.Worker.PermissionTimeoutSeconds) * time.Second
}

// PermissionPoll returns the permission poll interval.
func (c *Config) PermissionPoll() time.Duration {
	return time.Duration(c.Worker.PermissionPollMillis) * time.Millisecond
}
