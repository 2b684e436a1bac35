package config

import "path/filepath"

const (
	defaultServerAddr        = "127.0.0.1:7420"
	defaultProvider          = "anthropic"
	defaultModel             = "claude-sonnet-4-20250514"
	defaultMaxTokens         = 8192
	defaultTemperature       = 0.7
	defaultMaxToolIterations = 20
	defaultMaxRestarts       = 3
	defaultRestartDelaySec   = 1
	defaultHealthCheckSec    = 10
	defaultPermTimeoutSec    = 60
	defaultPermPollMillis    = 500
)

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: defaultServerAddr,
		},
		Worker: WorkerConfig{
			Provider:                 defaultProvider,
			Model:                    defaultModel,
			MaxTokens:                defaultMaxTokens,
			Temperature:              defaultTemperature,
			MaxToolIterations:        defaultMaxToolIterations,
			MaxRestarts:              defaultMaxRestarts,
			RestartDelaySeconds:      defaultRestartDelaySec,
			HealthCheckSeconds:       defaultHealthCheckSec,
			PermissionTimeoutSeconds: defaultPermTimeoutSec,
			PermissionPollMillis:     defaultPermPollMillis,
		},
		Providers: ProvidersConfig{
			Anthropic: &ProviderConfig{APIKey: ""},
		},
		Logging: defaultLoggingConfig(),
	}
}

func defaultLoggingConfig() LoggingConfig {
	dir, err := ConfigDir()
	if err != nil {
		dir = ""
	}
	enabled := true
	return LoggingConfig{
		Enabled: &enabled,
		Level:   "info",
		Stdout:  true,
		File:    filepath.Join(dir, "logs", "mindloom.log"),
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = defaultServerAddr
	}
	if c.Worker.Provider == "" {
		c.Worker.Provider = defaultProvider
	}
	if c.Worker.Model == "" {
		c.Worker.Model = defaultModel
	}
	if c.Worker.MaxTokens <= 0 {
		c.Worker.MaxTokens = defaultMaxTokens
	}
	if c.Worker.Temperature == 0 {
		c.Worker.Temperature = defaultTemperature
	}
	if c.Worker.MaxToolIterations <= 0 {
		c.Worker.MaxToolIterations = defaultMaxToolIterations
	}
	if c.Worker.MaxRestarts <= 0 {
		c.Worker.MaxRestarts = defaultMaxRestarts
	}
	if c.Worker.RestartDelaySeconds <= 0 {
		c.Worker.RestartDelaySeconds = defaultRestartDelaySec
	}
	if c.Worker.HealthCheckSeconds <= 0 {
		c.Worker.HealthCheckSeconds = defaultHealthCheckSec
	}
	if c.Worker.PermissionTimeoutSeconds <= 0 {
		c.Worker.PermissionTimeoutSeconds = defaultPermTimeoutSec
	}
	if c.Worker.PermissionPollMillis <= 0 {
		c.Worker.PermissionPollMillis = defaultPermPollMillis
	}

	def := defaultLoggingConfig()
	if c.Logging == (LoggingConfig{}) {
		c.Logging = def
		return
	}

	hasAny := c.Logging.Level != "" || c.Logging.File != "" || c.Logging.Stdout
	if c.Logging.Enabled == nil && hasAny {
		enabled := true
		c.Logging.Enabled = &enabled
	}
	if c.Logging.Level == "" {
		c.Logging.Level = def.Level
	}
	if c.Logging.File == "" {
		c.Logging.File = def.File
	}
	if !c.Logging.Stdout && c.Logging.File == "" {
		c.Logging.Stdout = def.Stdout
	}
	if c.Logging.Enabled == nil {
		c.Logging.Enabled = def.Enabled
	}
}
