package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"codeguard/internal/logging"
	"codeguard/internal/sandbox"
	"codeguard/internal/security"

	"gopkg.in/yaml.v3"
)

// Config holds all codeguard configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Sandbox execution settings
	Execution ExecutionConfig `yaml:"execution"`

	// Static validator denylists
	Security SecurityConfig `yaml:"security"`

	// Execution history
	Store StoreConfig `yaml:"store"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "codeguard",
		Version: "0.3.0",

		Execution: ExecutionConfig{
			Interpreter:    "python3",
			DefaultTimeout: "5s",
			KillGrace:      "1s",
			AllowedEnvVars: []string{"PATH", "HOME", "LANG", "LC_ALL", "SYSTEMROOT"},
		},

		Security: SecurityConfig{
			ForbiddenModules:   append([]string(nil), security.DefaultForbiddenModules...),
			ForbiddenCallables: append([]string(nil), security.DefaultForbiddenCallables...),
		},

		Store: StoreConfig{
			Enabled:      false,
			DatabasePath: "data/codeguard.db",
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return defaults if config file doesn't exist
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Override with environment variables
	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if python := os.Getenv("CODEGUARD_PYTHON"); python != "" {
		c.Execution.Interpreter = python
	}
	if timeout := os.Getenv("CODEGUARD_TIMEOUT"); timeout != "" {
		c.Execution.DefaultTimeout = timeout
	}
	if dir := os.Getenv("CODEGUARD_TEMP_DIR"); dir != "" {
		c.Execution.TempDir = dir
	}

	// Naming a database turns history on.
	if path := os.Getenv("CODEGUARD_DB"); path != "" {
		c.Store.DatabasePath = path
		c.Store.Enabled = true
	}

	if level := os.Getenv("CODEGUARD_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}

// GetExecutionTimeout returns the default execution timeout as a duration.
func (c *Config) GetExecutionTimeout() time.Duration {
	d, err := time.ParseDuration(c.Execution.DefaultTimeout)
	if err != nil || d <= 0 {
		return 5 * time.Second
	}
	return d
}

// GetKillGrace returns how long to wait for output pipes after a kill.
func (c *Config) GetKillGrace() time.Duration {
	d, err := time.ParseDuration(c.Execution.KillGrace)
	if err != nil || d <= 0 {
		return time.Second
	}
	return d
}

// ValidLogLevels lists the accepted logging levels.
var ValidLogLevels = []string{"debug", "info", "warn", "error"}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Execution.Interpreter == "" {
		return fmt.Errorf("execution.interpreter must not be empty")
	}

	if c.Execution.DefaultTimeout != "" {
		d, err := time.ParseDuration(c.Execution.DefaultTimeout)
		if err != nil {
			return fmt.Errorf("invalid execution.default_timeout %q: %w", c.Execution.DefaultTimeout, err)
		}
		if d <= 0 {
			return fmt.Errorf("execution.default_timeout must be positive, got %s", d)
		}
	}

	if c.Execution.KillGrace != "" {
		if _, err := time.ParseDuration(c.Execution.KillGrace); err != nil {
			return fmt.Errorf("invalid execution.kill_grace %q: %w", c.Execution.KillGrace, err)
		}
	}

	if c.Store.Enabled && c.Store.DatabasePath == "" {
		return fmt.Errorf("store.database_path is required when the store is enabled")
	}

	validLevel := false
	for _, l := range ValidLogLevels {
		if c.Logging.Level == l {
			validLevel = true
			break
		}
	}
	if !validLevel {
		return fmt.Errorf("invalid logging level: %s (valid: %v)", c.Logging.Level, ValidLogLevels)
	}

	return nil
}

// SandboxConfig translates the execution section for sandbox.New.
func (c *Config) SandboxConfig() sandbox.Config {
	return sandbox.Config{
		Interpreter:        c.Execution.Interpreter,
		InterpreterArgs:    append([]string(nil), c.Execution.InterpreterArgs...),
		DefaultTimeout:     c.GetExecutionTimeout(),
		TempDir:            c.Execution.TempDir,
		WorkingDirectory:   c.Execution.WorkingDirectory,
		AllowedEnvironment: append([]string(nil), c.Execution.AllowedEnvVars...),
		KillGrace:          c.GetKillGrace(),
	}
}

// ValidatorOptions translates the security section for security.NewValidator.
// Unset lists keep the built-in denylists. Parses are confirmed by the same
// interpreter that runs snippets.
func (c *Config) ValidatorOptions() []security.Option {
	opts := []security.Option{security.WithSyntaxCheck(c.Execution.Interpreter)}
	if c.Security.ForbiddenModules != nil {
		opts = append(opts, security.WithForbiddenModules(c.Security.ForbiddenModules))
	}
	if c.Security.ForbiddenCallables != nil {
		opts = append(opts, security.WithForbiddenCallables(c.Security.ForbiddenCallables))
	}
	return opts
}

// LoggingSettings translates the logging section for logging.Initialize.
func (c *Config) LoggingSettings() logging.Settings {
	return logging.Settings{
		Level:      c.Logging.Level,
		Format:     c.Logging.Format,
		File:       c.Logging.File,
		Categories: c.Logging.Categories,
	}
}
