package sandbox

import (
	"time"
)

// Config is the static configuration of an Executor.
type Config struct {
	// Interpreter is the executable that runs a snippet file.
	Interpreter string `json:"interpreter"`

	// InterpreterArgs go between the interpreter and the snippet path.
	InterpreterArgs []string `json:"interpreter_args,omitempty"`

	// DefaultTimeout is the wall-clock deadline when no override is given.
	DefaultTimeout time.Duration `json:"default_timeout"`

	// TempDir holds ephemeral snippet files. Empty means os.TempDir().
	TempDir string `json:"temp_dir,omitempty"`

	// WorkingDirectory is the child's cwd. Empty inherits ours.
	WorkingDirectory string `json:"working_directory,omitempty"`

	// AllowedEnvironment lists variables passed through to the child.
	// Everything else is dropped.
	AllowedEnvironment []string `json:"allowed_environment"`

	// KillGrace bounds how long Wait keeps draining output pipes after the
	// deadline fires or the child exits.
	KillGrace time.Duration `json:"kill_grace"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interpreter:        "python3",
		DefaultTimeout:     5 * time.Second,
		AllowedEnvironment: []string{"PATH", "HOME", "LANG", "LC_ALL", "SYSTEMROOT"},
		KillGrace:          time.Second,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Interpreter == "" {
		c.Interpreter = def.Interpreter
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = def.DefaultTimeout
	}
	if c.KillGrace <= 0 {
		c.KillGrace = def.KillGrace
	}
	return c
}
