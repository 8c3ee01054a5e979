package config

// ExecutionConfig configures the sandbox.
type ExecutionConfig struct {
	// Interpreter run for every snippet
	Interpreter string `yaml:"interpreter" json:"interpreter,omitempty"`

	// Extra arguments placed before the snippet path, e.g. ["-I"]
	InterpreterArgs []string `yaml:"interpreter_args" json:"interpreter_args,omitempty"`

	// Default wall-clock timeout per execution
	DefaultTimeout string `yaml:"default_timeout" json:"default_timeout,omitempty"`

	// Time allowed to drain output pipes after a kill
	KillGrace string `yaml:"kill_grace" json:"kill_grace,omitempty"`

	// Directory for ephemeral snippet files (empty = system temp dir)
	TempDir string `yaml:"temp_dir" json:"temp_dir,omitempty"`

	// Working directory of the interpreter (empty = inherit)
	WorkingDirectory string `yaml:"working_directory" json:"working_directory,omitempty"`

	// Environment variables to pass
	AllowedEnvVars []string `yaml:"allowed_env_vars" json:"allowed_env_vars,omitempty"`
}
