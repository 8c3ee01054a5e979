package config

// SecurityConfig overrides the validator denylists. A nil list keeps the
// built-in default; an empty list disables that check.
type SecurityConfig struct {
	ForbiddenModules   []string `yaml:"forbidden_modules" json:"forbidden_modules,omitempty"`
	ForbiddenCallables []string `yaml:"forbidden_callables" json:"forbidden_callables,omitempty"`
}
