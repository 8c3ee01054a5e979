package config

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level      string          `yaml:"level" json:"level,omitempty"`           // debug, info, warn, error
	Format     string          `yaml:"format" json:"format,omitempty"`         // json, console
	File       string          `yaml:"file" json:"file,omitempty"`             // empty = stderr
	AuditFile  string          `yaml:"audit_file" json:"audit_file,omitempty"` // JSON-lines execution audit, empty = off
	Categories map[string]bool `yaml:"categories" json:"categories,omitempty"` // Per-category toggles
}

