package config

// StoreConfig configures the execution history database.
type StoreConfig struct {
	Enabled      bool   `yaml:"enabled" json:"enabled"`
	DatabasePath string `yaml:"database_path" json:"database_path,omitempty"`
}
