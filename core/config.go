package core

import (
	"fmt"
	"strings"
	"time"
)

type StorageDriver string

const (
	StorageDriverMemory StorageDriver = "memory"
	StorageDriverFile   StorageDriver = "file"
	StorageDriverSQL    StorageDriver = "sql"
)

func (d StorageDriver) IsValid() bool {
	switch d {
	case StorageDriverMemory, StorageDriverFile, StorageDriverSQL:
		return true
	}
	return false
}

type StorageConfig struct {
	Driver StorageDriver `koanf:"driver" mapstructure:"driver"`
	Path   string        `koanf:"path" mapstructure:"path"`
	// SaveDelay is the debounce window for persistence writes. Mutations
	// inside one window coalesce into a single write.
	SaveDelay         time.Duration `koanf:"save_delay" mapstructure:"save_delay"`
	ResetStatesOnLoad bool          `koanf:"reset_states_on_load" mapstructure:"reset_states_on_load"`
	DSN               string        `koanf:"dsn" mapstructure:"dsn"`
	Dialect           string        `koanf:"dialect" mapstructure:"dialect"`
}

type ThrottleConfig struct {
	Enabled        bool          `koanf:"enabled" mapstructure:"enabled"`
	Window         time.Duration `koanf:"window" mapstructure:"window"`
	MaxAttempts    int           `koanf:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoff time.Duration `koanf:"initial_backoff" mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `koanf:"max_backoff" mapstructure:"max_backoff"`
	// IncludeUserFlows extends throttling to user initiated flows; by default
	// only automatic sources such as discovery are throttled.
	IncludeUserFlows bool `koanf:"include_user_flows" mapstructure:"include_user_flows"`
}

type FlowsConfig struct {
	Throttle ThrottleConfig `koanf:"throttle" mapstructure:"throttle"`
}

type SecretsConfig struct {
	Enabled     bool              `koanf:"enabled" mapstructure:"enabled"`
	ActiveKeyID string            `koanf:"active_key_id" mapstructure:"active_key_id"`
	Keys        map[string]string `koanf:"keys" mapstructure:"keys"`
}

type DiscoveryConfig struct {
	ClaimLease  time.Duration `koanf:"claim_lease" mapstructure:"claim_lease"`
	MaxAttempts int           `koanf:"max_attempts" mapstructure:"max_attempts"`
	BurstLimit  int           `koanf:"burst_limit" mapstructure:"burst_limit"`
	BurstWindow time.Duration `koanf:"burst_window" mapstructure:"burst_window"`
}

type Config struct {
	ServiceName string          `koanf:"service_name" mapstructure:"service_name"`
	Storage     StorageConfig   `koanf:"storage" mapstructure:"storage"`
	Flows       FlowsConfig     `koanf:"flows" mapstructure:"flows"`
	Secrets     SecretsConfig   `koanf:"secrets" mapstructure:"secrets"`
	Discovery   DiscoveryConfig `koanf:"discovery" mapstructure:"discovery"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "integrations",
		Storage: StorageConfig{
			Driver:    StorageDriverFile,
			Path:      ".integration_entries.json",
			SaveDelay: time.Second,
		},
		Discovery: DiscoveryConfig{
			ClaimLease:  30 * time.Second,
			MaxAttempts: 8,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.Storage.Driver != "" && !c.Storage.Driver.IsValid() {
		return fmt.Errorf("core: invalid storage driver: %q", c.Storage.Driver)
	}
	if c.Storage.Driver == StorageDriverFile && strings.TrimSpace(c.Storage.Path) == "" {
		return fmt.Errorf("core: storage path is required for the file driver")
	}
	if c.Storage.Driver == StorageDriverSQL && strings.TrimSpace(c.Storage.DSN) == "" {
		return fmt.Errorf("core: storage dsn is required for the sql driver")
	}
	if c.Storage.SaveDelay < 0 {
		return fmt.Errorf("core: storage save_delay must not be negative")
	}
	if c.Secrets.Enabled {
		if strings.TrimSpace(c.Secrets.ActiveKeyID) == "" {
			return fmt.Errorf("core: secrets active_key_id is required when secrets are enabled")
		}
		if len(c.Secrets.Keys) == 0 {
			return fmt.Errorf("core: secrets keys are required when secrets are enabled")
		}
	}
	if c.Flows.Throttle.Enabled {
		if c.Flows.Throttle.Window < 0 || c.Flows.Throttle.InitialBackoff < 0 || c.Flows.Throttle.MaxBackoff < 0 {
			return fmt.Errorf("core: throttle durations must not be negative")
		}
	}
	return nil
}
