package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/nodeweave/nodeweave/pkg/capability"
)

// RuntimeConfig is the weave runtime's own settings file, loaded from YAML.
type RuntimeConfig struct {
	// ComponentsDir is watched for .wasm component binaries.
	ComponentsDir string `yaml:"components_dir"`

	// StorePath is the SQLite database file for grants and run history.
	StorePath string `yaml:"store_path"`

	// NodeTimeout bounds each sandboxed node execution, as a duration
	// string such as "30s".
	NodeTimeout string `yaml:"node_timeout"`

	// CacheCapacity bounds the compiled module cache.
	CacheCapacity int `yaml:"cache_capacity" validate:"gte=0"`

	// PoolCapacity bounds the per-component instance pool.
	PoolCapacity int `yaml:"pool_capacity" validate:"gte=0"`

	// LogLevel sets the minimum log level.
	LogLevel string `yaml:"log_level" validate:"omitempty,oneof=trace debug info warn error fatal"`

	// LogFormat selects console or json output.
	LogFormat string `yaml:"log_format" validate:"omitempty,oneof=console json"`

	// MetricsAddr, when set, serves Prometheus metrics on this address.
	MetricsAddr string `yaml:"metrics_addr"`

	// TraceExporter selects the trace exporter (otlp, stdout, none).
	TraceExporter string `yaml:"trace_exporter" validate:"omitempty,oneof=otlp stdout none"`

	// TraceEndpoint is the OTLP endpoint when trace_exporter is otlp.
	TraceEndpoint string `yaml:"trace_endpoint"`
}

// DefaultRuntimeConfig returns the defaults used when no settings file
// exists.
func DefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		ComponentsDir: "components",
		StorePath:     "nodeweave.db",
		NodeTimeout:   "30s",
		LogLevel:      "info",
		LogFormat:     "console",
		TraceExporter: "none",
	}
}

// NodeTimeoutDuration parses the node timeout, falling back to 30s on an
// empty or malformed value.
func (c RuntimeConfig) NodeTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.NodeTimeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// LoadRuntimeConfig reads and validates a YAML settings file, applying
// defaults for anything unset.
func LoadRuntimeConfig(path string) (RuntimeConfig, error) {
	cfg := DefaultRuntimeConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// grantFile is the YAML shape of a standalone grant file: node ids mapped
// to their approved capability sets.
type grantFile struct {
	Grants map[string]GrantDef `yaml:"grants" validate:"required,min=1,dive"`
}

// LoadGrantsFile reads grant approvals from a YAML file. Each entry becomes
// a grant timestamped at load time.
func LoadGrantsFile(path string) ([]*capability.Grant, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read grants file: %w", err)
	}

	var gf grantFile
	if err := yaml.Unmarshal(data, &gf); err != nil {
		return nil, fmt.Errorf("failed to parse grants file: %w", err)
	}
	if err := validator.New().Struct(gf); err != nil {
		return nil, fmt.Errorf("invalid grants file: %w", err)
	}

	grants := make([]*capability.Grant, 0, len(gf.Grants))
	for nodeID, gd := range gf.Grants {
		set, err := gd.toSet()
		if err != nil {
			return nil, fmt.Errorf("grant for node %q: %w", nodeID, err)
		}
		if err := set.Validate(); err != nil {
			return nil, fmt.Errorf("grant for node %q: %w", nodeID, err)
		}
		grant := capability.NewGrant(nodeID, set)
		if gd.Scope != "" {
			grant.Scope = gd.Scope
		}
		grants = append(grants, grant)
	}
	return grants, nil
}
