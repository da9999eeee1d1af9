package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nodeweave/nodeweave/pkg/capability"
	"github.com/nodeweave/nodeweave/pkg/component"
	"github.com/nodeweave/nodeweave/pkg/config"
	"github.com/nodeweave/nodeweave/pkg/engine"
	"github.com/nodeweave/nodeweave/pkg/graph"
	"github.com/nodeweave/nodeweave/pkg/telemetry"
)

// loadRuntimeConfig resolves the runtime configuration from --config or
// defaults, with --verbose forcing debug logging.
func loadRuntimeConfig() (config.RuntimeConfig, error) {
	cfg := config.DefaultRuntimeConfig()
	if configPath != "" {
		loaded, err := config.LoadRuntimeConfig(configPath)
		if err != nil {
			return cfg, fmt.Errorf("load runtime config: %w", err)
		}
		cfg = loaded
	}
	if verbose {
		cfg.LogLevel = "debug"
	}
	return cfg, nil
}

// newTelemetry builds the logger and metrics registry from runtime config.
func newTelemetry(cfg config.RuntimeConfig) (*telemetry.Logger, *telemetry.Metrics, error) {
	logger, err := telemetry.NewLogger(telemetry.LoggingConfig{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create logger: %w", err)
	}

	metrics, err := telemetry.NewMetrics(telemetry.MetricsConfig{
		Enabled:       cfg.MetricsAddr != "",
		ListenAddress: cfg.MetricsAddr,
		Namespace:     "nodeweave",
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create metrics: %w", err)
	}

	return logger, metrics, nil
}

// newComponentManager builds the sandbox manager sized from runtime config.
func newComponentManager(ctx context.Context, cfg config.RuntimeConfig, logger *telemetry.Logger, metrics *telemetry.Metrics) (*component.Manager, error) {
	return component.NewManager(ctx, component.ManagerOptions{
		Logger:        logger,
		Metrics:       metrics,
		CacheCapacity: cfg.CacheCapacity,
		PoolCapacity:  cfg.PoolCapacity,
	})
}

// loadComponentsDir loads every .wasm file in dir into the manager. A
// missing directory is not an error; graphs of builtin nodes need none.
func loadComponentsDir(ctx context.Context, mgr *component.Manager, dir string, logger *telemetry.Logger) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Debugf("components directory %s does not exist, skipping", dir)
			return nil
		}
		return fmt.Errorf("read components directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".wasm") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read component %s: %w", path, err)
		}
		id, err := mgr.LoadFromSource(ctx, data, path)
		if err != nil {
			return fmt.Errorf("load component %s: %w", path, err)
		}
		logger.WithComponentID(id).Infof("loaded component from %s", path)
	}

	return nil
}

// resolveGraphComponents rewrites sandboxed nodes' component references
// (name or name@version) to loaded component IDs.
func resolveGraphComponents(g *graph.NodeGraph, mgr *component.Manager) error {
	for _, n := range g.Nodes {
		if n.Kind != graph.KindSandboxed {
			continue
		}
		id, err := mgr.Resolve(n.ComponentID)
		if err != nil {
			return fmt.Errorf("node %s: %w", n.ID, err)
		}
		n.ComponentID = id
	}
	return nil
}

// grantResolver indexes grants by node ID for the engine. When a node has
// several grants the last one wins.
func grantResolver(grants []*capability.Grant) engine.GrantResolver {
	byNode := make(map[string]*capability.Grant, len(grants))
	for _, g := range grants {
		byNode[g.NodeID] = g
	}
	return func(nodeID string) *capability.Grant {
		return byNode[nodeID]
	}
}
