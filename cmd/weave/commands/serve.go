package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/nodeweave/nodeweave/pkg/component"
	"github.com/nodeweave/nodeweave/pkg/config"
	"github.com/nodeweave/nodeweave/pkg/continuous"
	"github.com/nodeweave/nodeweave/pkg/engine"
	"github.com/nodeweave/nodeweave/pkg/telemetry"
)

func newServeCommand() *cobra.Command {
	var (
		grantsFile string
		skipPolicy bool
	)

	cmd := &cobra.Command{
		Use:   "serve <graph.cue>...",
		Short: "Run a graph's continuous nodes until interrupted",
		Long: `Run a graph as a long-lived service.

The graph executes once, then every continuous node gets a background
worker that re-executes it at its configured interval. The components
directory is watched; dropping in a new .wasm hot-loads it. Output and
error events stream to the log until the process is interrupted.`,
		Example: `  # Serve a graph with a 5s polling node
  weave serve pipeline.cue --grants grants.yaml`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := loadRuntimeConfig()
			if err != nil {
				return err
			}
			logger, metrics, err := newTelemetry(cfg)
			if err != nil {
				return err
			}

			var tracer *telemetry.Tracer
			if cfg.TraceExporter != "" && cfg.TraceExporter != "none" {
				tracer, err = telemetry.NewTracer(telemetry.TracingConfig{
					Enabled:  true,
					Exporter: cfg.TraceExporter,
					Endpoint: cfg.TraceEndpoint,
				}, "nodeweave", cmd.Root().Version, "production")
				if err != nil {
					return err
				}
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					if err := tracer.Shutdown(shutdownCtx); err != nil {
						log.Warn().Err(err).Msg("Tracer shutdown failed")
					}
				}()
			}

			parser := config.NewCUEParser()
			parsed, err := parser.Parse(args...)
			if err != nil {
				return err
			}
			if len(parsed.Errors) > 0 {
				for _, ve := range parsed.Errors {
					fmt.Println(ve.String())
				}
				return fmt.Errorf("%d validation error(s)", len(parsed.Errors))
			}

			grants := parsed.Grants
			if grantsFile != "" {
				extra, err := config.LoadGrantsFile(grantsFile)
				if err != nil {
					return err
				}
				grants = append(grants, extra...)
			}
			if !skipPolicy {
				if err := checkGrantPolicy(ctx, logger.Zerolog(), grants); err != nil {
					return err
				}
			}

			mgr, err := newComponentManager(ctx, cfg, logger, metrics)
			if err != nil {
				return err
			}
			defer mgr.Close(context.Background())

			if err := loadComponentsDir(ctx, mgr, cfg.ComponentsDir, logger); err != nil {
				return err
			}
			if err := resolveGraphComponents(parsed.Graph, mgr); err != nil {
				return err
			}

			// Hot-reload components dropped into the directory
			watcher, err := component.NewWatcher(mgr, cfg.ComponentsDir, logger)
			if err != nil {
				log.Warn().Err(err).Msg("Component watcher unavailable")
			} else {
				go func() {
					if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
						log.Warn().Err(err).Msg("Component watcher stopped")
					}
				}()
			}

			if cfg.MetricsAddr != "" {
				go func() {
					if err := metrics.Serve(); err != nil {
						log.Warn().Err(err).Msg("Metrics endpoint stopped")
					}
				}()
			}

			eng := engine.New(mgr, engine.NewBuiltinRegistry(), grantResolver(grants), engine.Options{
				NodeTimeout: cfg.NodeTimeoutDuration(),
				Logger:      logger.Zerolog(),
				Metrics:     metrics,
			})

			// Initial full run populates downstream inputs before workers start
			if err := eng.Run(ctx, parsed.Graph); err != nil {
				return err
			}

			cm := continuous.NewManager(eng, parsed.Graph, continuous.Options{
				Logger:  logger,
				Metrics: metrics,
			})
			defer cm.Shutdown()

			started := 0
			for id, n := range parsed.Graph.Nodes {
				if !n.IsContinuous() {
					continue
				}
				if err := cm.Start(id); err != nil {
					return err
				}
				started++
			}
			if started == 0 {
				return fmt.Errorf("graph has no continuous nodes; use 'weave run' for one-shot execution")
			}
			log.Info().Int("workers", started).Msg("Continuous execution running")

			for {
				select {
				case <-ctx.Done():
					return nil
				case ev := <-cm.Events():
					logContinuousEvent(ev)
				}
			}
		},
	}

	cmd.Flags().StringVarP(&grantsFile, "grants", "g", "", "grants file (YAML)")
	cmd.Flags().BoolVar(&skipPolicy, "skip-policy", false, "bypass the grant policy gate")

	return cmd
}

func logContinuousEvent(ev continuous.Event) {
	switch ev.Type {
	case continuous.EventError:
		log.Error().
			Str("node_id", ev.NodeID).
			Str("event_id", ev.ID).
			Msg(ev.Message)
	default:
		outputs := make(map[string]string, len(ev.Outputs))
		for _, nv := range ev.Outputs {
			outputs[nv.Name] = nv.Value.String()
		}
		log.Info().
			Str("node_id", ev.NodeID).
			Interface("outputs", outputs).
			Msg("Outputs updated")
	}
}
