package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/nodeweave/nodeweave/pkg/capability"
	"github.com/nodeweave/nodeweave/pkg/config"
	"github.com/nodeweave/nodeweave/pkg/engine"
	"github.com/nodeweave/nodeweave/pkg/graph"
	"github.com/nodeweave/nodeweave/pkg/policy"
	"github.com/nodeweave/nodeweave/pkg/stores"
)

func newRunCommand() *cobra.Command {
	var (
		grantsFile  string
		dirtyNodes  []string
		incremental bool
		skipPolicy  bool
		noStore     bool
	)

	cmd := &cobra.Command{
		Use:   "run <graph.cue>...",
		Short: "Execute a dataflow graph",
		Long: `Execute a dataflow graph once, in dependency order.

Components referenced by sandboxed nodes are loaded from the configured
components directory. Capability grants come from the graph definition and
an optional grants file, and pass the policy gate before any node runs.`,
		Example: `  # Run a graph
  weave run pipeline.cue

  # Run with grants from a separate file
  weave run pipeline.cue --grants grants.yaml

  # Re-run only nodes downstream of changed ones
  weave run pipeline.cue --incremental --dirty fetcher`,
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

			eng := engine.New(mgr, engine.NewBuiltinRegistry(), grantResolver(grants), engine.Options{
				NodeTimeout: cfg.NodeTimeoutDuration(),
				Logger:      logger.Zerolog(),
				Metrics:     metrics,
			})

			var recorder *runRecorder
			if !noStore && cfg.StorePath != "" {
				recorder, err = newRunRecorder(ctx, cfg.StorePath, args[0])
				if err != nil {
					return err
				}
				defer recorder.close()
			}

			for _, id := range dirtyNodes {
				parsed.Graph.MarkDirty(id)
			}

			var runErr error
			if incremental {
				runErr = eng.RunIncremental(ctx, parsed.Graph)
			} else {
				runErr = eng.Run(ctx, parsed.Graph)
			}

			recorder.finish(ctx, parsed.Graph, runErr)

			if runErr != nil {
				return runErr
			}
			printOutputs(parsed.Graph)
			return nil
		},
	}

	cmd.Flags().StringVarP(&grantsFile, "grants", "g", "", "grants file (YAML)")
	cmd.Flags().BoolVar(&incremental, "incremental", false, "re-execute only dirty nodes and their dependents")
	cmd.Flags().StringSliceVar(&dirtyNodes, "dirty", nil, "node IDs to mark dirty before an incremental run")
	cmd.Flags().BoolVar(&skipPolicy, "skip-policy", false, "bypass the grant policy gate")
	cmd.Flags().BoolVar(&noStore, "no-store", false, "do not record the run in the store")

	return cmd
}

// checkGrantPolicy runs every grant through the policy engine before the
// graph executes.
func checkGrantPolicy(ctx context.Context, zlog zerolog.Logger, grants []*capability.Grant) error {
	if len(grants) == 0 {
		return nil
	}
	pe, err := policy.NewEngine(zlog)
	if err != nil {
		return err
	}
	for _, g := range grants {
		if err := pe.CheckGrant(ctx, &policy.GrantRequest{NodeID: g.NodeID, Set: g.Set}); err != nil {
			return err
		}
	}
	return nil
}

// printOutputs renders terminal node outputs, either as text or JSON.
func printOutputs(g *graph.NodeGraph) {
	type nodeOutput struct {
		Node    string            `json:"node"`
		State   string            `json:"state"`
		Outputs map[string]string `json:"outputs,omitempty"`
	}

	ids := make([]string, 0, len(g.Nodes))
	for id := range g.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	results := make([]nodeOutput, 0, len(ids))
	for _, id := range ids {
		n := g.Nodes[id]
		if len(g.Downstream(id)) > 0 {
			continue
		}
		out := nodeOutput{Node: id, State: string(n.State), Outputs: map[string]string{}}
		for _, p := range n.Outputs {
			out.Outputs[p.Name] = p.Value.String()
		}
		results = append(results, out)
	}

	if jsonOutput {
		data, err := json.MarshalIndent(results, "", "  ")
		if err == nil {
			fmt.Println(string(data))
		}
		return
	}
	for _, r := range results {
		fmt.Printf("%s [%s]\n", r.Node, r.State)
		for name, val := range r.Outputs {
			fmt.Printf("  %s = %s\n", name, val)
		}
	}
}

// runRecorder persists a run and its per-node results. All methods are
// nil-safe so callers can skip persistence by leaving the recorder nil.
type runRecorder struct {
	store *stores.SQLiteStore
	runID string
}

func newRunRecorder(ctx context.Context, storePath, graphPath string) (*runRecorder, error) {
	store, err := stores.NewSQLiteStore(stores.Config{Path: storePath})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}

	now := time.Now()
	run := &stores.Run{
		ID:        uuid.New().String(),
		GraphPath: graphPath,
		Status:    stores.RunStatusRunning,
		StartedAt: now,
		Metadata:  "{}",
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := store.CreateRun(ctx, run); err != nil {
		_ = store.Close()
		return nil, err
	}

	return &runRecorder{store: store, runID: run.ID}, nil
}

func (r *runRecorder) finish(ctx context.Context, g *graph.NodeGraph, runErr error) {
	if r == nil {
		return
	}

	for id, n := range g.Nodes {
		status := stores.NodeRunStatusSkipped
		switch n.State {
		case graph.StateCompleted:
			status = stores.NodeRunStatusCompleted
		case graph.StateFailed:
			status = stores.NodeRunStatusFailed
		}
		now := time.Now()
		nr := &stores.NodeRun{
			ID:        uuid.New().String(),
			RunID:     r.runID,
			NodeID:    id,
			Component: n.ComponentID,
			Status:    status,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if status == stores.NodeRunStatusCompleted {
			outputs := make(map[string]string, len(n.Outputs))
			for _, p := range n.Outputs {
				outputs[p.Name] = p.Value.String()
			}
			if data, err := json.Marshal(outputs); err == nil {
				s := string(data)
				nr.Outputs = &s
			}
		}
		if err := r.store.CreateNodeRun(ctx, nr); err != nil {
			log.Warn().Err(err).Str("node_id", id).Msg("Failed to record node run")
		}
	}

	status := stores.RunStatusCompleted
	var errMsg *string
	if runErr != nil {
		status = stores.RunStatusFailed
		msg := runErr.Error()
		errMsg = &msg
	}
	if err := r.store.UpdateRunStatus(ctx, r.runID, status, errMsg); err != nil {
		log.Warn().Err(err).Msg("Failed to update run status")
	}
}

func (r *runRecorder) close() {
	if r == nil {
		return
	}
	if err := r.store.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close store")
	}
}
