package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/nodeweave/nodeweave/pkg/capability"
	"github.com/nodeweave/nodeweave/pkg/graph"
	"github.com/nodeweave/nodeweave/pkg/telemetry"
)

// DefaultNodeTimeout bounds a single sandboxed node execution. A timeout is
// reported as a failure, never silently retried.
const DefaultNodeTimeout = 30 * time.Second

// ComponentRunner executes a loaded component inside the sandbox. It is
// implemented by the component manager.
type ComponentRunner interface {
	Execute(ctx context.Context, componentID string, inputs []graph.NamedValue, caps capability.Set) ([]graph.NamedValue, error)
}

// GrantResolver looks up the capability grant for a node. A nil result is
// treated as a None grant, not as an error: the node will fail the sandbox's
// own checks instead of crashing the engine.
type GrantResolver func(nodeID string) *capability.Grant

// Options configures an Engine.
type Options struct {
	// NodeTimeout bounds each sandboxed node execution. Zero means
	// DefaultNodeTimeout.
	NodeTimeout time.Duration

	// Logger is the structured logger; defaults to a disabled logger.
	Logger zerolog.Logger

	// Metrics collects execution metrics; nil disables collection.
	Metrics *telemetry.Metrics
}

// Engine orders and runs the nodes of a dataflow graph. One orchestrating
// goroutine drives a run; each node execution happens on a short-lived
// worker goroutine with the orchestrator polling a completion channel.
type Engine struct {
	components  ComponentRunner
	builtins    *BuiltinRegistry
	grants      GrantResolver
	nodeTimeout time.Duration
	logger      zerolog.Logger
	metrics     *telemetry.Metrics
}

// New creates an engine. components may be nil for graphs containing only
// builtin nodes; grants may be nil when no node has a grant.
func New(components ComponentRunner, builtins *BuiltinRegistry, grants GrantResolver, opts Options) *Engine {
	if builtins == nil {
		builtins = NewBuiltinRegistry()
	}
	if grants == nil {
		grants = func(string) *capability.Grant { return nil }
	}
	timeout := opts.NodeTimeout
	if timeout <= 0 {
		timeout = DefaultNodeTimeout
	}
	return &Engine{
		components:  components,
		builtins:    builtins,
		grants:      grants,
		nodeTimeout: timeout,
		logger:      opts.Logger.With().Str("component", "engine").Logger(),
		metrics:     opts.Metrics,
	}
}

// Run executes the whole graph in dependency order. All node states reset
// to Idle first; the first node failure halts the batch.
func (e *Engine) Run(ctx context.Context, g *graph.NodeGraph) error {
	start := time.Now()
	g.ResetStates()

	order, err := g.ExecutionOrder()
	if err != nil {
		if cycleErr, ok := err.(*graph.CycleError); ok {
			return NewError(ErrCodeCycle, "graph has no valid execution order", err).
				WithDetail("cycle", cycleErr.Nodes)
		}
		return NewExecutionError("failed to compute execution order", err)
	}

	e.logger.Debug().Int("nodes", len(order)).Msg("starting full run")
	err = e.runOrdered(ctx, g, order, false)
	e.observeRun("full", start, err)
	return err
}

// RunIncremental executes only the dirty nodes and their dependents. A
// successfully executed node's dirty flag clears; a failed node's dirty flag
// stays set so a future run retries it. A zero-dirty graph executes nothing.
func (e *Engine) RunIncremental(ctx context.Context, g *graph.NodeGraph) error {
	start := time.Now()

	order, err := g.IncrementalOrder()
	if err != nil {
		if cycleErr, ok := err.(*graph.CycleError); ok {
			return NewError(ErrCodeCycle, "graph has no valid execution order", err).
				WithDetail("cycle", cycleErr.Nodes)
		}
		return NewExecutionError("failed to compute incremental order", err)
	}
	if len(order) == 0 {
		e.logger.Debug().Msg("incremental run: nothing dirty")
		return nil
	}

	e.logger.Debug().Int("nodes", len(order)).Msg("starting incremental run")
	err = e.runOrdered(ctx, g, order, true)
	e.observeRun("incremental", start, err)
	return err
}

// runOrdered drives the ordered node list. Full-run semantics: the first
// failure marks the node Failed and aborts the remainder.
func (e *Engine) runOrdered(ctx context.Context, g *graph.NodeGraph, order []string, incremental bool) error {
	for _, nodeID := range order {
		n := g.Node(nodeID)
		if n == nil {
			return NewError(ErrCodeNotFound, "execution order references missing node", nil).WithNode(nodeID)
		}

		if _, err := e.ExecuteNode(ctx, g, nodeID); err != nil {
			if incremental {
				// Deliberately left dirty so the next triggered run
				// retries this node.
				n.Dirty = true
			}
			return err
		}
		if incremental {
			n.Dirty = false
		}
	}
	return nil
}

// ExecuteNode runs a single node: copies upstream outputs into its inputs,
// dispatches by node kind, and applies the outputs to its output ports.
// The node ends in Completed or Failed; the returned outputs are also
// written to the graph.
func (e *Engine) ExecuteNode(ctx context.Context, g *graph.NodeGraph, nodeID string) ([]graph.NamedValue, error) {
	n := g.Node(nodeID)
	if n == nil {
		return nil, NewError(ErrCodeNotFound, "node not found", nil).WithNode(nodeID)
	}

	if err := g.PropagateInputs(nodeID); err != nil {
		n.State = graph.StateFailed
		return nil, NewExecutionError("failed to propagate inputs", err).WithNode(nodeID)
	}

	// Constants with populated outputs short-circuit without invoking
	// anything.
	if n.IsConstant() {
		n.State = graph.StateCompleted
		return outputValues(n), nil
	}

	n.State = graph.StateRunning
	start := time.Now()

	outputs, err := e.dispatchAsync(ctx, g, n)
	if err != nil {
		n.State = graph.StateFailed
		e.observeNode(n, start, err)
		e.logger.Error().Err(err).Str("node_id", n.ID).Str("kind", string(n.Kind)).Msg("node execution failed")
		return nil, err
	}

	if err := g.ApplyOutputs(nodeID, outputs); err != nil {
		n.State = graph.StateFailed
		return nil, NewExecutionError("failed to apply outputs", err).WithNode(nodeID)
	}
	n.State = graph.StateCompleted
	e.observeNode(n, start, nil)
	e.logger.Debug().Str("node_id", n.ID).Str("kind", string(n.Kind)).Dur("duration", time.Since(start)).Msg("node completed")
	return outputs, nil
}

// nodeResult carries one worker's outcome back to the orchestrator.
type nodeResult struct {
	outputs []graph.NamedValue
	err     error
}

// dispatchAsync runs the node's handler on a short-lived worker goroutine
// and waits on its completion channel, bounding sandboxed executions with
// the node timeout. A worker panic is contained and surfaced as a trap
// error; it must never crash the orchestrator.
func (e *Engine) dispatchAsync(ctx context.Context, g *graph.NodeGraph, n *graph.Node) ([]graph.NamedValue, error) {
	execCtx := ctx
	var cancel context.CancelFunc
	if n.Kind == graph.KindSandboxed {
		execCtx, cancel = context.WithTimeout(ctx, e.nodeTimeout)
		defer cancel()
	}

	done := make(chan nodeResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- nodeResult{err: NewError(ErrCodeTrap, fmt.Sprintf("panic during node execution: %v", r), nil).WithNode(n.ID)}
			}
		}()
		outputs, err := e.dispatch(execCtx, g, n)
		done <- nodeResult{outputs: outputs, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil && errors.Is(execCtx.Err(), context.DeadlineExceeded) && !IsTimeout(res.err) {
			return nil, NewTimeout(fmt.Sprintf("node execution exceeded %s", e.nodeTimeout), res.err).WithNode(n.ID)
		}
		return res.outputs, res.err
	case <-execCtx.Done():
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			return nil, NewTimeout(fmt.Sprintf("node execution exceeded %s", e.nodeTimeout), execCtx.Err()).WithNode(n.ID)
		}
		return nil, NewExecutionError("execution cancelled", execCtx.Err()).WithNode(n.ID)
	}
}

// dispatch matches the closed set of node kinds once per execution.
func (e *Engine) dispatch(ctx context.Context, g *graph.NodeGraph, n *graph.Node) ([]graph.NamedValue, error) {
	switch n.Kind {
	case graph.KindBuiltin:
		return e.runBuiltin(n)
	case graph.KindSandboxed:
		return e.runSandboxed(ctx, n)
	case graph.KindComposite:
		return e.runComposite(ctx, n)
	default:
		return nil, NewExecutionError(fmt.Sprintf("unknown node kind %q", n.Kind), nil).WithNode(n.ID)
	}
}

func (e *Engine) runBuiltin(n *graph.Node) ([]graph.NamedValue, error) {
	fn, ok := e.builtins.Lookup(n.ComponentID)
	if !ok {
		return nil, NewError(ErrCodeNotFound, fmt.Sprintf("no builtin handler registered for %q", n.ComponentID), nil).WithNode(n.ID)
	}
	outputs, err := fn(n.InputValues())
	if err != nil {
		return nil, NewExecutionError("builtin handler failed", err).WithNode(n.ID).WithComponent(n.ComponentID)
	}
	return outputs, nil
}

func (e *Engine) runSandboxed(ctx context.Context, n *graph.Node) ([]graph.NamedValue, error) {
	if e.components == nil {
		return nil, NewExecutionError("no component runner configured", nil).WithNode(n.ID)
	}

	// A missing grant degrades to None rather than erroring; the sandbox's
	// own checks produce the denial.
	set := capability.None()
	if grant := e.grants(n.ID); grant != nil {
		set = grant.Set
	}

	outputs, err := e.components.Execute(ctx, n.ComponentID, n.InputValues(), set)
	if err != nil {
		if re, ok := err.(*RuntimeError); ok {
			return nil, re.WithNode(n.ID)
		}
		return nil, NewExecutionError("sandboxed execution failed", err).WithNode(n.ID).WithComponent(n.ComponentID)
	}
	return outputs, nil
}

// runComposite materializes the node's embedded subgraph as a temporary
// graph, maps external inputs onto the boundary nodes, recursively runs the
// same ordering and dispatch algorithm, then maps boundary outputs back out.
func (e *Engine) runComposite(ctx context.Context, n *graph.Node) ([]graph.NamedValue, error) {
	if n.Composite == nil || n.Composite.Subgraph == nil {
		return nil, NewExecutionError("composite node has no subgraph", nil).WithNode(n.ID)
	}
	sub := n.Composite.Subgraph

	for _, m := range n.Composite.Inputs {
		outer := n.Input(m.OuterPort)
		if outer == nil {
			return nil, NewExecutionError(fmt.Sprintf("boundary mapping references missing input port %q", m.OuterPort), nil).WithNode(n.ID)
		}
		inner := sub.Node(m.InnerNode)
		if inner == nil {
			return nil, NewExecutionError(fmt.Sprintf("boundary mapping references missing subgraph node %q", m.InnerNode), nil).WithNode(n.ID)
		}
		port := inner.Input(m.InnerPort)
		if port == nil {
			return nil, NewExecutionError(fmt.Sprintf("boundary mapping references missing port %s.%s", m.InnerNode, m.InnerPort), nil).WithNode(n.ID)
		}
		port.Value = outer.Value
	}

	if err := e.Run(ctx, sub); err != nil {
		return nil, NewExecutionError("subgraph execution failed", err).WithNode(n.ID)
	}

	outputs := make([]graph.NamedValue, 0, len(n.Composite.Outputs))
	for _, m := range n.Composite.Outputs {
		inner := sub.Node(m.InnerNode)
		if inner == nil {
			return nil, NewExecutionError(fmt.Sprintf("boundary mapping references missing subgraph node %q", m.InnerNode), nil).WithNode(n.ID)
		}
		port := inner.Output(m.InnerPort)
		if port == nil {
			return nil, NewExecutionError(fmt.Sprintf("boundary mapping references missing port %s.%s", m.InnerNode, m.InnerPort), nil).WithNode(n.ID)
		}
		outputs = append(outputs, graph.NamedValue{Name: m.OuterPort, Value: port.Value})
	}
	return outputs, nil
}

func (e *Engine) observeNode(n *graph.Node, start time.Time, err error) {
	if e.metrics == nil {
		return
	}
	status := "completed"
	if err != nil {
		status = "failed"
		if re, ok := err.(*RuntimeError); ok {
			e.metrics.RecordError(re.Code)
		}
	}
	e.metrics.NodeExecuted(string(n.Kind), status, time.Since(start))
}

func (e *Engine) observeRun(mode string, start time.Time, err error) {
	if e.metrics == nil {
		return
	}
	status := "succeeded"
	if err != nil {
		status = "failed"
	}
	e.metrics.RunCompleted(mode, status, time.Since(start))
}

func outputValues(n *graph.Node) []graph.NamedValue {
	vals := make([]graph.NamedValue, 0, len(n.Outputs))
	for _, p := range n.Outputs {
		vals = append(vals, graph.NamedValue{Name: p.Name, Value: p.Value})
	}
	return vals
}
