package continuous

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nodeweave/nodeweave/pkg/engine"
	"github.com/nodeweave/nodeweave/pkg/graph"
	"github.com/nodeweave/nodeweave/pkg/telemetry"
)

// DefaultInterval is used when a continuous node declares no interval.
const DefaultInterval = time.Second

// StopGrace is how long Stop waits for a worker to acknowledge cancellation
// before abandoning the join. The worker goroutine keeps running until its
// current iteration observes the cancelled context; it is never killed.
const StopGrace = 1500 * time.Millisecond

// eventBuffer bounds the manager's event channel. When the consumer falls
// behind, further events are dropped rather than stalling workers.
const eventBuffer = 64

// Runner executes a single node against a graph. Satisfied by
// *engine.Engine.
type Runner interface {
	ExecuteNode(ctx context.Context, g *graph.NodeGraph, nodeID string) ([]graph.NamedValue, error)
}

// Options configures a Manager.
type Options struct {
	// Logger is the structured logger. Defaults to a no-op logger.
	Logger *telemetry.Logger

	// Metrics records active worker counts and event totals. May be nil.
	Metrics *telemetry.Metrics
}

// Manager owns the background workers for continuous nodes. Each worker
// loops independently: under the graph lock it propagates the node's inputs
// and copies the node into a detached one-node graph, executes the copy
// without holding the lock, writes outputs back under it, publishes an
// event, and sleeps.
type Manager struct {
	runner  Runner
	log     *telemetry.Logger
	metrics *telemetry.Metrics

	// gmu guards the shared graph; workers hold it only to copy inputs
	// out and write outputs back, never during execution.
	gmu sync.Mutex
	g   *graph.NodeGraph

	events chan Event

	mu      sync.Mutex
	workers map[string]*worker
}

type worker struct {
	nodeID string
	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates a manager driving workers against g through runner.
func NewManager(runner Runner, g *graph.NodeGraph, opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = telemetry.Nop()
	}
	return &Manager{
		runner:  runner,
		log:     opts.Logger.NewComponentLogger("continuous"),
		metrics: opts.Metrics,
		g:       g,
		events:  make(chan Event, eventBuffer),
		workers: make(map[string]*worker),
	}
}

// Events returns the channel workers publish on. Consumers that fall behind
// lose events; each OutputsUpdated event is a hint to re-read the graph, not
// a transaction log.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// Start launches the background loop for a continuous node. Starting a node
// that is already running is an error; so is starting a node the graph does
// not contain or one not flagged continuous.
func (m *Manager) Start(nodeID string) error {
	m.gmu.Lock()
	node, ok := m.g.Nodes[nodeID]
	m.gmu.Unlock()
	if !ok {
		return engine.NewError(engine.ErrCodeNotFound,
			fmt.Sprintf("node %q does not exist", nodeID), nil)
	}
	if !node.IsContinuous() {
		return engine.NewValidationFailed(
			fmt.Sprintf("node %q is not configured for continuous execution", nodeID), nil)
	}

	m.mu.Lock()
	if _, running := m.workers[nodeID]; running {
		m.mu.Unlock()
		return engine.NewError(engine.ErrCodeAlreadyRunning,
			fmt.Sprintf("node %q is already running", nodeID), nil)
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &worker{
		nodeID: nodeID,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	m.workers[nodeID] = w
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.ContinuousStarted()
	}
	m.log.WithNodeID(nodeID).Info("continuous execution started")

	go m.runLoop(ctx, w)
	return nil
}

// Stop cancels a running worker and waits up to StopGrace for it to finish
// its current iteration. A worker still busy after the grace period is
// abandoned; it will exit on its own once the iteration returns.
func (m *Manager) Stop(nodeID string) error {
	m.mu.Lock()
	w, ok := m.workers[nodeID]
	if ok {
		delete(m.workers, nodeID)
	}
	m.mu.Unlock()

	if !ok {
		return engine.NewError(engine.ErrCodeNotRunning,
			fmt.Sprintf("node %q is not running", nodeID), nil)
	}

	w.cancel()

	select {
	case <-w.done:
		m.log.WithNodeID(nodeID).Info("continuous execution stopped")
	case <-time.After(StopGrace):
		m.log.WithNodeID(nodeID).Warn("continuous worker did not stop within grace period; abandoning join")
	}
	return nil
}

// Shutdown signals every worker to stop without waiting for any of them.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	workers := make([]*worker, 0, len(m.workers))
	for _, w := range m.workers {
		workers = append(workers, w)
	}
	m.workers = make(map[string]*worker)
	m.mu.Unlock()

	for _, w := range workers {
		w.cancel()
	}
	if len(workers) > 0 {
		m.log.Infof("signalled %d continuous workers to stop", len(workers))
	}
}

// Running reports whether the node currently has a live worker.
func (m *Manager) Running(nodeID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.workers[nodeID]
	return ok
}

// runLoop is the worker body. One failed or panicked iteration emits a
// single Error event and ends this loop; other workers are unaffected.
func (m *Manager) runLoop(ctx context.Context, w *worker) {
	defer close(w.done)
	defer m.deregister(w)

	for {
		if ctx.Err() != nil {
			return
		}

		interval, ok := m.readInterval(w.nodeID)
		if !ok {
			// Node was removed from the graph out from under us.
			m.emitError(w.nodeID, fmt.Sprintf("node %q no longer exists", w.nodeID))
			return
		}

		outputs, err := m.runOnce(ctx, w.nodeID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.log.WithNodeID(w.nodeID).WithError(err).Error("continuous iteration failed")
			m.emitError(w.nodeID, err.Error())
			return
		}

		m.emitOutputs(w.nodeID, outputs)

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

// runOnce executes a single iteration. The live graph is touched only under
// gmu: snapshot copies the node out with its inputs resolved, the runner
// executes the copy, and writeBack lands the outputs. A panic inside the
// execution path is converted into an error.
func (m *Manager) runOnce(ctx context.Context, nodeID string) (outputs []graph.NamedValue, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("iteration panicked: %v", r)
		}
	}()

	scratch, err := m.snapshot(nodeID)
	if err != nil {
		return nil, err
	}
	outputs, err = m.runner.ExecuteNode(ctx, scratch, nodeID)
	if err != nil {
		m.setState(nodeID, graph.StateFailed)
		return nil, err
	}
	if err := m.writeBack(nodeID, outputs); err != nil {
		return nil, err
	}
	return outputs, nil
}

// snapshot propagates the node's inputs from its upstream outputs and
// returns a detached graph holding a copy of the node, all under gmu.
func (m *Manager) snapshot(nodeID string) (*graph.NodeGraph, error) {
	m.gmu.Lock()
	defer m.gmu.Unlock()

	node, ok := m.g.Nodes[nodeID]
	if !ok {
		return nil, fmt.Errorf("node %q no longer exists", nodeID)
	}
	if err := m.g.PropagateInputs(nodeID); err != nil {
		return nil, err
	}
	scratch := graph.New()
	if err := scratch.AddNode(node.Clone()); err != nil {
		return nil, err
	}
	return scratch, nil
}

// writeBack applies an iteration's outputs to the live node under gmu.
func (m *Manager) writeBack(nodeID string, outputs []graph.NamedValue) error {
	m.gmu.Lock()
	defer m.gmu.Unlock()

	if err := m.g.ApplyOutputs(nodeID, outputs); err != nil {
		return err
	}
	m.g.Nodes[nodeID].State = graph.StateCompleted
	return nil
}

func (m *Manager) setState(nodeID string, s graph.ExecState) {
	m.gmu.Lock()
	defer m.gmu.Unlock()
	if n, ok := m.g.Nodes[nodeID]; ok {
		n.State = s
	}
}

// readInterval reads the node's iteration interval under the graph lock.
func (m *Manager) readInterval(nodeID string) (time.Duration, bool) {
	m.gmu.Lock()
	defer m.gmu.Unlock()

	node, ok := m.g.Nodes[nodeID]
	if !ok || node.Continuous == nil {
		return 0, false
	}
	if node.Continuous.Interval <= 0 {
		return DefaultInterval, true
	}
	return node.Continuous.Interval, true
}

func (m *Manager) deregister(w *worker) {
	m.mu.Lock()
	if current, ok := m.workers[w.nodeID]; ok && current == w {
		delete(m.workers, w.nodeID)
	}
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.ContinuousStopped()
	}
}

func (m *Manager) emitOutputs(nodeID string, outputs []graph.NamedValue) {
	ev := newEvent(EventOutputsUpdated, nodeID)
	ev.Outputs = outputs
	m.emit(ev)
}

func (m *Manager) emitError(nodeID, message string) {
	ev := newEvent(EventError, nodeID)
	ev.Message = message
	m.emit(ev)
}

func (m *Manager) emit(ev Event) {
	if m.metrics != nil {
		m.metrics.ContinuousEvent(string(ev.Type))
	}
	select {
	case m.events <- ev:
	default:
		m.log.WithNodeID(ev.NodeID).Warnf("dropping %s event: consumer is behind", ev.Type)
	}
}
