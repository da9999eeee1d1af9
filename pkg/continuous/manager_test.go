package continuous

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nodeweave/nodeweave/pkg/engine"
	"github.com/nodeweave/nodeweave/pkg/graph"
)

type fakeRunner struct {
	fn func(ctx context.Context, nodeID string) ([]graph.NamedValue, error)
}

func (r *fakeRunner) ExecuteNode(ctx context.Context, _ *graph.NodeGraph, nodeID string) ([]graph.NamedValue, error) {
	return r.fn(ctx, nodeID)
}

func continuousGraph(t *testing.T, interval time.Duration) (*graph.NodeGraph, string) {
	t.Helper()

	g := graph.New()
	node := &graph.Node{
		ID:   graph.NewNodeID(),
		Name: "ticker",
		Kind: graph.KindBuiltin,
		Continuous: &graph.ContinuousConfig{
			Enabled:  true,
			Interval: interval,
		},
	}
	if err := g.AddNode(node); err != nil {
		t.Fatalf("AddNode: %v", err)
	}
	return g, node.ID
}

func waitEvent(t *testing.T, events <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func waitStopped(t *testing.T, m *Manager, nodeID string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if !m.Running(nodeID) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("worker did not deregister")
}

func errCode(t *testing.T, err error) string {
	t.Helper()
	var rerr *engine.RuntimeError
	if !errors.As(err, &rerr) {
		t.Fatalf("expected a runtime error, got %T: %v", err, err)
	}
	return rerr.Code
}

func TestStartRejectsDoubleStart(t *testing.T) {
	g, nodeID := continuousGraph(t, 5*time.Millisecond)
	runner := &fakeRunner{fn: func(context.Context, string) ([]graph.NamedValue, error) {
		return nil, nil
	}}
	m := NewManager(runner, g, Options{})
	defer m.Shutdown()

	if err := m.Start(nodeID); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	err := m.Start(nodeID)
	if err == nil {
		t.Fatal("expected second Start to fail")
	}
	if code := errCode(t, err); code != engine.ErrCodeAlreadyRunning {
		t.Fatalf("code = %s, want %s", code, engine.ErrCodeAlreadyRunning)
	}
}

func TestStartUnknownNode(t *testing.T) {
	g, _ := continuousGraph(t, time.Millisecond)
	m := NewManager(&fakeRunner{}, g, Options{})

	err := m.Start("no-such-node")
	if err == nil {
		t.Fatal("expected error for unknown node")
	}
	if code := errCode(t, err); code != engine.ErrCodeNotFound {
		t.Fatalf("code = %s, want %s", code, engine.ErrCodeNotFound)
	}
}

func TestStartRejectsNonContinuousNode(t *testing.T) {
	g := graph.New()
	node := &graph.Node{ID: graph.NewNodeID(), Name: "plain", Kind: graph.KindBuiltin}
	if err := g.AddNode(node); err != nil {
		t.Fatalf("AddNode: %v", err)
	}
	m := NewManager(&fakeRunner{}, g, Options{})

	if err := m.Start(node.ID); err == nil {
		t.Fatal("expected error for non-continuous node")
	}
}

func TestStopNotRunning(t *testing.T) {
	g, nodeID := continuousGraph(t, time.Millisecond)
	m := NewManager(&fakeRunner{}, g, Options{})

	err := m.Stop(nodeID)
	if err == nil {
		t.Fatal("expected Stop on a never-started node to fail")
	}
	if code := errCode(t, err); code != engine.ErrCodeNotRunning {
		t.Fatalf("code = %s, want %s", code, engine.ErrCodeNotRunning)
	}
}

func TestWorkerPublishesOutputs(t *testing.T) {
	g, nodeID := continuousGraph(t, time.Millisecond)
	runner := &fakeRunner{fn: func(context.Context, string) ([]graph.NamedValue, error) {
		return []graph.NamedValue{{Name: "tick", Value: graph.U32Value(42)}}, nil
	}}
	m := NewManager(runner, g, Options{})
	defer m.Shutdown()

	if err := m.Start(nodeID); err != nil {
		t.Fatalf("Start: %v", err)
	}

	ev := waitEvent(t, m.Events())
	if ev.Type != EventOutputsUpdated {
		t.Fatalf("event type = %s, want %s", ev.Type, EventOutputsUpdated)
	}
	if ev.NodeID != nodeID {
		t.Fatalf("event node = %s, want %s", ev.NodeID, nodeID)
	}
	if len(ev.Outputs) != 1 || ev.Outputs[0].Name != "tick" {
		t.Fatalf("outputs = %+v", ev.Outputs)
	}

	if err := m.Stop(nodeID); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if m.Running(nodeID) {
		t.Fatal("node still reported running after Stop")
	}
}

func TestIterationErrorEmitsSingleErrorEventAndEndsLoop(t *testing.T) {
	g, nodeID := continuousGraph(t, time.Millisecond)
	calls := 0
	runner := &fakeRunner{fn: func(context.Context, string) ([]graph.NamedValue, error) {
		calls++
		return nil, errors.New("sensor offline")
	}}
	m := NewManager(runner, g, Options{})

	if err := m.Start(nodeID); err != nil {
		t.Fatalf("Start: %v", err)
	}

	ev := waitEvent(t, m.Events())
	if ev.Type != EventError {
		t.Fatalf("event type = %s, want %s", ev.Type, EventError)
	}
	if ev.Message == "" {
		t.Fatal("error event carries no message")
	}

	waitStopped(t, m, nodeID)

	// The loop must have ended after the single failing iteration.
	if calls != 1 {
		t.Fatalf("runner called %d times, want 1", calls)
	}
	select {
	case extra := <-m.Events():
		t.Fatalf("unexpected extra event after failure: %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestIterationPanicEmitsSingleErrorEvent(t *testing.T) {
	g, nodeID := continuousGraph(t, time.Millisecond)
	runner := &fakeRunner{fn: func(context.Context, string) ([]graph.NamedValue, error) {
		panic("corrupted state")
	}}
	m := NewManager(runner, g, Options{})

	if err := m.Start(nodeID); err != nil {
		t.Fatalf("Start: %v", err)
	}

	ev := waitEvent(t, m.Events())
	if ev.Type != EventError {
		t.Fatalf("event type = %s, want %s", ev.Type, EventError)
	}

	waitStopped(t, m, nodeID)

	// After the loop ends the node can be started again.
	if err := m.Start(nodeID); err != nil {
		t.Fatalf("restart after panic: %v", err)
	}
	m.Shutdown()
}

func TestPanicInOneWorkerLeavesOthersRunning(t *testing.T) {
	g := graph.New()
	var ids []string
	for _, name := range []string{"healthy", "faulty"} {
		node := &graph.Node{
			ID:   graph.NewNodeID(),
			Name: name,
			Kind: graph.KindBuiltin,
			Continuous: &graph.ContinuousConfig{
				Enabled:  true,
				Interval: time.Millisecond,
			},
		}
		if err := g.AddNode(node); err != nil {
			t.Fatalf("AddNode: %v", err)
		}
		ids = append(ids, node.ID)
	}
	healthyID, faultyID := ids[0], ids[1]

	runner := &fakeRunner{fn: func(_ context.Context, nodeID string) ([]graph.NamedValue, error) {
		if nodeID == faultyID {
			panic("faulty node")
		}
		return nil, nil
	}}
	m := NewManager(runner, g, Options{})
	defer m.Shutdown()

	if err := m.Start(healthyID); err != nil {
		t.Fatalf("Start healthy: %v", err)
	}
	if err := m.Start(faultyID); err != nil {
		t.Fatalf("Start faulty: %v", err)
	}

	waitStopped(t, m, faultyID)

	if !m.Running(healthyID) {
		t.Fatal("healthy worker stopped when sibling panicked")
	}
}

// Two connected continuous nodes run through the real engine: the upstream
// worker writes its output port while the downstream worker resolves its
// input from the same port, so values must flow through the shared graph
// without the workers stepping on each other.
func TestConnectedWorkersShareGraphSafely(t *testing.T) {
	g := graph.New()
	src := &graph.Node{
		ID:          "src",
		ComponentID: "test.seven",
		Kind:        graph.KindBuiltin,
		Outputs:     []graph.Port{{Name: "out", Type: graph.TypeU32}},
		Continuous:  &graph.ContinuousConfig{Enabled: true, Interval: time.Millisecond},
	}
	dbl := &graph.Node{
		ID:          "dbl",
		ComponentID: "test.double",
		Kind:        graph.KindBuiltin,
		Inputs:      []graph.Port{{Name: "in", Type: graph.TypeU32}},
		Outputs:     []graph.Port{{Name: "out", Type: graph.TypeU32}},
		Continuous:  &graph.ContinuousConfig{Enabled: true, Interval: time.Millisecond},
	}
	for _, n := range []*graph.Node{src, dbl} {
		if err := g.AddNode(n); err != nil {
			t.Fatalf("AddNode(%s): %v", n.ID, err)
		}
	}
	if err := g.Connect("src", "out", "dbl", "in"); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	reg := engine.NewBuiltinRegistry()
	reg.Register("test.seven", func([]graph.NamedValue) ([]graph.NamedValue, error) {
		return []graph.NamedValue{{Name: "out", Value: graph.U32Value(7)}}, nil
	})
	reg.Register("test.double", func(inputs []graph.NamedValue) ([]graph.NamedValue, error) {
		for _, in := range inputs {
			if in.Name == "in" {
				return []graph.NamedValue{{Name: "out", Value: graph.U32Value(in.Value.U32 * 2)}}, nil
			}
		}
		return []graph.NamedValue{{Name: "out", Value: graph.U32Value(0)}}, nil
	})

	m := NewManager(engine.New(nil, reg, nil, engine.Options{}), g, Options{})
	defer m.Shutdown()

	if err := m.Start("src"); err != nil {
		t.Fatalf("Start src: %v", err)
	}
	if err := m.Start("dbl"); err != nil {
		t.Fatalf("Start dbl: %v", err)
	}

	// The downstream node may tick a few times before the upstream value
	// lands; wait for the doubled value to come through.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-m.Events():
			if ev.Type == EventError {
				t.Fatalf("worker error: %s", ev.Message)
			}
			if ev.NodeID == "dbl" && len(ev.Outputs) == 1 && ev.Outputs[0].Value.U32 == 14 {
				return
			}
		case <-deadline:
			t.Fatal("downstream node never observed the upstream output")
		}
	}
}

func TestShutdownSignalsAllWorkers(t *testing.T) {
	g, nodeID := continuousGraph(t, time.Millisecond)
	runner := &fakeRunner{fn: func(context.Context, string) ([]graph.NamedValue, error) {
		return nil, nil
	}}
	m := NewManager(runner, g, Options{})

	if err := m.Start(nodeID); err != nil {
		t.Fatalf("Start: %v", err)
	}

	m.Shutdown()
	if m.Running(nodeID) {
		t.Fatal("node still registered after Shutdown")
	}
}
