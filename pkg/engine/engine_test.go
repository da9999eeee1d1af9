package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nodeweave/nodeweave/pkg/capability"
	"github.com/nodeweave/nodeweave/pkg/graph"
)

func mustAdd(t *testing.T, g *graph.NodeGraph, n *graph.Node) {
	t.Helper()
	if err := g.AddNode(n); err != nil {
		t.Fatalf("AddNode(%s): %v", n.ID, err)
	}
}

func mustConnect(t *testing.T, g *graph.NodeGraph, fromNode, fromPort, toNode, toPort string) {
	t.Helper()
	if err := g.Connect(fromNode, fromPort, toNode, toPort); err != nil {
		t.Fatalf("Connect(%s.%s -> %s.%s): %v", fromNode, fromPort, toNode, toPort, err)
	}
}

func addNode(id string) *graph.Node {
	return &graph.Node{
		ID:          id,
		ComponentID: "builtin.add",
		Name:        "add",
		Kind:        graph.KindBuiltin,
		Inputs: []graph.Port{
			{Name: "a", Type: graph.TypeU32, Required: true},
			{Name: "b", Type: graph.TypeU32, Required: true},
		},
		Outputs: []graph.Port{
			{Name: "sum", Type: graph.TypeU32},
		},
	}
}

// constAddGraph wires Const(5) and Const(3) into an add node.
func constAddGraph(t *testing.T) *graph.NodeGraph {
	t.Helper()
	g := graph.New()

	mustAdd(t, g, ConstantNode("five", "five", []graph.NamedValue{{Name: "value", Value: graph.U32Value(5)}}))
	mustAdd(t, g, ConstantNode("three", "three", []graph.NamedValue{{Name: "value", Value: graph.U32Value(3)}}))
	mustAdd(t, g, addNode("adder"))

	mustConnect(t, g, "five", "value", "adder", "a")
	mustConnect(t, g, "three", "value", "adder", "b")
	return g
}

func TestRunConstAdd(t *testing.T) {
	g := constAddGraph(t)
	e := New(nil, nil, nil, Options{})

	if err := e.Run(context.Background(), g); err != nil {
		t.Fatalf("Run: %v", err)
	}

	for id, n := range g.Nodes {
		if n.State != graph.StateCompleted {
			t.Errorf("node %s state = %s, want completed", id, n.State)
		}
	}

	sum := g.Node("adder").Output("sum")
	if sum == nil || sum.Value.Type != graph.TypeU32 || sum.Value.U32 != 8 {
		t.Fatalf("adder sum = %+v, want u32 8", sum)
	}
}

func TestRunFailureHaltsRemainder(t *testing.T) {
	g := graph.New()

	builtins := NewBuiltinRegistry()
	builtins.Register("test.fail", func([]graph.NamedValue) ([]graph.NamedValue, error) {
		return nil, errors.New("boom")
	})
	executed := 0
	builtins.Register("test.count", func([]graph.NamedValue) ([]graph.NamedValue, error) {
		executed++
		return []graph.NamedValue{{Name: "out", Value: graph.U32Value(1)}}, nil
	})

	failing := &graph.Node{
		ID: "failing", ComponentID: "test.fail", Kind: graph.KindBuiltin,
		Outputs: []graph.Port{{Name: "out", Type: graph.TypeU32}},
	}
	downstream := &graph.Node{
		ID: "downstream", ComponentID: "test.count", Kind: graph.KindBuiltin,
		Inputs:  []graph.Port{{Name: "in", Type: graph.TypeU32}},
		Outputs: []graph.Port{{Name: "out", Type: graph.TypeU32}},
	}
	mustAdd(t, g, failing)
	mustAdd(t, g, downstream)
	mustConnect(t, g, "failing", "out", "downstream", "in")

	e := New(nil, builtins, nil, Options{})
	err := e.Run(context.Background(), g)
	if err == nil {
		t.Fatal("expected run to fail")
	}
	if !IsExecutionError(err) {
		t.Fatalf("error = %v, want execution error", err)
	}

	if failing.State != graph.StateFailed {
		t.Fatalf("failing node state = %s, want failed", failing.State)
	}
	if downstream.State != graph.StateIdle {
		t.Fatalf("downstream state = %s, want idle (never executed)", downstream.State)
	}
	if executed != 0 {
		t.Fatalf("downstream executed %d times after upstream failure", executed)
	}
}

func TestRunReportsCycle(t *testing.T) {
	g := graph.New()
	a := addNode("a")
	b := addNode("b")
	mustAdd(t, g, a)
	mustAdd(t, g, b)
	mustConnect(t, g, "a", "sum", "b", "a")
	mustConnect(t, g, "b", "sum", "a", "a")

	e := New(nil, nil, nil, Options{})
	err := e.Run(context.Background(), g)
	if err == nil {
		t.Fatal("expected cycle error")
	}
	var rerr *RuntimeError
	if !errors.As(err, &rerr) || rerr.Code != ErrCodeCycle {
		t.Fatalf("error = %v, want code %s", err, ErrCodeCycle)
	}
}

// chainGraph builds a -> b -> c where every node runs the counting handler.
func chainGraph(t *testing.T, builtins *BuiltinRegistry, executed map[string]int) *graph.NodeGraph {
	t.Helper()
	g := graph.New()

	for _, id := range []string{"a", "b", "c"} {
		nodeID := id
		builtins.Register("test.pass."+nodeID, func(inputs []graph.NamedValue) ([]graph.NamedValue, error) {
			executed[nodeID]++
			return []graph.NamedValue{{Name: "out", Value: graph.U32Value(1)}}, nil
		})
		n := &graph.Node{
			ID: nodeID, ComponentID: "test.pass." + nodeID, Kind: graph.KindBuiltin,
			Outputs: []graph.Port{{Name: "out", Type: graph.TypeU32}},
		}
		if nodeID != "a" {
			n.Inputs = []graph.Port{{Name: "in", Type: graph.TypeU32}}
		}
		mustAdd(t, g, n)
	}
	mustConnect(t, g, "a", "out", "b", "in")
	mustConnect(t, g, "b", "out", "c", "in")
	return g
}

func TestRunIncrementalExecutesDirtyAndDependents(t *testing.T) {
	builtins := NewBuiltinRegistry()
	executed := map[string]int{}
	g := chainGraph(t, builtins, executed)

	g.MarkDirty("b")

	e := New(nil, builtins, nil, Options{})
	if err := e.RunIncremental(context.Background(), g); err != nil {
		t.Fatalf("RunIncremental: %v", err)
	}

	if executed["a"] != 0 {
		t.Fatalf("clean upstream node executed %d times", executed["a"])
	}
	if executed["b"] != 1 || executed["c"] != 1 {
		t.Fatalf("executed = %v, want b and c once each", executed)
	}
	if g.Node("b").Dirty || g.Node("c").Dirty {
		t.Fatal("dirty flags not cleared after successful incremental run")
	}
}

func TestRunIncrementalNoDirtyIsNoOp(t *testing.T) {
	builtins := NewBuiltinRegistry()
	executed := map[string]int{}
	g := chainGraph(t, builtins, executed)

	e := New(nil, builtins, nil, Options{})
	if err := e.RunIncremental(context.Background(), g); err != nil {
		t.Fatalf("RunIncremental: %v", err)
	}
	for id, count := range executed {
		if count != 0 {
			t.Fatalf("node %s executed %d times in a zero-dirty run", id, count)
		}
	}
}

func TestRunIncrementalFailureLeavesDirtySet(t *testing.T) {
	builtins := NewBuiltinRegistry()
	builtins.Register("test.fail", func([]graph.NamedValue) ([]graph.NamedValue, error) {
		return nil, errors.New("still broken")
	})

	g := graph.New()
	mustAdd(t, g, &graph.Node{
		ID: "flaky", ComponentID: "test.fail", Kind: graph.KindBuiltin,
		Outputs: []graph.Port{{Name: "out", Type: graph.TypeU32}},
	})
	g.MarkDirty("flaky")

	e := New(nil, builtins, nil, Options{})
	if err := e.RunIncremental(context.Background(), g); err == nil {
		t.Fatal("expected incremental run to fail")
	}
	if !g.Node("flaky").Dirty {
		t.Fatal("failed node lost its dirty flag; retry would be skipped")
	}
}

func TestBuiltinPanicBecomesTrapError(t *testing.T) {
	builtins := NewBuiltinRegistry()
	builtins.Register("test.panic", func([]graph.NamedValue) ([]graph.NamedValue, error) {
		panic("handler bug")
	})

	g := graph.New()
	mustAdd(t, g, &graph.Node{
		ID: "p", ComponentID: "test.panic", Kind: graph.KindBuiltin,
		Outputs: []graph.Port{{Name: "out", Type: graph.TypeU32}},
	})

	e := New(nil, builtins, nil, Options{})
	err := e.Run(context.Background(), g)
	if err == nil {
		t.Fatal("expected trap error")
	}
	var rerr *RuntimeError
	if !errors.As(err, &rerr) || rerr.Code != ErrCodeTrap {
		t.Fatalf("error = %v, want code %s", err, ErrCodeTrap)
	}
	if g.Node("p").State != graph.StateFailed {
		t.Fatal("panicked node not marked failed")
	}
}

func TestUnknownBuiltinIsNotFound(t *testing.T) {
	g := graph.New()
	mustAdd(t, g, &graph.Node{
		ID: "x", ComponentID: "builtin.missing", Kind: graph.KindBuiltin,
		Outputs: []graph.Port{{Name: "out", Type: graph.TypeU32}},
	})

	e := New(nil, nil, nil, Options{})
	err := e.Run(context.Background(), g)
	if !IsNotFound(err) {
		t.Fatalf("error = %v, want not-found", err)
	}
}

// recordingRunner captures the capability set each execution received.
type recordingRunner struct {
	caps    []capability.Set
	outputs []graph.NamedValue
	delay   time.Duration
	err     error
}

func (r *recordingRunner) Execute(ctx context.Context, componentID string, inputs []graph.NamedValue, caps capability.Set) ([]graph.NamedValue, error) {
	r.caps = append(r.caps, caps)
	if r.delay > 0 {
		select {
		case <-time.After(r.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return r.outputs, r.err
}

func sandboxedNode(id string) *graph.Node {
	return &graph.Node{
		ID: id, ComponentID: "comp-" + id, Kind: graph.KindSandboxed,
		Outputs: []graph.Port{{Name: "out", Type: graph.TypeU32}},
	}
}

func TestSandboxedNodeUsesResolvedGrant(t *testing.T) {
	runner := &recordingRunner{outputs: []graph.NamedValue{{Name: "out", Value: graph.U32Value(7)}}}
	grant := capability.NewGrant("s", capability.FileRead("/data"))

	g := graph.New()
	mustAdd(t, g, sandboxedNode("s"))

	e := New(runner, nil, func(nodeID string) *capability.Grant {
		if nodeID == "s" {
			return grant
		}
		return nil
	}, Options{})

	if err := e.Run(context.Background(), g); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(runner.caps) != 1 || runner.caps[0].Kind != capability.SetFileRead {
		t.Fatalf("runner received caps %+v, want one file-read set", runner.caps)
	}
	if out := g.Node("s").Output("out"); out == nil || out.Value.U32 != 7 {
		t.Fatalf("output = %+v, want u32 7", out)
	}
}

func TestSandboxedNodeWithoutGrantGetsNone(t *testing.T) {
	runner := &recordingRunner{outputs: []graph.NamedValue{{Name: "out", Value: graph.U32Value(1)}}}

	g := graph.New()
	mustAdd(t, g, sandboxedNode("s"))

	e := New(runner, nil, nil, Options{})
	if err := e.Run(context.Background(), g); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(runner.caps) != 1 || runner.caps[0].Kind != capability.SetNone {
		t.Fatalf("runner received caps %+v, want None", runner.caps)
	}
}

func TestSandboxedNodeTimesOut(t *testing.T) {
	runner := &recordingRunner{delay: time.Second}

	g := graph.New()
	mustAdd(t, g, sandboxedNode("slow"))

	e := New(runner, nil, nil, Options{NodeTimeout: 20 * time.Millisecond})
	err := e.Run(context.Background(), g)
	if !IsTimeout(err) {
		t.Fatalf("error = %v, want timeout", err)
	}
	if g.Node("slow").State != graph.StateFailed {
		t.Fatal("timed-out node not marked failed")
	}
}

func TestCompositeNodeMapsBoundaryPorts(t *testing.T) {
	sub := graph.New()
	if err := sub.AddNode(addNode("inner-add")); err != nil {
		t.Fatalf("AddNode: %v", err)
	}

	outer := &graph.Node{
		ID: "combo", Name: "combo", Kind: graph.KindComposite,
		Inputs: []graph.Port{
			{Name: "x", Type: graph.TypeU32, Value: graph.U32Value(5)},
			{Name: "y", Type: graph.TypeU32, Value: graph.U32Value(3)},
		},
		Outputs: []graph.Port{{Name: "total", Type: graph.TypeU32}},
		Composite: &graph.CompositeData{
			Subgraph: sub,
			Inputs: []graph.BoundaryMapping{
				{OuterPort: "x", InnerNode: "inner-add", InnerPort: "a"},
				{OuterPort: "y", InnerNode: "inner-add", InnerPort: "b"},
			},
			Outputs: []graph.BoundaryMapping{
				{OuterPort: "total", InnerNode: "inner-add", InnerPort: "sum"},
			},
		},
	}

	g := graph.New()
	mustAdd(t, g, outer)

	e := New(nil, nil, nil, Options{})
	if err := e.Run(context.Background(), g); err != nil {
		t.Fatalf("Run: %v", err)
	}

	total := outer.Output("total")
	if total == nil || total.Value.U32 != 8 {
		t.Fatalf("composite total = %+v, want u32 8", total)
	}
	if sub.Node("inner-add").State != graph.StateCompleted {
		t.Fatal("subgraph node not completed")
	}
}

func TestCompositeWithoutSubgraphFails(t *testing.T) {
	g := graph.New()
	mustAdd(t, g, &graph.Node{ID: "broken", Kind: graph.KindComposite})

	e := New(nil, nil, nil, Options{})
	if err := e.Run(context.Background(), g); !IsExecutionError(err) {
		t.Fatalf("error = %v, want execution error", err)
	}
}
