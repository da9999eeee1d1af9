package graph

import (
	"fmt"

	"github.com/google/uuid"
)

// Connection is a directed edge from one node's output port to another
// node's input port.
type Connection struct {
	FromNode string `json:"from_node"`
	FromPort string `json:"from_port"`
	ToNode   string `json:"to_node"`
	ToPort   string `json:"to_port"`
}

// NodeGraph is the live dataflow graph shared between the orchestrator, the
// editor, and continuous-node workers. Callers that touch it from multiple
// goroutines must hold an external lock; the graph itself carries no
// synchronization so that single-threaded paths stay cheap.
type NodeGraph struct {
	Nodes       map[string]*Node `json:"nodes"`
	Connections []Connection     `json:"connections"`
}

// New creates an empty graph.
func New() *NodeGraph {
	return &NodeGraph{
		Nodes:       make(map[string]*Node),
		Connections: make([]Connection, 0),
	}
}

// NewNodeID returns a fresh unique node identity.
func NewNodeID() string {
	return uuid.New().String()
}

// AddNode inserts a node, assigning an ID when empty and rejecting
// duplicates.
func (g *NodeGraph) AddNode(n *Node) error {
	if n == nil {
		return fmt.Errorf("node is nil")
	}
	if n.ID == "" {
		n.ID = NewNodeID()
	}
	if g.Nodes == nil {
		g.Nodes = make(map[string]*Node)
	}
	if _, exists := g.Nodes[n.ID]; exists {
		return fmt.Errorf("duplicate node ID: %s", n.ID)
	}
	if n.State == "" {
		n.State = StateIdle
	}
	g.Nodes[n.ID] = n
	return nil
}

// RemoveNode deletes a node and every connection touching it.
func (g *NodeGraph) RemoveNode(id string) {
	delete(g.Nodes, id)
	kept := g.Connections[:0]
	for _, c := range g.Connections {
		if c.FromNode != id && c.ToNode != id {
			kept = append(kept, c)
		}
	}
	g.Connections = kept
}

// Connect adds an edge after validating that both endpoints and ports exist.
// An input port accepts at most one incoming edge.
func (g *NodeGraph) Connect(fromNode, fromPort, toNode, toPort string) error {
	src, ok := g.Nodes[fromNode]
	if !ok {
		return fmt.Errorf("source node %s not found", fromNode)
	}
	dst, ok := g.Nodes[toNode]
	if !ok {
		return fmt.Errorf("target node %s not found", toNode)
	}
	if src.Output(fromPort) == nil {
		return fmt.Errorf("node %s has no output port %q", fromNode, fromPort)
	}
	if dst.Input(toPort) == nil {
		return fmt.Errorf("node %s has no input port %q", toNode, toPort)
	}
	for _, c := range g.Connections {
		if c.ToNode == toNode && c.ToPort == toPort {
			return fmt.Errorf("input port %s.%s already connected", toNode, toPort)
		}
	}
	g.Connections = append(g.Connections, Connection{
		FromNode: fromNode,
		FromPort: fromPort,
		ToNode:   toNode,
		ToPort:   toPort,
	})
	return nil
}

// Node returns the node by id, or nil.
func (g *NodeGraph) Node(id string) *Node {
	return g.Nodes[id]
}

// Upstream returns the connections feeding the given node's inputs.
func (g *NodeGraph) Upstream(nodeID string) []Connection {
	var in []Connection
	for _, c := range g.Connections {
		if c.ToNode == nodeID {
			in = append(in, c)
		}
	}
	return in
}

// Downstream returns the connections leaving the given node's outputs.
func (g *NodeGraph) Downstream(nodeID string) []Connection {
	var out []Connection
	for _, c := range g.Connections {
		if c.FromNode == nodeID {
			out = append(out, c)
		}
	}
	return out
}

// ApplyOutputs writes execution outputs onto the node's output ports.
// Unknown port names are ignored so that components adding outputs stay
// compatible with older graphs.
func (g *NodeGraph) ApplyOutputs(nodeID string, outputs []NamedValue) error {
	n, ok := g.Nodes[nodeID]
	if !ok {
		return fmt.Errorf("node %s not found", nodeID)
	}
	for _, out := range outputs {
		if p := n.Output(out.Name); p != nil {
			p.Value = out.Value
		}
	}
	return nil
}

// PropagateInputs copies upstream output values onto the node's input ports.
func (g *NodeGraph) PropagateInputs(nodeID string) error {
	n, ok := g.Nodes[nodeID]
	if !ok {
		return fmt.Errorf("node %s not found", nodeID)
	}
	for _, c := range g.Upstream(nodeID) {
		src, ok := g.Nodes[c.FromNode]
		if !ok {
			return fmt.Errorf("connection references missing node %s", c.FromNode)
		}
		srcPort := src.Output(c.FromPort)
		dstPort := n.Input(c.ToPort)
		if srcPort == nil || dstPort == nil {
			return fmt.Errorf("connection %s.%s -> %s.%s references missing port",
				c.FromNode, c.FromPort, c.ToNode, c.ToPort)
		}
		dstPort.Value = srcPort.Value
	}
	return nil
}

// MarkDirty flags a node for incremental re-execution.
func (g *NodeGraph) MarkDirty(nodeID string) {
	if n, ok := g.Nodes[nodeID]; ok {
		n.Dirty = true
	}
}

// DirtyNodes returns the ids of all dirty nodes.
func (g *NodeGraph) DirtyNodes() []string {
	var ids []string
	for id, n := range g.Nodes {
		if n.Dirty {
			ids = append(ids, id)
		}
	}
	return ids
}

// ResetStates sets every node back to Idle, as at the start of a full run.
func (g *NodeGraph) ResetStates() {
	for _, n := range g.Nodes {
		n.State = StateIdle
	}
}

// Dependents returns the transitive downstream closure of the given seed
// nodes, including the seeds themselves.
func (g *NodeGraph) Dependents(seeds []string) map[string]bool {
	affected := make(map[string]bool, len(seeds))
	queue := append([]string(nil), seeds...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if affected[id] {
			continue
		}
		affected[id] = true
		for _, c := range g.Downstream(id) {
			if !affected[c.ToNode] {
				queue = append(queue, c.ToNode)
			}
		}
	}
	return affected
}
