// Package engine orders and executes dataflow graphs.
//
// A run computes a topological order over the graph, then drives each node
// in turn: upstream output values are copied onto input ports, the node is
// dispatched by kind (builtin handler, sandboxed component, or composite
// subgraph), and its outputs are written back to the graph. The first
// failure halts the batch. Incremental runs restrict the order to dirty
// nodes and their transitive dependents, clearing the dirty flag only on
// success so failed nodes are retried.
//
// Node handlers run on short-lived worker goroutines; panics are contained
// and surfaced as trap errors, and sandboxed executions carry a timeout.
package engine
