package continuous

import (
	"time"

	"github.com/google/uuid"

	"github.com/nodeweave/nodeweave/pkg/graph"
)

// EventType classifies events emitted by continuous workers.
type EventType string

const (
	// EventOutputsUpdated signals that one iteration completed and the
	// node's outputs carry new values.
	EventOutputsUpdated EventType = "outputs_updated"

	// EventError signals that an iteration failed or panicked. A worker
	// emits at most one Error event, then its loop ends.
	EventError EventType = "error"
)

// Event is one notification from a continuous worker. Orchestrators consume
// these to drive downstream re-execution; there is no global barrier.
type Event struct {
	// ID uniquely identifies the event.
	ID string `json:"id"`

	// Type is the event classification.
	Type EventType `json:"type"`

	// NodeID is the continuous node the event concerns.
	NodeID string `json:"node_id"`

	// Outputs carries the iteration's output values for outputs_updated.
	Outputs []graph.NamedValue `json:"outputs,omitempty"`

	// Message carries the failure description for error events.
	Message string `json:"message,omitempty"`

	// Timestamp records when the event was emitted.
	Timestamp time.Time `json:"timestamp"`
}

func newEvent(eventType EventType, nodeID string) Event {
	return Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		NodeID:    nodeID,
		Timestamp: time.Now().UTC(),
	}
}
