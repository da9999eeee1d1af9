package stores

import (
	"context"
	"database/sql"
	"time"
)

// RunStatus represents the status of a graph execution run
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// NodeRunStatus represents the status of one node within a run
type NodeRunStatus string

const (
	NodeRunStatusPending   NodeRunStatus = "pending"
	NodeRunStatusRunning   NodeRunStatus = "running"
	NodeRunStatusCompleted NodeRunStatus = "completed"
	NodeRunStatusFailed    NodeRunStatus = "failed"
	NodeRunStatusSkipped   NodeRunStatus = "skipped"
)

// EventLevel represents the severity level of an event
type EventLevel string

const (
	EventLevelDebug   EventLevel = "debug"
	EventLevelInfo    EventLevel = "info"
	EventLevelWarning EventLevel = "warning"
	EventLevelError   EventLevel = "error"
)

// ComponentRecord is a loaded component's persistent registration. The
// bytecode itself stays on disk; the record carries identity and metadata.
type ComponentRecord struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Version   string    `json:"version"`
	Source    string    `json:"source"`   // path the bytecode was loaded from
	Metadata  string    `json:"metadata"` // JSON blob of the component's self-description
	SizeBytes int64     `json:"size_bytes"`
	LoadedAt  time.Time `json:"loaded_at"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GrantRecord is a persisted capability grant. Deleting the record revokes
// the grant; there is no disabled state.
type GrantRecord struct {
	ID        string    `json:"id"`
	NodeID    string    `json:"node_id"`
	Kind      string    `json:"kind"`
	Paths     string    `json:"paths"` // JSON array
	Hosts     string    `json:"hosts"` // JSON array
	Scope     string    `json:"scope"`
	CreatedAt time.Time `json:"created_at"`
}

// Run represents one graph execution
type Run struct {
	ID          string     `json:"id"`
	GraphPath   string     `json:"graph_path"`
	Status      RunStatus  `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       *string    `json:"error,omitempty"`
	Metadata    string     `json:"metadata"` // JSON blob
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// NodeRun records one node's execution inside a run
type NodeRun struct {
	ID          string        `json:"id"`
	RunID       string        `json:"run_id"`
	NodeID      string        `json:"node_id"`
	Component   string        `json:"component"`
	Status      NodeRunStatus `json:"status"`
	Outputs     *string       `json:"outputs,omitempty"` // JSON blob
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	Error       *string       `json:"error,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Event represents an append-only log event
type Event struct {
	ID        int64      `json:"id"`
	RunID     *string    `json:"run_id,omitempty"`
	NodeID    *string    `json:"node_id,omitempty"`
	Level     EventLevel `json:"level"`
	Message   string     `json:"message"`
	Details   *string    `json:"details,omitempty"` // JSON blob
	Timestamp time.Time  `json:"timestamp"`
}

// Store defines the interface for the persistence layer
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Transaction support
	BeginTx(ctx context.Context) (*sql.Tx, error)
	CommitTx(tx *sql.Tx) error
	RollbackTx(tx *sql.Tx) error

	// Component operations
	UpsertComponent(ctx context.Context, rec *ComponentRecord) error
	GetComponent(ctx context.Context, id string) (*ComponentRecord, error)
	ListComponents(ctx context.Context, limit, offset int) ([]*ComponentRecord, error)
	DeleteComponent(ctx context.Context, id string) error

	// Grant operations
	CreateGrant(ctx context.Context, rec *GrantRecord) error
	GetGrantForNode(ctx context.Context, nodeID string) (*GrantRecord, error)
	ListGrants(ctx context.Context, limit, offset int) ([]*GrantRecord, error)
	DeleteGrant(ctx context.Context, id string) error
	DeleteGrantsForNode(ctx context.Context, nodeID string) (int64, error)

	// Run operations
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	UpdateRunStatus(ctx context.Context, id string, status RunStatus, err *string) error
	ListRuns(ctx context.Context, limit, offset int) ([]*Run, error)
	DeleteRun(ctx context.Context, id string) error

	// NodeRun operations
	CreateNodeRun(ctx context.Context, nr *NodeRun) error
	GetNodeRun(ctx context.Context, id string) (*NodeRun, error)
	UpdateNodeRunStatus(ctx context.Context, id string, status NodeRunStatus, outputs *string, err *string) error
	ListNodeRunsByRun(ctx context.Context, runID string) ([]*NodeRun, error)

	// Event operations
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, runID *string, nodeID *string, level *EventLevel, limit, offset int) ([]*Event, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
