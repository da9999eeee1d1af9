package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	return &SQLiteStore{
		path: cfg.Path,
	}, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	// Foreign keys are a connection-level setting
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// BeginTx starts a new transaction
func (s *SQLiteStore) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelSerializable,
	})
}

// CommitTx commits a transaction
func (s *SQLiteStore) CommitTx(tx *sql.Tx) error {
	return tx.Commit()
}

// RollbackTx rolls back a transaction
func (s *SQLiteStore) RollbackTx(tx *sql.Tx) error {
	return tx.Rollback()
}

// UpsertComponent inserts or updates a component registration
func (s *SQLiteStore) UpsertComponent(ctx context.Context, rec *ComponentRecord) error {
	query := `
		INSERT INTO components (id, name, version, source, metadata, size_bytes, loaded_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			version = excluded.version,
			source = excluded.source,
			metadata = excluded.metadata,
			size_bytes = excluded.size_bytes,
			loaded_at = excluded.loaded_at,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID,
		rec.Name,
		rec.Version,
		rec.Source,
		rec.Metadata,
		rec.SizeBytes,
		rec.LoadedAt,
		rec.CreatedAt,
		rec.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to upsert component: %w", err)
	}

	return nil
}

// GetComponent retrieves a component by ID
func (s *SQLiteStore) GetComponent(ctx context.Context, id string) (*ComponentRecord, error) {
	query := `
		SELECT id, name, version, source, metadata, size_bytes, loaded_at, created_at, updated_at
		FROM components
		WHERE id = ?
	`

	rec := &ComponentRecord{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&rec.ID,
		&rec.Name,
		&rec.Version,
		&rec.Source,
		&rec.Metadata,
		&rec.SizeBytes,
		&rec.LoadedAt,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("component not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get component: %w", err)
	}

	return rec, nil
}

// ListComponents lists component registrations with pagination
func (s *SQLiteStore) ListComponents(ctx context.Context, limit, offset int) ([]*ComponentRecord, error) {
	query := `
		SELECT id, name, version, source, metadata, size_bytes, loaded_at, created_at, updated_at
		FROM components
		ORDER BY name ASC, version ASC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list components: %w", err)
	}
	defer rows.Close()

	records := []*ComponentRecord{}
	for rows.Next() {
		rec := &ComponentRecord{}
		err := rows.Scan(
			&rec.ID,
			&rec.Name,
			&rec.Version,
			&rec.Source,
			&rec.Metadata,
			&rec.SizeBytes,
			&rec.LoadedAt,
			&rec.CreatedAt,
			&rec.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan component: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating components: %w", err)
	}

	return records, nil
}

// DeleteComponent deletes a component registration by ID
func (s *SQLiteStore) DeleteComponent(ctx context.Context, id string) error {
	query := `DELETE FROM components WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete component: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("component not found: %s", id)
	}

	return nil
}

// CreateGrant persists a capability grant
func (s *SQLiteStore) CreateGrant(ctx context.Context, rec *GrantRecord) error {
	query := `
		INSERT INTO grants (id, node_id, kind, paths, hosts, scope, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID,
		rec.NodeID,
		rec.Kind,
		rec.Paths,
		rec.Hosts,
		rec.Scope,
		rec.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create grant: %w", err)
	}

	return nil
}

// GetGrantForNode retrieves the most recent grant for a node
func (s *SQLiteStore) GetGrantForNode(ctx context.Context, nodeID string) (*GrantRecord, error) {
	query := `
		SELECT id, node_id, kind, paths, hosts, scope, created_at
		FROM grants
		WHERE node_id = ?
		ORDER BY created_at DESC
		LIMIT 1
	`

	rec := &GrantRecord{}
	err := s.db.QueryRowContext(ctx, query, nodeID).Scan(
		&rec.ID,
		&rec.NodeID,
		&rec.Kind,
		&rec.Paths,
		&rec.Hosts,
		&rec.Scope,
		&rec.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no grant for node: %s", nodeID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get grant: %w", err)
	}

	return rec, nil
}

// ListGrants lists grants with pagination
func (s *SQLiteStore) ListGrants(ctx context.Context, limit, offset int) ([]*GrantRecord, error) {
	query := `
		SELECT id, node_id, kind, paths, hosts, scope, created_at
		FROM grants
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list grants: %w", err)
	}
	defer rows.Close()

	records := []*GrantRecord{}
	for rows.Next() {
		rec := &GrantRecord{}
		err := rows.Scan(
			&rec.ID,
			&rec.NodeID,
			&rec.Kind,
			&rec.Paths,
			&rec.Hosts,
			&rec.Scope,
			&rec.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan grant: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating grants: %w", err)
	}

	return records, nil
}

// DeleteGrant revokes a grant by deleting its record
func (s *SQLiteStore) DeleteGrant(ctx context.Context, id string) error {
	query := `DELETE FROM grants WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete grant: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("grant not found: %s", id)
	}

	return nil
}

// DeleteGrantsForNode revokes all grants bound to a node
func (s *SQLiteStore) DeleteGrantsForNode(ctx context.Context, nodeID string) (int64, error) {
	query := `DELETE FROM grants WHERE node_id = ?`

	result, err := s.db.ExecContext(ctx, query, nodeID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete grants: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows, nil
}

// CreateRun creates a new run record
func (s *SQLiteStore) CreateRun(ctx context.Context, run *Run) error {
	query := `
		INSERT INTO runs (id, graph_path, status, started_at, completed_at, error, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		run.GraphPath,
		run.Status,
		run.StartedAt,
		run.CompletedAt,
		run.Error,
		run.Metadata,
		run.CreatedAt,
		run.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	return nil
}

// GetRun retrieves a run by ID
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	query := `
		SELECT id, graph_path, status, started_at, completed_at, error, metadata, created_at, updated_at
		FROM runs
		WHERE id = ?
	`

	run := &Run{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&run.ID,
		&run.GraphPath,
		&run.Status,
		&run.StartedAt,
		&run.CompletedAt,
		&run.Error,
		&run.Metadata,
		&run.CreatedAt,
		&run.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return run, nil
}

// UpdateRunStatus updates the status of a run
func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, id string, status RunStatus, errMsg *string) error {
	query := `
		UPDATE runs
		SET status = ?, error = ?, completed_at = ?
		WHERE id = ?
	`

	var completedAt *time.Time
	if status == RunStatusCompleted || status == RunStatusFailed || status == RunStatusCancelled {
		now := time.Now()
		completedAt = &now
	}

	result, err := s.db.ExecContext(ctx, query, status, errMsg, completedAt, id)
	if err != nil {
		return fmt.Errorf("failed to update run status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("run not found: %s", id)
	}

	return nil
}

// ListRuns lists runs with pagination
func (s *SQLiteStore) ListRuns(ctx context.Context, limit, offset int) ([]*Run, error) {
	query := `
		SELECT id, graph_path, status, started_at, completed_at, error, metadata, created_at, updated_at
		FROM runs
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*Run{}
	for rows.Next() {
		run := &Run{}
		err := rows.Scan(
			&run.ID,
			&run.GraphPath,
			&run.Status,
			&run.StartedAt,
			&run.CompletedAt,
			&run.Error,
			&run.Metadata,
			&run.CreatedAt,
			&run.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// DeleteRun deletes a run by ID
func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	query := `DELETE FROM runs WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("run not found: %s", id)
	}

	return nil
}

// CreateNodeRun creates a new node run record
func (s *SQLiteStore) CreateNodeRun(ctx context.Context, nr *NodeRun) error {
	query := `
		INSERT INTO node_runs (
			id, run_id, node_id, component, status, outputs,
			started_at, completed_at, error, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		nr.ID,
		nr.RunID,
		nr.NodeID,
		nr.Component,
		nr.Status,
		nr.Outputs,
		nr.StartedAt,
		nr.CompletedAt,
		nr.Error,
		nr.CreatedAt,
		nr.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create node run: %w", err)
	}

	return nil
}

// GetNodeRun retrieves a node run by ID
func (s *SQLiteStore) GetNodeRun(ctx context.Context, id string) (*NodeRun, error) {
	query := `
		SELECT id, run_id, node_id, component, status, outputs,
			   started_at, completed_at, error, created_at, updated_at
		FROM node_runs
		WHERE id = ?
	`

	nr := &NodeRun{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&nr.ID,
		&nr.RunID,
		&nr.NodeID,
		&nr.Component,
		&nr.Status,
		&nr.Outputs,
		&nr.StartedAt,
		&nr.CompletedAt,
		&nr.Error,
		&nr.CreatedAt,
		&nr.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("node run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get node run: %w", err)
	}

	return nr, nil
}

// UpdateNodeRunStatus updates the status of a node run
func (s *SQLiteStore) UpdateNodeRunStatus(ctx context.Context, id string, status NodeRunStatus, outputs *string, errMsg *string) error {
	query := `
		UPDATE node_runs
		SET status = ?, outputs = ?, error = ?,
			started_at = CASE WHEN started_at IS NULL AND ? = 'running' THEN CURRENT_TIMESTAMP ELSE started_at END,
			completed_at = CASE WHEN ? IN ('completed', 'failed', 'skipped') THEN CURRENT_TIMESTAMP ELSE completed_at END
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query, status, outputs, errMsg, status, status, id)
	if err != nil {
		return fmt.Errorf("failed to update node run status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("node run not found: %s", id)
	}

	return nil
}

// ListNodeRunsByRun lists all node runs for a run
func (s *SQLiteStore) ListNodeRunsByRun(ctx context.Context, runID string) ([]*NodeRun, error) {
	query := `
		SELECT id, run_id, node_id, component, status, outputs,
			   started_at, completed_at, error, created_at, updated_at
		FROM node_runs
		WHERE run_id = ?
		ORDER BY created_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list node runs: %w", err)
	}
	defer rows.Close()

	nodeRuns := []*NodeRun{}
	for rows.Next() {
		nr := &NodeRun{}
		err := rows.Scan(
			&nr.ID,
			&nr.RunID,
			&nr.NodeID,
			&nr.Component,
			&nr.Status,
			&nr.Outputs,
			&nr.StartedAt,
			&nr.CompletedAt,
			&nr.Error,
			&nr.CreatedAt,
			&nr.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan node run: %w", err)
		}
		nodeRuns = append(nodeRuns, nr)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating node runs: %w", err)
	}

	return nodeRuns, nil
}

// AppendEvent appends a new event to the log
func (s *SQLiteStore) AppendEvent(ctx context.Context, event *Event) error {
	query := `
		INSERT INTO events (run_id, node_id, level, message, details, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		event.RunID,
		event.NodeID,
		event.Level,
		event.Message,
		event.Details,
		event.Timestamp,
	)

	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get event ID: %w", err)
	}

	event.ID = id
	return nil
}

// GetEvents retrieves events with optional filters and pagination
func (s *SQLiteStore) GetEvents(ctx context.Context, runID *string, nodeID *string, level *EventLevel, limit, offset int) ([]*Event, error) {
	query := `
		SELECT id, run_id, node_id, level, message, details, timestamp
		FROM events
		WHERE (? IS NULL OR run_id = ?)
		  AND (? IS NULL OR node_id = ?)
		  AND (? IS NULL OR level = ?)
		ORDER BY timestamp DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, runID, runID, nodeID, nodeID, level, level, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	events := []*Event{}
	for rows.Next() {
		event := &Event{}
		err := rows.Scan(
			&event.ID,
			&event.RunID,
			&event.NodeID,
			&event.Level,
			&event.Message,
			&event.Details,
			&event.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}
