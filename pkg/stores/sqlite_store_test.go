package stores

import (
	"context"
	"testing"
	"time"
)

// setupTestStore creates an in-memory SQLite store for testing
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}

	return store
}

func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

func TestStoreRequiresPath(t *testing.T) {
	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestComponentCRUD(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()
	ctx := context.Background()

	now := time.Now()
	rec := &ComponentRecord{
		ID:        "comp-1",
		Name:      "http-fetcher",
		Version:   "1.2.0",
		Source:    "/components/http-fetcher.wasm",
		Metadata:  `{"name":"http-fetcher"}`,
		SizeBytes: 4096,
		LoadedAt:  now,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := store.UpsertComponent(ctx, rec); err != nil {
		t.Fatalf("UpsertComponent: %v", err)
	}

	got, err := store.GetComponent(ctx, "comp-1")
	if err != nil {
		t.Fatalf("GetComponent: %v", err)
	}
	if got.Name != "http-fetcher" || got.Version != "1.2.0" {
		t.Errorf("got %s@%s, want http-fetcher@1.2.0", got.Name, got.Version)
	}

	// Upsert with the same ID replaces the registration
	rec.Version = "1.3.0"
	rec.UpdatedAt = time.Now()
	if err := store.UpsertComponent(ctx, rec); err != nil {
		t.Fatalf("UpsertComponent replace: %v", err)
	}
	got, err = store.GetComponent(ctx, "comp-1")
	if err != nil {
		t.Fatalf("GetComponent after replace: %v", err)
	}
	if got.Version != "1.3.0" {
		t.Errorf("version = %s, want 1.3.0", got.Version)
	}

	list, err := store.ListComponents(ctx, 10, 0)
	if err != nil {
		t.Fatalf("ListComponents: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("expected 1 component, got %d", len(list))
	}

	if err := store.DeleteComponent(ctx, "comp-1"); err != nil {
		t.Fatalf("DeleteComponent: %v", err)
	}
	if _, err := store.GetComponent(ctx, "comp-1"); err == nil {
		t.Error("expected error for deleted component")
	}
	if err := store.DeleteComponent(ctx, "comp-1"); err == nil {
		t.Error("expected error deleting missing component")
	}
}

func TestGrantRevocationByDeletion(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()
	ctx := context.Background()

	rec := &GrantRecord{
		ID:        "grant-1",
		NodeID:    "fetcher",
		Kind:      "network",
		Paths:     "[]",
		Hosts:     `["api.example.com"]`,
		Scope:     "fetch weather data",
		CreatedAt: time.Now(),
	}

	if err := store.CreateGrant(ctx, rec); err != nil {
		t.Fatalf("CreateGrant: %v", err)
	}

	got, err := store.GetGrantForNode(ctx, "fetcher")
	if err != nil {
		t.Fatalf("GetGrantForNode: %v", err)
	}
	if got.Kind != "network" {
		t.Errorf("kind = %s, want network", got.Kind)
	}

	if err := store.DeleteGrant(ctx, "grant-1"); err != nil {
		t.Fatalf("DeleteGrant: %v", err)
	}

	if _, err := store.GetGrantForNode(ctx, "fetcher"); err == nil {
		t.Error("expected no grant after revocation")
	}
}

func TestGrantLatestWinsPerNode(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()
	ctx := context.Background()

	base := time.Now()
	older := &GrantRecord{
		ID: "grant-old", NodeID: "writer", Kind: "file-read",
		Paths: `["/data"]`, Hosts: "[]", CreatedAt: base,
	}
	newer := &GrantRecord{
		ID: "grant-new", NodeID: "writer", Kind: "file-read-write",
		Paths: `["/data"]`, Hosts: "[]", CreatedAt: base.Add(time.Second),
	}

	if err := store.CreateGrant(ctx, older); err != nil {
		t.Fatalf("CreateGrant old: %v", err)
	}
	if err := store.CreateGrant(ctx, newer); err != nil {
		t.Fatalf("CreateGrant new: %v", err)
	}

	got, err := store.GetGrantForNode(ctx, "writer")
	if err != nil {
		t.Fatalf("GetGrantForNode: %v", err)
	}
	if got.ID != "grant-new" {
		t.Errorf("got grant %s, want grant-new", got.ID)
	}

	deleted, err := store.DeleteGrantsForNode(ctx, "writer")
	if err != nil {
		t.Fatalf("DeleteGrantsForNode: %v", err)
	}
	if deleted != 2 {
		t.Errorf("deleted = %d, want 2", deleted)
	}
}

func TestRunLifecycle(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()
	ctx := context.Background()

	run := &Run{
		ID:        "run-1",
		GraphPath: "/graphs/weather.cue",
		Status:    RunStatusPending,
		StartedAt: time.Now(),
		Metadata:  "{}",
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	if err := store.UpdateRunStatus(ctx, "run-1", RunStatusRunning, nil); err != nil {
		t.Fatalf("UpdateRunStatus running: %v", err)
	}

	errMsg := "node fetcher failed"
	if err := store.UpdateRunStatus(ctx, "run-1", RunStatusFailed, &errMsg); err != nil {
		t.Fatalf("UpdateRunStatus failed: %v", err)
	}

	got, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != RunStatusFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}
	if got.Error == nil || *got.Error != errMsg {
		t.Errorf("error = %v, want %q", got.Error, errMsg)
	}
	if got.CompletedAt == nil {
		t.Error("expected completed_at set for terminal status")
	}

	if err := store.UpdateRunStatus(ctx, "missing", RunStatusRunning, nil); err == nil {
		t.Error("expected error updating missing run")
	}
}

func TestNodeRunsOrderedByCreation(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()
	ctx := context.Background()

	run := &Run{
		ID: "run-2", GraphPath: "g.cue", Status: RunStatusRunning,
		StartedAt: time.Now(), Metadata: "{}",
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	base := time.Now()
	for i, nodeID := range []string{"five", "three", "adder"} {
		nr := &NodeRun{
			ID:        "nr-" + nodeID,
			RunID:     "run-2",
			NodeID:    nodeID,
			Component: "builtin.add",
			Status:    NodeRunStatusPending,
			CreatedAt: base.Add(time.Duration(i) * time.Millisecond),
			UpdatedAt: base,
		}
		if err := store.CreateNodeRun(ctx, nr); err != nil {
			t.Fatalf("CreateNodeRun %s: %v", nodeID, err)
		}
	}

	outputs := `{"sum":8}`
	if err := store.UpdateNodeRunStatus(ctx, "nr-adder", NodeRunStatusCompleted, &outputs, nil); err != nil {
		t.Fatalf("UpdateNodeRunStatus: %v", err)
	}

	nodeRuns, err := store.ListNodeRunsByRun(ctx, "run-2")
	if err != nil {
		t.Fatalf("ListNodeRunsByRun: %v", err)
	}
	if len(nodeRuns) != 3 {
		t.Fatalf("expected 3 node runs, got %d", len(nodeRuns))
	}
	if nodeRuns[0].NodeID != "five" || nodeRuns[2].NodeID != "adder" {
		t.Errorf("unexpected order: %s, %s, %s", nodeRuns[0].NodeID, nodeRuns[1].NodeID, nodeRuns[2].NodeID)
	}

	got, err := store.GetNodeRun(ctx, "nr-adder")
	if err != nil {
		t.Fatalf("GetNodeRun: %v", err)
	}
	if got.Status != NodeRunStatusCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}
	if got.Outputs == nil || *got.Outputs != outputs {
		t.Errorf("outputs = %v, want %q", got.Outputs, outputs)
	}
}

func TestEventsAppendAndFilter(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()
	ctx := context.Background()

	runID := "run-3"
	nodeID := "fetcher"
	for i, level := range []EventLevel{EventLevelInfo, EventLevelError, EventLevelDebug} {
		ev := &Event{
			RunID:     &runID,
			NodeID:    &nodeID,
			Level:     level,
			Message:   "event",
			Timestamp: time.Now().Add(time.Duration(i) * time.Millisecond),
		}
		if err := store.AppendEvent(ctx, ev); err != nil {
			t.Fatalf("AppendEvent: %v", err)
		}
		if ev.ID == 0 {
			t.Error("expected auto-assigned event ID")
		}
	}

	all, err := store.GetEvents(ctx, &runID, nil, nil, 10, 0)
	if err != nil {
		t.Fatalf("GetEvents: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 events, got %d", len(all))
	}

	level := EventLevelError
	errs, err := store.GetEvents(ctx, &runID, &nodeID, &level, 10, 0)
	if err != nil {
		t.Fatalf("GetEvents filtered: %v", err)
	}
	if len(errs) != 1 {
		t.Errorf("expected 1 error event, got %d", len(errs))
	}

	other := "run-other"
	none, err := store.GetEvents(ctx, &other, nil, nil, 10, 0)
	if err != nil {
		t.Fatalf("GetEvents other run: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("expected 0 events for other run, got %d", len(none))
	}
}
