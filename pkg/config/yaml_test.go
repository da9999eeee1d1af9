package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nodeweave/nodeweave/pkg/capability"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadRuntimeConfig(t *testing.T) {
	path := writeTemp(t, "weave.yaml", `
components_dir: /srv/components
node_timeout: 10s
log_level: debug
metrics_addr: ":9100"
`)

	cfg, err := LoadRuntimeConfig(path)
	if err != nil {
		t.Fatalf("LoadRuntimeConfig: %v", err)
	}
	if cfg.ComponentsDir != "/srv/components" {
		t.Fatalf("components_dir = %q", cfg.ComponentsDir)
	}
	if cfg.NodeTimeoutDuration() != 10*time.Second {
		t.Fatalf("node timeout = %s, want 10s", cfg.NodeTimeoutDuration())
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("log_level = %q", cfg.LogLevel)
	}
	// Unset fields keep their defaults.
	if cfg.StorePath != "nodeweave.db" {
		t.Fatalf("store_path = %q, want default", cfg.StorePath)
	}
}

func TestLoadRuntimeConfigRejectsBadLevel(t *testing.T) {
	path := writeTemp(t, "weave.yaml", `log_level: verbose`)

	if _, err := LoadRuntimeConfig(path); err == nil {
		t.Fatal("expected error for unknown log level")
	}
}

func TestNodeTimeoutDurationFallback(t *testing.T) {
	cfg := RuntimeConfig{NodeTimeout: "not-a-duration"}
	if cfg.NodeTimeoutDuration() != 30*time.Second {
		t.Fatalf("fallback = %s, want 30s", cfg.NodeTimeoutDuration())
	}
}

func TestLoadGrantsFile(t *testing.T) {
	path := writeTemp(t, "grants.yaml", `
grants:
  reader:
    kind: file-read
    paths: ["/data"]
    scope: "read input files"
  fetcher:
    kind: network
    hosts: ["api.example.com"]
`)

	grants, err := LoadGrantsFile(path)
	if err != nil {
		t.Fatalf("LoadGrantsFile: %v", err)
	}
	if len(grants) != 2 {
		t.Fatalf("grant count = %d, want 2", len(grants))
	}

	byNode := map[string]capability.SetKind{}
	for _, g := range grants {
		byNode[g.NodeID] = g.Set.Kind
	}
	if byNode["reader"] != capability.SetFileRead {
		t.Fatalf("reader kind = %s", byNode["reader"])
	}
	if byNode["fetcher"] != capability.SetNetwork {
		t.Fatalf("fetcher kind = %s", byNode["fetcher"])
	}
}

func TestLoadGrantsFileRejectsRelativePath(t *testing.T) {
	path := writeTemp(t, "grants.yaml", `
grants:
  reader:
    kind: file-read
    paths: ["data"]
`)

	if _, err := LoadGrantsFile(path); err == nil {
		t.Fatal("expected error for relative grant path")
	}
}
