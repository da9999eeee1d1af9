package component

import (
	"context"
	"fmt"
	"testing"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// fakeCompiled stands in for a compiled module. Embedding the interface
// keeps the stub small; only the methods the cache and pool touch are
// overridden.
type fakeCompiled struct {
	wazero.CompiledModule

	name    string
	exports map[string]api.FunctionDefinition
	closed  bool
}

func (f *fakeCompiled) ExportedFunctions() map[string]api.FunctionDefinition {
	return f.exports
}

func (f *fakeCompiled) Close(context.Context) error {
	f.closed = true
	return nil
}

func newFakeCompiled(name string) *fakeCompiled {
	return &fakeCompiled{
		name: name,
		exports: map[string]api.FunctionDefinition{
			guestExportAllocate: nil,
			guestExportRun:      nil,
			guestExportMetadata: nil,
		},
	}
}

func TestModuleCacheHitAndMiss(t *testing.T) {
	cache := NewModuleCache(4, nil)
	ctx := context.Background()

	if _, ok := cache.Get("a"); ok {
		t.Fatal("expected miss on empty cache")
	}

	mod := newFakeCompiled("a")
	cache.Put(ctx, "a", mod)

	got, ok := cache.Get("a")
	if !ok {
		t.Fatal("expected hit after Put")
	}
	if got != wazero.CompiledModule(mod) {
		t.Fatal("Get returned a different module than Put stored")
	}
}

func TestModuleCacheEvictsLeastRecentlyUsed(t *testing.T) {
	var evicted []string
	cache := NewModuleCache(2, func(id string) { evicted = append(evicted, id) })
	ctx := context.Background()

	a := newFakeCompiled("a")
	b := newFakeCompiled("b")
	c := newFakeCompiled("c")

	cache.Put(ctx, "a", a)
	cache.Put(ctx, "b", b)

	// Touch "a" so "b" becomes the least recently used entry.
	if _, ok := cache.Get("a"); !ok {
		t.Fatal("expected hit for a")
	}

	cache.Put(ctx, "c", c)

	if _, ok := cache.Get("b"); ok {
		t.Fatal("expected b to be evicted")
	}
	if _, ok := cache.Get("a"); !ok {
		t.Fatal("expected a to survive eviction")
	}
	if !b.closed {
		t.Fatal("expected evicted module to be closed")
	}
	if len(evicted) != 1 || evicted[0] != "b" {
		t.Fatalf("evicted = %v, want [b]", evicted)
	}
}

func TestModuleCacheReplaceClosesOldCompilation(t *testing.T) {
	cache := NewModuleCache(4, nil)
	ctx := context.Background()

	old := newFakeCompiled("a")
	cache.Put(ctx, "a", old)

	replacement := newFakeCompiled("a2")
	cache.Put(ctx, "a", replacement)

	if !old.closed {
		t.Fatal("expected replaced compilation to be closed")
	}
	got, ok := cache.Get("a")
	if !ok || got != wazero.CompiledModule(replacement) {
		t.Fatal("expected replacement to be the cached module")
	}
	if cache.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", cache.Len())
	}
}

func TestModuleCacheRemoveAndClose(t *testing.T) {
	cache := NewModuleCache(8, nil)
	ctx := context.Background()

	mods := make([]*fakeCompiled, 0, 3)
	for i := 0; i < 3; i++ {
		m := newFakeCompiled(fmt.Sprintf("m%d", i))
		mods = append(mods, m)
		cache.Put(ctx, m.name, m)
	}

	cache.Remove(ctx, "m1")
	if !mods[1].closed {
		t.Fatal("expected removed module to be closed")
	}
	if _, ok := cache.Get("m1"); ok {
		t.Fatal("expected miss after Remove")
	}

	cache.Close(ctx)
	for _, m := range mods {
		if !m.closed {
			t.Fatalf("expected %s to be closed after cache Close", m.name)
		}
	}
	if cache.Len() != 0 {
		t.Fatalf("Len() = %d after Close, want 0", cache.Len())
	}
}
