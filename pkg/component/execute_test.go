package component

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/nodeweave/nodeweave/pkg/capability"
	"github.com/nodeweave/nodeweave/pkg/engine"
	"github.com/nodeweave/nodeweave/pkg/graph"
)

// The tests below run real guests through the full wazero path. The guest
// binaries are assembled by hand: the ABI only needs memory, allocate, run,
// and metadata exports returning canned JSON payloads, which a few dozen
// bytes of WASM can provide without a guest toolchain.

const (
	guestDataOffset = 1024
	guestHeapPtr    = 8192
)

func uleb128(n uint64) []byte {
	var out []byte
	for {
		b := byte(n & 0x7f)
		n >>= 7
		if n != 0 {
			b |= 0x80
		}
		out = append(out, b)
		if n == 0 {
			return out
		}
	}
}

func sleb128(n int64) []byte {
	var out []byte
	for {
		b := byte(n & 0x7f)
		n >>= 7
		if (n == 0 && b&0x40 == 0) || (n == -1 && b&0x40 != 0) {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

func wasmConcat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func wasmSection(id byte, body []byte) []byte {
	return wasmConcat([]byte{id}, uleb128(uint64(len(body))), body)
}

func wasmName(s string) []byte {
	return append(uleb128(uint64(len(s))), s...)
}

// wasmFunc wraps an instruction sequence as a size-prefixed code entry with
// no locals.
func wasmFunc(instrs []byte) []byte {
	body := wasmConcat([]byte{0x00}, instrs, []byte{0x0b})
	return wasmConcat(uleb128(uint64(len(body))), body)
}

func i32Const(n int64) []byte { return append([]byte{0x41}, sleb128(n)...) }
func i64Const(n int64) []byte { return append([]byte{0x42}, sleb128(n)...) }

// constGuestWASM assembles a guest whose metadata and run exports return the
// given payloads from a data segment. allocate hands out a fixed scratch
// buffer, which is enough for one request per call.
func constGuestWASM(metadataJSON, runJSON string) []byte {
	data := metadataJSON + runJSON
	mdPacked := packPtrLen(guestDataOffset, uint32(len(metadataJSON)))
	runPacked := packPtrLen(guestDataOffset+uint32(len(metadataJSON)), uint32(len(runJSON)))

	return wasmConcat(
		[]byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00},
		// Types: 0 = (i32)->i32, 1 = (i64)->i64.
		wasmSection(1, wasmConcat(
			uleb128(2),
			[]byte{0x60, 0x01, 0x7f, 0x01, 0x7f},
			[]byte{0x60, 0x01, 0x7e, 0x01, 0x7e},
		)),
		// Functions: allocate, run, metadata.
		wasmSection(3, wasmConcat(uleb128(3), []byte{0x00, 0x01, 0x01})),
		// One memory page.
		wasmSection(5, []byte{0x01, 0x00, 0x01}),
		wasmSection(7, wasmConcat(
			uleb128(4),
			wasmName("memory"), []byte{0x02, 0x00},
			wasmName("allocate"), []byte{0x00, 0x00},
			wasmName("run"), []byte{0x00, 0x01},
			wasmName("metadata"), []byte{0x00, 0x02},
		)),
		wasmSection(10, wasmConcat(
			uleb128(3),
			wasmFunc(i32Const(guestHeapPtr)),
			wasmFunc(i64Const(int64(runPacked))),
			wasmFunc(i64Const(int64(mdPacked))),
		)),
		wasmSection(11, wasmConcat(
			uleb128(1),
			[]byte{0x00}, i32Const(guestDataOffset), []byte{0x0b},
			uleb128(uint64(len(data))), []byte(data),
		)),
	)
}

// writerGuestWASM assembles a guest whose run export opens fileName on the
// first preopened directory with write intent via WASI path_open. A nonzero
// errno yields errJSON, success yields okJSON; whether the sandbox permits
// the write decides which branch runs.
func writerGuestWASM(metadataJSON, fileName, okJSON, errJSON string) []byte {
	data := metadataJSON + fileName + okJSON + errJSON
	pathOff := guestDataOffset + len(metadataJSON)
	okOff := pathOff + len(fileName)
	errOff := okOff + len(okJSON)

	mdPacked := packPtrLen(guestDataOffset, uint32(len(metadataJSON)))
	okPacked := packPtrLen(uint32(okOff), uint32(len(okJSON)))
	errPacked := packPtrLen(uint32(errOff), uint32(len(errJSON)))

	runInstrs := wasmConcat(
		i32Const(3), // first preopen
		i32Const(0), // dirflags
		i32Const(int64(pathOff)),
		i32Const(int64(len(fileName))),
		i32Const(8),  // oflags: truncate
		i64Const(64), // rights: fd_write
		i64Const(0),  // inherited rights
		i32Const(0),  // fdflags
		i32Const(256),
		[]byte{0x10, 0x00}, // call path_open
		[]byte{0x04, 0x7e}, // if errno != 0
		i64Const(int64(errPacked)),
		[]byte{0x05},
		i64Const(int64(okPacked)),
		[]byte{0x0b},
	)

	return wasmConcat(
		[]byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00},
		// Types: 0 = (i32)->i32, 1 = (i64)->i64, 2 = path_open.
		wasmSection(1, wasmConcat(
			uleb128(3),
			[]byte{0x60, 0x01, 0x7f, 0x01, 0x7f},
			[]byte{0x60, 0x01, 0x7e, 0x01, 0x7e},
			[]byte{0x60, 0x09, 0x7f, 0x7f, 0x7f, 0x7f, 0x7f, 0x7e, 0x7e, 0x7f, 0x7f, 0x01, 0x7f},
		)),
		// Imported path_open takes function index 0.
		wasmSection(2, wasmConcat(
			uleb128(1),
			wasmName("wasi_snapshot_preview1"), wasmName("path_open"),
			[]byte{0x00, 0x02},
		)),
		wasmSection(3, wasmConcat(uleb128(3), []byte{0x00, 0x01, 0x01})),
		wasmSection(5, []byte{0x01, 0x00, 0x01}),
		wasmSection(7, wasmConcat(
			uleb128(4),
			wasmName("memory"), []byte{0x02, 0x00},
			wasmName("allocate"), []byte{0x00, 0x01},
			wasmName("run"), []byte{0x00, 0x02},
			wasmName("metadata"), []byte{0x00, 0x03},
		)),
		wasmSection(10, wasmConcat(
			uleb128(3),
			wasmFunc(i32Const(guestHeapPtr)),
			wasmFunc(runInstrs),
			wasmFunc(i64Const(int64(mdPacked))),
		)),
		wasmSection(11, wasmConcat(
			uleb128(1),
			[]byte{0x00}, i32Const(guestDataOffset), []byte{0x0b},
			uleb128(uint64(len(data))), []byte(data),
		)),
	)
}

func newExecuteTestManager(t *testing.T, cacheCapacity int) (*Manager, context.Context) {
	t.Helper()
	ctx := context.Background()
	mgr, err := NewManager(ctx, ManagerOptions{CacheCapacity: cacheCapacity})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(func() { _ = mgr.Close(context.Background()) })
	return mgr, ctx
}

func TestExecuteRecompileAfterEvictionIsDeterministic(t *testing.T) {
	mgr, ctx := newExecuteTestManager(t, 1)

	wasmA := constGuestWASM(
		`{"name":"const-a","version":"1.0.0","outputs":[{"name":"out","type":"string"}]}`,
		`{"outputs":[{"name":"out","value":{"type":"string","value":"alpha"}}]}`,
	)
	wasmB := constGuestWASM(
		`{"name":"const-b","version":"1.0.0","outputs":[{"name":"out","type":"string"}]}`,
		`{"outputs":[{"name":"out","value":{"type":"string","value":"beta"}}]}`,
	)

	idA, err := mgr.Load(ctx, wasmA)
	if err != nil {
		t.Fatalf("Load A: %v", err)
	}
	idB, err := mgr.Load(ctx, wasmB)
	if err != nil {
		t.Fatalf("Load B: %v", err)
	}

	want := []graph.NamedValue{{Name: "out", Value: graph.StringValue("alpha")}}

	first, err := mgr.Execute(ctx, idA, nil, capability.None())
	if err != nil {
		t.Fatalf("Execute A (fresh compile): %v", err)
	}
	if !reflect.DeepEqual(first, want) {
		t.Fatalf("fresh compile outputs = %+v, want %+v", first, want)
	}

	// A single-slot cache means executing B evicts A's compiled module.
	if _, err := mgr.Execute(ctx, idB, nil, capability.None()); err != nil {
		t.Fatalf("Execute B: %v", err)
	}
	if _, ok := mgr.cache.Get(idA); ok {
		t.Fatal("A still cached after B filled the single-slot cache")
	}

	second, err := mgr.Execute(ctx, idA, nil, capability.None())
	if err != nil {
		t.Fatalf("Execute A (recompiled): %v", err)
	}
	if !reflect.DeepEqual(second, first) {
		t.Fatalf("recompiled outputs = %+v, differ from fresh compile %+v", second, first)
	}
}

func TestExecuteDeniesWriteOutsideFileReadGrant(t *testing.T) {
	mgr, ctx := newExecuteTestManager(t, 0)

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "data.txt"), []byte("payload"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	wasm := writerGuestWASM(
		`{"name":"writer","version":"1.0.0","outputs":[{"name":"out","type":"string"}]}`,
		"data.txt",
		`{"outputs":[{"name":"out","value":{"type":"string","value":"written"}}]}`,
		`{"error":"permission denied: data.txt is not writable in this sandbox"}`,
	)
	id, err := mgr.Load(ctx, wasm)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	// A read-only grant on the directory must refuse the write attempt.
	_, err = mgr.Execute(ctx, id, nil, capability.FileRead(dir))
	if err == nil {
		t.Fatal("expected write through a file-read grant to fail")
	}
	if !engine.IsPermissionDenied(err) {
		t.Fatalf("error = %v, want PERMISSION_DENIED", err)
	}

	// The same write succeeds once the grant includes write access.
	outputs, err := mgr.Execute(ctx, id, nil, capability.FileReadWrite(dir))
	if err != nil {
		t.Fatalf("Execute with read-write grant: %v", err)
	}
	want := []graph.NamedValue{{Name: "out", Value: graph.StringValue("written")}}
	if !reflect.DeepEqual(outputs, want) {
		t.Fatalf("outputs = %+v, want %+v", outputs, want)
	}
}
