// Package component loads untrusted WASM component binaries and executes
// them inside per-invocation wazero sandboxes.
//
// A component is a WASM module exporting the runtime ABI: allocate, run,
// metadata, and optionally result_view. Requests and responses cross the
// boundary as JSON payloads addressed by a packed u64 (pointer in the upper
// 32 bits, length in the lower 32).
//
// Loading compiles the binary once to introspect its metadata, then keeps
// only the bytecode. Execution compiles lazily through a bounded LRU cache
// of compiled modules and reuses instantiation templates from a
// per-component pool; every invocation still gets a brand new module
// instance whose filesystem and network access is derived from the
// capability set passed by the caller, never from the component's own
// requests.
package component
