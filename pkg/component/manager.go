package component

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/nodeweave/nodeweave/pkg/capability"
	"github.com/nodeweave/nodeweave/pkg/engine"
	"github.com/nodeweave/nodeweave/pkg/graph"
	"github.com/nodeweave/nodeweave/pkg/telemetry"
)

// MaxComponentSize is the largest accepted component binary.
const MaxComponentSize = 50 << 20 // 50MB

// hostModuleName is the name components import host functions from.
const hostModuleName = "weave_host"

// Component is a loaded component: its identity, introspected metadata, and
// the original bytecode. Bytecode is always retained so an evicted compiled
// module can be recompiled on demand.
type Component struct {
	// ID is the runtime-assigned component identifier.
	ID string

	// Metadata is the metadata introspected at load time.
	Metadata *Metadata

	// Bytecode is the raw WASM binary.
	Bytecode []byte

	// Source is the file path the component was loaded from, if any.
	Source string

	// LoadedAt records when the component was loaded.
	LoadedAt time.Time
}

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	// Logger is the structured logger. Defaults to a no-op logger.
	Logger *telemetry.Logger

	// Metrics records cache, pool, and load counters. May be nil.
	Metrics *telemetry.Metrics

	// CacheCapacity bounds the compiled module cache. Defaults to
	// DefaultCacheCapacity.
	CacheCapacity int

	// PoolCapacity bounds the per-component instance template pool.
	// Defaults to DefaultPoolCapacity.
	PoolCapacity int

	// HTTPClient performs outbound requests for the network host function.
	// Defaults to a client with a 30 second timeout.
	HTTPClient *http.Client
}

// Manager loads untrusted WASM components and executes them in per-invocation
// sandboxes scoped to an explicit capability set. It implements
// engine.ComponentRunner.
type Manager struct {
	runtime    wazero.Runtime
	cache      *ModuleCache
	pool       *InstancePool
	log        *telemetry.Logger
	metrics    *telemetry.Metrics
	httpClient *http.Client

	seq atomic.Uint64

	mu         sync.RWMutex
	components map[string]*Component
}

// NewManager creates a component manager with its own wazero runtime, WASI,
// and the weave_host host module instantiated.
func NewManager(ctx context.Context, opts ManagerOptions) (*Manager, error) {
	if opts.Logger == nil {
		opts.Logger = telemetry.Nop()
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}

	runtimeConfig := wazero.NewRuntimeConfig().
		WithCloseOnContextDone(true)

	runtime := wazero.NewRuntimeWithConfig(ctx, runtimeConfig)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, runtime); err != nil {
		_ = runtime.Close(ctx)
		return nil, engine.NewLoadFailed("failed to instantiate WASI", err)
	}

	m := &Manager{
		runtime:    runtime,
		log:        opts.Logger.NewComponentLogger("component-manager"),
		metrics:    opts.Metrics,
		httpClient: opts.HTTPClient,
		components: make(map[string]*Component),
	}
	m.cache = NewModuleCache(opts.CacheCapacity, func(componentID string) {
		m.pool.Drop(componentID)
		if m.metrics != nil {
			m.metrics.CacheEviction()
		}
	})
	m.pool = NewInstancePool(opts.PoolCapacity,
		func(string) {
			if m.metrics != nil {
				m.metrics.PoolReuse()
			}
		},
		func(string) {
			if m.metrics != nil {
				m.metrics.PoolMiss()
			}
		})

	if err := m.registerHostModule(ctx); err != nil {
		_ = runtime.Close(ctx)
		return nil, engine.NewLoadFailed("failed to register host module", err)
	}

	return m, nil
}

// registerHostModule exports the host functions components may import.
// Every function enforces the invocation's capability set carried on the
// context; a guest linking a function it was not granted gets an error
// response, not the capability.
func (m *Manager) registerHostModule(ctx context.Context) error {
	builder := m.runtime.NewHostModuleBuilder(hostModuleName)

	// http_fetch: packed JSON request {method, url} -> {status, body}.
	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module, reqPtr, reqLen uint32) uint64 {
			return m.hostHTTPFetch(ctx, mod, reqPtr, reqLen)
		}).
		Export("http_fetch")

	// log_message: guest log lines surface through the host logger.
	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module, msgPtr, msgLen uint32) {
			msg, ok := mod.Memory().Read(msgPtr, msgLen)
			if !ok {
				return
			}
			m.log.WithField("guest", mod.Name()).Debug(string(msg))
		}).
		Export("log_message")

	_, err := builder.Instantiate(ctx)
	return err
}

// hostHTTPFetch performs an outbound HTTP request for the guest, subject to
// the network host allow-list.
func (m *Manager) hostHTTPFetch(ctx context.Context, mod api.Module, reqPtr, reqLen uint32) uint64 {
	reqBytes, ok := mod.Memory().Read(reqPtr, reqLen)
	if !ok {
		return m.writeGuestJSON(ctx, mod, map[string]string{"error": "failed to read request from guest memory"})
	}

	var req struct {
		Method string `json:"method"`
		URL    string `json:"url"`
	}
	if err := json.Unmarshal(reqBytes, &req); err != nil {
		return m.writeGuestJSON(ctx, mod, map[string]string{"error": "malformed http_fetch request"})
	}
	if req.Method == "" {
		req.Method = http.MethodGet
	}

	status, body, err := doHostHTTP(ctx, m.httpClient, req.Method, req.URL)
	if err != nil {
		return m.writeGuestJSON(ctx, mod, map[string]string{"error": err.Error()})
	}

	return m.writeGuestJSON(ctx, mod, map[string]any{"status": status, "body": string(body)})
}

// writeGuestJSON marshals a response, allocates guest memory for it, and
// returns the packed pointer. Returns 0 when the guest cannot receive it.
func (m *Manager) writeGuestJSON(ctx context.Context, mod api.Module, v any) uint64 {
	data, err := json.Marshal(v)
	if err != nil {
		return 0
	}

	allocateFn := mod.ExportedFunction(guestExportAllocate)
	if allocateFn == nil {
		m.log.WithField("guest", mod.Name()).Error("guest module missing allocate export")
		return 0
	}

	results, err := allocateFn.Call(ctx, uint64(len(data)))
	if err != nil || len(results) == 0 {
		return 0
	}
	ptr := uint32(results[0])
	if !mod.Memory().Write(ptr, data) {
		return 0
	}
	return packPtrLen(ptr, uint32(len(data)))
}

// Load validates, compiles, and introspects a component binary, returning
// its assigned component ID. The compiled artifact is dropped after
// introspection; only the bytecode and metadata are retained.
func (m *Manager) Load(ctx context.Context, wasmBytes []byte) (string, error) {
	return m.load(ctx, wasmBytes, "")
}

// LoadFromSource behaves like Load but records the originating file path.
func (m *Manager) LoadFromSource(ctx context.Context, wasmBytes []byte, source string) (string, error) {
	return m.load(ctx, wasmBytes, source)
}

func (m *Manager) load(ctx context.Context, wasmBytes []byte, source string) (string, error) {
	if len(wasmBytes) == 0 {
		return "", engine.NewValidationFailed("component binary is empty", nil)
	}
	if len(wasmBytes) > MaxComponentSize {
		return "", engine.NewValidationFailed(
			fmt.Sprintf("component binary of %d bytes exceeds the %d byte limit", len(wasmBytes), MaxComponentSize), nil)
	}

	compiled, err := m.runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return "", engine.NewLoadFailed("failed to compile component", err)
	}
	defer compiled.Close(context.Background())

	componentID := uuid.New().String()

	tmpl, err := newInstanceTemplate(componentID, compiled)
	if err != nil {
		return "", engine.NewValidationFailed("component export surface is incomplete", err)
	}

	md, err := m.introspect(ctx, compiled)
	if err != nil {
		return "", err
	}
	if err := md.Validate(); err != nil {
		return "", engine.NewValidationFailed("component metadata is invalid", err)
	}
	md.HasResultView = tmpl.HasResultView

	comp := &Component{
		ID:       componentID,
		Metadata: md,
		Bytecode: wasmBytes,
		Source:   source,
		LoadedAt: time.Now().UTC(),
	}

	m.mu.Lock()
	m.components[componentID] = comp
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.ComponentLoaded()
	}
	m.log.WithComponentID(componentID).
		WithField("name", md.Name).
		WithField("version", md.Version).
		Info("component loaded")

	return componentID, nil
}

// introspect instantiates the module with no capabilities and calls its
// metadata export.
func (m *Manager) introspect(ctx context.Context, compiled wazero.CompiledModule) (*Metadata, error) {
	sandbox, err := newSandbox(m.nextInstanceName("introspect"), capability.None())
	if err != nil {
		return nil, engine.NewLoadFailed("failed to build introspection sandbox", err)
	}

	ctx = withCapabilities(ctx, capability.None())
	mod, err := m.runtime.InstantiateModule(ctx, compiled, sandbox.Config)
	if err != nil {
		return nil, engine.NewLoadFailed("failed to instantiate component for introspection", err)
	}
	defer mod.Close(context.Background())

	b, err := newBridge(mod)
	if err != nil {
		return nil, engine.NewValidationFailed("component export surface is incomplete", err)
	}

	md, err := b.Metadata(ctx)
	if err != nil {
		return nil, engine.NewLoadFailed("component metadata call failed", err)
	}
	return md, nil
}

// Execute runs one invocation of a component inside a fresh sandbox scoped
// exactly to caps. Implements engine.ComponentRunner.
func (m *Manager) Execute(ctx context.Context, componentID string, inputs []graph.NamedValue, caps capability.Set) ([]graph.NamedValue, error) {
	comp, err := m.Get(componentID)
	if err != nil {
		return nil, err
	}

	compiled, err := m.compiledFor(ctx, comp)
	if err != nil {
		return nil, err
	}

	tmpl, err := m.pool.Get(componentID, compiled)
	if err != nil {
		return nil, engine.NewLoadFailed("component export surface is incomplete", err).WithComponent(componentID)
	}

	sandbox, err := newSandbox(m.nextInstanceName(comp.Metadata.Name), caps)
	if err != nil {
		return nil, engine.NewValidationFailed("invalid capability set for sandbox", err).WithComponent(componentID)
	}

	ctx = withCapabilities(ctx, caps)
	mod, err := m.runtime.InstantiateModule(ctx, tmpl.Compiled, sandbox.Config)
	if err != nil {
		return nil, m.classifyExecuteError(ctx, componentID, caps, sandbox, err)
	}
	defer mod.Close(context.Background())

	b, err := newBridge(mod)
	if err != nil {
		return nil, engine.NewExecutionError("component instance is missing required exports", err).WithComponent(componentID)
	}

	outputs, err := b.Run(ctx, inputs)
	if err != nil {
		return nil, m.classifyExecuteError(ctx, componentID, caps, sandbox, err)
	}

	m.pool.Put(tmpl)
	return outputs, nil
}

// ResultView executes the component's optional result_view export against
// the given outputs. Returns nil when the component declares no result view.
func (m *Manager) ResultView(ctx context.Context, componentID string, outputs []graph.NamedValue) (*ViewNode, error) {
	comp, err := m.Get(componentID)
	if err != nil {
		return nil, err
	}
	if !comp.Metadata.HasResultView {
		return nil, nil
	}

	compiled, err := m.compiledFor(ctx, comp)
	if err != nil {
		return nil, err
	}

	sandbox, err := newSandbox(m.nextInstanceName(comp.Metadata.Name), capability.None())
	if err != nil {
		return nil, engine.NewValidationFailed("failed to build result view sandbox", err).WithComponent(componentID)
	}

	ctx = withCapabilities(ctx, capability.None())
	mod, err := m.runtime.InstantiateModule(ctx, compiled, sandbox.Config)
	if err != nil {
		return nil, engine.NewExecutionError("failed to instantiate component for result view", err).WithComponent(componentID)
	}
	defer mod.Close(context.Background())

	b, err := newBridge(mod)
	if err != nil {
		return nil, engine.NewExecutionError("component instance is missing required exports", err).WithComponent(componentID)
	}

	return b.ResultView(ctx, outputs)
}

// compiledFor returns the cached compiled module for a component, compiling
// from retained bytecode on a cache miss.
func (m *Manager) compiledFor(ctx context.Context, comp *Component) (wazero.CompiledModule, error) {
	if compiled, ok := m.cache.Get(comp.ID); ok {
		if m.metrics != nil {
			m.metrics.CacheHit()
		}
		return compiled, nil
	}

	if m.metrics != nil {
		m.metrics.CacheMiss()
	}
	compiled, err := m.runtime.CompileModule(ctx, comp.Bytecode)
	if err != nil {
		return nil, engine.NewLoadFailed("failed to recompile component", err).WithComponent(comp.ID)
	}
	m.cache.Put(ctx, comp.ID, compiled)
	m.log.WithComponentID(comp.ID).Debug("compiled component module")
	return compiled, nil
}

// classifyExecuteError maps a raw guest failure onto the runtime error
// taxonomy. Context expiry wins, then the permission heuristic, then a
// generic execution error carrying the guest's stderr tail.
func (m *Manager) classifyExecuteError(ctx context.Context, componentID string, caps capability.Set, sandbox *Sandbox, err error) *engine.RuntimeError {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return engine.NewTimeout("component execution timed out", err).WithComponent(componentID)
	}

	if isPermissionSignature(err) {
		return engine.NewPermissionDenied("component attempted an operation outside its capability grant", err).
			WithComponent(componentID).
			WithDetail("granted", string(caps.Kind))
	}

	rerr := engine.NewExecutionError("component execution failed", err).WithComponent(componentID)
	if tail := stderrTail(sandbox, 512); tail != "" {
		rerr = rerr.WithDetail("stderr", tail)
	}
	return rerr
}

// permissionSignatures are substrings that mark an underlying I/O failure as
// a capability violation rather than an ordinary execution error. The guest
// only sees these when it reaches past its sandbox.
var permissionSignatures = []string{
	"permission denied",
	"operation not permitted",
	"access denied",
	"read-only file system",
	"enotcapable",
	"eperm",
	"eacces",
	"not in network grant",
}

func isPermissionSignature(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, sig := range permissionSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}

// stderrTail returns up to max bytes from the end of the sandbox's captured
// stderr.
func stderrTail(sandbox *Sandbox, max int) string {
	if sandbox == nil {
		return ""
	}
	s := strings.TrimSpace(sandbox.Stderr.String())
	if len(s) > max {
		s = s[len(s)-max:]
	}
	return s
}

// Get returns the loaded component for an ID.
func (m *Manager) Get(componentID string) (*Component, error) {
	m.mu.RLock()
	comp, ok := m.components[componentID]
	m.mu.RUnlock()
	if !ok {
		return nil, engine.NewError(engine.ErrCodeNotFound,
			fmt.Sprintf("component %q is not loaded", componentID), nil)
	}
	return comp, nil
}

// Resolve maps a component reference to a loaded component's ID. A ref is
// either an ID, a name, or "name@version". A bare name is ambiguous when
// several versions are loaded.
func (m *Manager) Resolve(ref string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.components[ref]; ok {
		return ref, nil
	}

	name, version := ref, ""
	if at := strings.LastIndex(ref, "@"); at > 0 {
		name, version = ref[:at], ref[at+1:]
	}

	var matches []*Component
	for _, comp := range m.components {
		if comp.Metadata.Name != name {
			continue
		}
		if version != "" && comp.Metadata.Version != version {
			continue
		}
		matches = append(matches, comp)
	}

	switch len(matches) {
	case 0:
		return "", engine.NewError(engine.ErrCodeNotFound,
			fmt.Sprintf("no loaded component matches %q", ref), nil)
	case 1:
		return matches[0].ID, nil
	default:
		return "", engine.NewValidationFailed(
			fmt.Sprintf("component reference %q is ambiguous: %d versions loaded", ref, len(matches)), nil)
	}
}

// List returns all loaded components ordered by name then version.
func (m *Manager) List() []*Component {
	m.mu.RLock()
	out := make([]*Component, 0, len(m.components))
	for _, comp := range m.components {
		out = append(out, comp)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Metadata.Name != out[j].Metadata.Name {
			return out[i].Metadata.Name < out[j].Metadata.Name
		}
		return out[i].Metadata.Version < out[j].Metadata.Version
	})
	return out
}

// Remove unloads a component, dropping its cached compilation and pooled
// templates. In-flight executions finish against their own instances.
func (m *Manager) Remove(ctx context.Context, componentID string) error {
	m.mu.Lock()
	_, ok := m.components[componentID]
	delete(m.components, componentID)
	m.mu.Unlock()

	if !ok {
		return engine.NewError(engine.ErrCodeNotFound,
			fmt.Sprintf("component %q is not loaded", componentID), nil)
	}

	m.pool.Drop(componentID)
	m.cache.Remove(ctx, componentID)
	m.log.WithComponentID(componentID).Info("component removed")
	return nil
}

// Close releases the cache and the wazero runtime.
func (m *Manager) Close(ctx context.Context) error {
	m.cache.Close(ctx)
	return m.runtime.Close(ctx)
}

// nextInstanceName produces a unique wazero module instance name.
func (m *Manager) nextInstanceName(base string) string {
	return fmt.Sprintf("%s-%d", base, m.seq.Add(1))
}
