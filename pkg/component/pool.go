package component

import (
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero"
)

// DefaultPoolCapacity is the maximum number of instantiation templates
// pooled per component.
const DefaultPoolCapacity = 10

// InstanceTemplate carries everything needed to stamp out a fresh sandboxed
// module instance: the compiled module handle and the export surface checked
// once up front. Templates never hold live instances or guest state; every
// execution instantiates a new module and closes it afterwards.
type InstanceTemplate struct {
	// ComponentID identifies the component this template instantiates.
	ComponentID string

	// Compiled is the shared compiled module handle. Owned by the module
	// cache, not the template; templates must not close it.
	Compiled wazero.CompiledModule

	// HasResultView records whether the module exports result_view.
	HasResultView bool
}

// newInstanceTemplate validates the guest export surface and builds a
// template for the compiled module.
func newInstanceTemplate(componentID string, compiled wazero.CompiledModule) (*InstanceTemplate, error) {
	exports := compiled.ExportedFunctions()
	for _, required := range []string{guestExportAllocate, guestExportRun, guestExportMetadata} {
		if _, ok := exports[required]; !ok {
			return nil, fmt.Errorf("module does not export %s", required)
		}
	}
	_, hasView := exports[guestExportResultView]

	return &InstanceTemplate{
		ComponentID:   componentID,
		Compiled:      compiled,
		HasResultView: hasView,
	}, nil
}

// InstancePool keeps per-component freelists of instantiation templates so
// repeated executions skip re-validating the export surface.
type InstancePool struct {
	mu       sync.Mutex
	capacity int
	pools    map[string][]*InstanceTemplate

	// onReuse and onMiss report pool effectiveness, nil-safe.
	onReuse func(componentID string)
	onMiss  func(componentID string)
}

// NewInstancePool creates a pool with the given per-component capacity.
func NewInstancePool(capacity int, onReuse, onMiss func(componentID string)) *InstancePool {
	if capacity <= 0 {
		capacity = DefaultPoolCapacity
	}
	return &InstancePool{
		capacity: capacity,
		pools:    make(map[string][]*InstanceTemplate),
		onReuse:  onReuse,
		onMiss:   onMiss,
	}
}

// Get pops a pooled template for the component or synthesizes a new one
// from the compiled module.
func (p *InstancePool) Get(componentID string, compiled wazero.CompiledModule) (*InstanceTemplate, error) {
	p.mu.Lock()
	free := p.pools[componentID]
	if n := len(free); n > 0 {
		tmpl := free[n-1]
		p.pools[componentID] = free[:n-1]
		p.mu.Unlock()

		// A recompile (cache eviction) invalidates pooled templates.
		if tmpl.Compiled == compiled {
			if p.onReuse != nil {
				p.onReuse(componentID)
			}
			return tmpl, nil
		}
	} else {
		p.mu.Unlock()
	}

	if p.onMiss != nil {
		p.onMiss(componentID)
	}
	return newInstanceTemplate(componentID, compiled)
}

// Put returns a template to its component's freelist unless the freelist is
// already at capacity, in which case the template is discarded.
func (p *InstancePool) Put(tmpl *InstanceTemplate) {
	if tmpl == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	free := p.pools[tmpl.ComponentID]
	if len(free) >= p.capacity {
		return
	}
	p.pools[tmpl.ComponentID] = append(free, tmpl)
}

// Drop discards all pooled templates for a component. Called when the
// component is removed or its compiled module is evicted.
func (p *InstancePool) Drop(componentID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.pools, componentID)
}

// Size reports the number of pooled templates for a component.
func (p *InstancePool) Size(componentID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pools[componentID])
}
