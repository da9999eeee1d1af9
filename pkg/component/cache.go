package component

import (
	"container/list"
	"context"
	"sync"

	"github.com/tetratelabs/wazero"
)

// DefaultCacheCapacity is the maximum number of compiled modules retained.
// Bytecode is always kept with the component, so an evicted module is
// recompiled on the next execution rather than lost.
const DefaultCacheCapacity = 50

// ModuleCache is a bounded LRU cache of compiled WASM modules keyed by
// component ID. Compilation is the expensive step; instantiation from a
// cached compiled module is cheap.
type ModuleCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	entries  map[string]*list.Element

	// onEvict is invoked outside the entry map for each evicted module.
	onEvict func(componentID string)
}

type cacheEntry struct {
	componentID string
	compiled    wazero.CompiledModule
}

// NewModuleCache creates a cache holding at most capacity compiled modules.
func NewModuleCache(capacity int, onEvict func(componentID string)) *ModuleCache {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	return &ModuleCache{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[string]*list.Element),
		onEvict:  onEvict,
	}
}

// Get returns the cached compiled module for a component and marks it most
// recently used. The second return is false on a miss.
func (c *ModuleCache) Get(componentID string) (wazero.CompiledModule, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[componentID]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(elem)
	return elem.Value.(*cacheEntry).compiled, true
}

// Put stores a compiled module, evicting the least recently used entry when
// the cache is full. Evicted modules are closed.
func (c *ModuleCache) Put(ctx context.Context, componentID string, compiled wazero.CompiledModule) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[componentID]; ok {
		// Replace in place, closing the old compilation.
		old := elem.Value.(*cacheEntry)
		if old.compiled != compiled {
			_ = old.compiled.Close(ctx)
			old.compiled = compiled
		}
		c.order.MoveToFront(elem)
		return
	}

	elem := c.order.PushFront(&cacheEntry{componentID: componentID, compiled: compiled})
	c.entries[componentID] = elem

	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		entry := oldest.Value.(*cacheEntry)
		c.order.Remove(oldest)
		delete(c.entries, entry.componentID)
		_ = entry.compiled.Close(ctx)
		if c.onEvict != nil {
			c.onEvict(entry.componentID)
		}
	}
}

// Remove drops and closes the cached module for a component, if present.
func (c *ModuleCache) Remove(ctx context.Context, componentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[componentID]
	if !ok {
		return
	}
	entry := elem.Value.(*cacheEntry)
	c.order.Remove(elem)
	delete(c.entries, componentID)
	_ = entry.compiled.Close(ctx)
}

// Len reports the number of cached compiled modules.
func (c *ModuleCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Close drops and closes all cached modules.
func (c *ModuleCache) Close(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for id, elem := range c.entries {
		_ = elem.Value.(*cacheEntry).compiled.Close(ctx)
		delete(c.entries, id)
	}
	c.order.Init()
}
