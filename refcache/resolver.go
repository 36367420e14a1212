package refcache

import (
	"context"
	"sync"

	"github.com/example/catalog-sdk/catalog"
)

// Resolver routes identity lookups to the TypeCache for the requested type,
// constructing caches lazily on first use. It is the one cache object the
// rest of the SDK holds: constructed explicitly at startup, passed by
// reference into handlers, and Reset between test runs. There is no hidden
// process-wide instance.
//
// Caches for different types never contend: each TypeCache serializes only
// its own refresh.
type Resolver struct {
	lister catalog.EntityLister
	opts   Options

	mu     sync.RWMutex
	caches map[string]*TypeCache
}

// NewResolver creates a resolver whose per-type caches share lister and opts.
func NewResolver(lister catalog.EntityLister, opts Options) *Resolver {
	return &Resolver{
		lister: lister,
		opts:   opts.withDefaults(),
		caches: make(map[string]*TypeCache),
	}
}

// cacheFor returns the TypeCache for typeName, creating it on first use.
// Double-checked locking guarantees exactly one instance per type under
// concurrent first access.
func (r *Resolver) cacheFor(typeName string) *TypeCache {
	r.mu.RLock()
	c, ok := r.caches[typeName]
	r.mu.RUnlock()
	if ok {
		return c
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.caches[typeName]; ok {
		return c
	}
	c = NewTypeCache(typeName, r.lister, r.opts)
	r.caches[typeName] = c
	return c
}

// GetByGUID resolves typeName/guid, refreshing the type's cache on a miss.
func (r *Resolver) GetByGUID(ctx context.Context, typeName, guid string) (Entry, error) {
	return r.cacheFor(typeName).GetByGUID(ctx, guid)
}

// GetByQualifiedName resolves typeName/qualifiedName via the reverse map.
func (r *Resolver) GetByQualifiedName(ctx context.Context, typeName, qualifiedName string) (Entry, error) {
	return r.cacheFor(typeName).GetByQualifiedName(ctx, qualifiedName)
}

// Invalidate drops typeName/guid from its cache. A no-op (returning false)
// when the type has never been resolved or the GUID is absent.
func (r *Resolver) Invalidate(typeName, guid string) bool {
	if c := r.existing(typeName); c != nil {
		return c.Invalidate(guid)
	}
	return false
}

// InvalidateQualifiedName drops the entry keyed by qualified name.
func (r *Resolver) InvalidateQualifiedName(typeName, qualifiedName string) bool {
	if c := r.existing(typeName); c != nil {
		return c.InvalidateQualifiedName(qualifiedName)
	}
	return false
}

// InvalidatePattern drops all entries of typeName whose qualified names match
// the wildcard pattern. Returns the number removed.
func (r *Resolver) InvalidatePattern(typeName, pattern string) int {
	if c := r.existing(typeName); c != nil {
		return c.InvalidatePattern(pattern)
	}
	return 0
}

// InvalidateType clears the whole category, for when the entire type is known
// stale.
func (r *Resolver) InvalidateType(typeName string) {
	if c := r.existing(typeName); c != nil {
		c.InvalidateAll()
	}
}

func (r *Resolver) existing(typeName string) *TypeCache {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.caches[typeName]
}

// Stats returns a snapshot of every constructed type cache, keyed by type.
func (r *Resolver) Stats() []StatsSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]StatsSnapshot, 0, len(r.caches))
	for _, c := range r.caches {
		out = append(out, c.StatsSnapshot())
	}
	return out
}

// Reset discards every type cache. Intended for shutdown and for isolation
// between test runs; subsequent lookups rebuild caches lazily.
func (r *Resolver) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.caches = make(map[string]*TypeCache)
}
