package refcache

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/example/catalog-sdk/catalog"
)

// Options tunes a TypeCache. The zero value gets sensible defaults from
// NewTypeCache.
type Options struct {
	// RefreshTimeout bounds one listing round-trip to the catalog. A refresh
	// that exceeds it fails as transient and the prior snapshot stays
	// servable. Default 30s.
	RefreshTimeout time.Duration

	// RefreshRate and RefreshBurst bound how often a type may refresh,
	// protecting the catalog from invalidation-heavy workloads. Default is
	// unlimited (rate.Inf).
	RefreshRate  rate.Limit
	RefreshBurst int

	// Logger receives refresh and invalidation events. Defaults to
	// slog.Default().
	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.RefreshTimeout <= 0 {
		o.RefreshTimeout = 30 * time.Second
	}
	if o.RefreshRate == 0 {
		o.RefreshRate = rate.Inf
	}
	if o.RefreshBurst <= 0 {
		o.RefreshBurst = 1
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// snapshot holds both directions of the mapping for one type. The two maps
// are built together and installed together; they are never updated
// independently, which keeps them mutually consistent by construction.
type snapshot struct {
	byGUID   map[string]Entry
	guidByQN map[string]string
}

func emptySnapshot() *snapshot {
	return &snapshot{
		byGUID:   map[string]Entry{},
		guidByQN: map[string]string{},
	}
}

// cloneWithout rebuilds the snapshot minus the given GUIDs.
func (s *snapshot) cloneWithout(gone map[string]struct{}) *snapshot {
	next := &snapshot{
		byGUID:   make(map[string]Entry, len(s.byGUID)),
		guidByQN: make(map[string]string, len(s.guidByQN)),
	}
	for guid, e := range s.byGUID {
		if _, dropped := gone[guid]; dropped {
			continue
		}
		next.byGUID[guid] = e
		next.guidByQN[e.QualifiedName] = guid
	}
	return next
}

// TypeCache resolves identities for one reference-object category, backed by
// bulk listings from the catalog. See the package doc for the concurrency
// model.
type TypeCache struct {
	typeName string
	lister   catalog.EntityLister
	opts     Options

	snap    atomic.Pointer[snapshot]
	mu      sync.Mutex // serializes snapshot writers (refresh install, invalidation)
	group   singleflight.Group
	limiter *rate.Limiter
	stats   Stats
}

// NewTypeCache creates a cold cache for typeName. The first lookup triggers
// the initial refresh.
func NewTypeCache(typeName string, lister catalog.EntityLister, opts Options) *TypeCache {
	opts = opts.withDefaults()
	c := &TypeCache{
		typeName: typeName,
		lister:   lister,
		opts:     opts,
		limiter:  rate.NewLimiter(opts.RefreshRate, opts.RefreshBurst),
	}
	c.snap.Store(emptySnapshot())
	return c
}

// TypeName returns the category this cache serves.
func (c *TypeCache) TypeName() string { return c.typeName }

func (c *TypeCache) current() *snapshot { return c.snap.Load() }

// GetByGUID returns the entry for guid. On a miss it refreshes the snapshot
// once and retries the lookup; if the catalog no longer lists the GUID the
// result is a NotFoundError. A miss blocks on the listing round-trip.
func (c *TypeCache) GetByGUID(ctx context.Context, guid string) (Entry, error) {
	if e, ok := c.current().byGUID[guid]; ok {
		c.stats.Hits.Add(1)
		return e, nil
	}
	c.stats.Misses.Add(1)

	if err := c.refresh(ctx); err != nil {
		return Entry{}, err
	}
	if e, ok := c.current().byGUID[guid]; ok {
		return e, nil
	}
	return Entry{}, &catalog.NotFoundError{TypeName: c.typeName, Ref: guid}
}

// GetByQualifiedName is the reverse-direction lookup, with the same
// miss-refresh-retry protocol as GetByGUID.
func (c *TypeCache) GetByQualifiedName(ctx context.Context, qualifiedName string) (Entry, error) {
	if e, ok := c.lookupQN(qualifiedName); ok {
		c.stats.Hits.Add(1)
		return e, nil
	}
	c.stats.Misses.Add(1)

	if err := c.refresh(ctx); err != nil {
		return Entry{}, err
	}
	if e, ok := c.lookupQN(qualifiedName); ok {
		return e, nil
	}
	return Entry{}, &catalog.NotFoundError{TypeName: c.typeName, Ref: qualifiedName}
}

func (c *TypeCache) lookupQN(qualifiedName string) (Entry, bool) {
	snap := c.current()
	guid, ok := snap.guidByQN[qualifiedName]
	if !ok {
		return Entry{}, false
	}
	e, ok := snap.byGUID[guid]
	return e, ok
}

// refresh coalesces concurrent callers onto a single in-flight listing. Every
// waiter receives the same result; a caller whose own context expires first
// abandons the wait with a transient error while the fetch itself continues
// for the remaining waiters.
func (c *TypeCache) refresh(ctx context.Context) error {
	ch := c.group.DoChan(c.typeName, func() (interface{}, error) {
		return nil, c.doRefresh()
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return &catalog.TransientError{Op: "refresh", Err: ctx.Err()}
	}
}

// doRefresh performs the actual listing and installs the rebuilt snapshot.
// On failure the previous snapshot remains in place untouched.
func (c *TypeCache) doRefresh() error {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.RefreshTimeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		c.stats.RefreshFailures.Add(1)
		return &catalog.TransientError{Op: "refresh", Err: err}
	}

	started := time.Now()
	headers, err := c.lister.ListEntities(ctx, c.typeName)
	if err != nil {
		c.stats.RefreshFailures.Add(1)
		c.opts.Logger.Warn("cache refresh failed",
			"typeName", c.typeName, "error", err)
		return err
	}

	now := time.Now()
	next := &snapshot{
		byGUID:   make(map[string]Entry, len(headers)),
		guidByQN: make(map[string]string, len(headers)),
	}
	for _, h := range headers {
		e := Entry{
			GUID:          h.GUID,
			TypeName:      c.typeName,
			QualifiedName: h.QualifiedName,
			DisplayName:   h.DisplayName,
			RefreshedAt:   now,
		}
		next.byGUID[h.GUID] = e
		next.guidByQN[h.QualifiedName] = h.GUID
	}

	c.mu.Lock()
	c.snap.Store(next)
	c.mu.Unlock()

	c.stats.Refreshes.Add(1)
	c.opts.Logger.Debug("cache refreshed",
		"typeName", c.typeName, "entries", len(headers), "took", time.Since(started))
	return nil
}

// Invalidate removes guid and its reverse mapping in one snapshot swap.
// Invalidating an absent GUID is a no-op; returns whether an entry was
// removed.
func (c *TypeCache) Invalidate(guid string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur := c.snap.Load()
	if _, ok := cur.byGUID[guid]; !ok {
		return false
	}
	c.snap.Store(cur.cloneWithout(map[string]struct{}{guid: {}}))
	c.stats.Invalidations.Add(1)
	return true
}

// InvalidateQualifiedName removes the entry keyed by qualifiedName, if any.
// Used for mutations that know the qualified name but not the GUID.
func (c *TypeCache) InvalidateQualifiedName(qualifiedName string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur := c.snap.Load()
	guid, ok := cur.guidByQN[qualifiedName]
	if !ok {
		return false
	}
	c.snap.Store(cur.cloneWithout(map[string]struct{}{guid: {}}))
	c.stats.Invalidations.Add(1)
	return true
}

// InvalidatePattern removes every entry whose qualified name matches the
// wildcard pattern (e.g. "default/db/*"). Returns the number removed.
// Complexity: O(n) over the type's entries.
func (c *TypeCache) InvalidatePattern(pattern string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur := c.snap.Load()
	gone := make(map[string]struct{})
	for guid, e := range cur.byGUID {
		if matchQualifiedName(pattern, e.QualifiedName) {
			gone[guid] = struct{}{}
		}
	}
	if len(gone) == 0 {
		return 0
	}
	c.snap.Store(cur.cloneWithout(gone))
	c.stats.Invalidations.Add(int64(len(gone)))
	return len(gone)
}

// InvalidateAll clears both maps; the next lookup starts a fresh refresh.
func (c *TypeCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	dropped := len(c.snap.Load().byGUID)
	c.snap.Store(emptySnapshot())
	if dropped > 0 {
		c.stats.Invalidations.Add(int64(dropped))
	}
}

// Len returns the number of cached entries.
func (c *TypeCache) Len() int { return len(c.current().byGUID) }

// StatsSnapshot returns a point-in-time view of this cache's counters.
func (c *TypeCache) StatsSnapshot() StatsSnapshot {
	return c.stats.snapshot(c.typeName, c.Len())
}
