// Package refcache implements the reference-resolution cache: per-type
// bidirectional mappings between catalog GUIDs and qualified names, populated
// lazily from bulk listings and invalidated explicitly after mutations.
//
// Design Notes:
//   - Copy-on-refresh: each refresh builds a brand-new snapshot (both maps
//     together) and installs it with a single atomic pointer swap. Readers
//     see either the fully-old or fully-new state, never a partial mix, and
//     need no locks.
//   - Single-flight refresh via golang.org/x/sync/singleflight: concurrent
//     misses on one type coalesce into one listing call, preventing request
//     storms against the catalog under cache-cold bursts.
//   - No TTL: staleness is driven by explicit invalidation and miss-triggered
//     refresh only. Changes made by other processes become visible on the
//     next miss or invalidation.
//   - A failed refresh propagates its error to every waiter and leaves the
//     previous snapshot servable.
//
// Complexity:
//   - GetByGUID / GetByQualifiedName: O(1) on hit; one listing round-trip on miss.
//   - Invalidate: O(n) snapshot rebuild for n entries of the type.
//   - Memory: two maps per type, entries shared between snapshots by value.
package refcache

import "time"

// Entry is one resolved identity record. Immutable once created: refreshes
// replace entries wholesale, they never mutate fields in place.
type Entry struct {
	GUID          string    `json:"guid"`
	TypeName      string    `json:"typeName"`
	QualifiedName string    `json:"qualifiedName"`
	DisplayName   string    `json:"displayName"`
	RefreshedAt   time.Time `json:"refreshedAt"`
}
