package refcache

import "sync/atomic"

// Stats tracks per-type cache counters. All fields are updated atomically so
// readers never block lookups.
type Stats struct {
	Hits            atomic.Int64
	Misses          atomic.Int64
	Refreshes       atomic.Int64
	RefreshFailures atomic.Int64
	Invalidations   atomic.Int64
}

// StatsSnapshot is a point-in-time copy of Stats, suitable for JSON encoding
// on the admin surface.
type StatsSnapshot struct {
	TypeName        string  `json:"typeName"`
	Entries         int     `json:"entries"`
	Hits            int64   `json:"hits"`
	Misses          int64   `json:"misses"`
	HitRate         float64 `json:"hitRate"`
	Refreshes       int64   `json:"refreshes"`
	RefreshFailures int64   `json:"refreshFailures"`
	Invalidations   int64   `json:"invalidations"`
}

func (s *Stats) snapshot(typeName string, entries int) StatsSnapshot {
	hits := s.Hits.Load()
	misses := s.Misses.Load()

	hitRate := 0.0
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return StatsSnapshot{
		TypeName:        typeName,
		Entries:         entries,
		Hits:            hits,
		Misses:          misses,
		HitRate:         hitRate,
		Refreshes:       s.Refreshes.Load(),
		RefreshFailures: s.RefreshFailures.Load(),
		Invalidations:   s.Invalidations.Load(),
	}
}
