package refcache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/example/catalog-sdk/catalog"
)

// mockLister simulates the catalog's bulk listing endpoint.
type mockLister struct {
	mu      sync.Mutex
	data    map[string][]catalog.EntityHeader
	calls   map[string]int
	errs    map[string]error
	barrier chan struct{} // when set, ListEntities blocks until closed
}

func newMockLister() *mockLister {
	return &mockLister{
		data:  make(map[string][]catalog.EntityHeader),
		calls: make(map[string]int),
		errs:  make(map[string]error),
	}
}

func (m *mockLister) ListEntities(ctx context.Context, typeName string) ([]catalog.EntityHeader, error) {
	m.mu.Lock()
	m.calls[typeName]++
	err := m.errs[typeName]
	barrier := m.barrier
	m.mu.Unlock()

	if barrier != nil {
		select {
		case <-barrier:
		case <-ctx.Done():
			return nil, &catalog.TransientError{Op: "listEntities", Err: ctx.Err()}
		}
	}
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]catalog.EntityHeader(nil), m.data[typeName]...), nil
}

func (m *mockLister) set(typeName string, headers ...catalog.EntityHeader) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[typeName] = headers
}

func (m *mockLister) setError(typeName string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[typeName] = err
}

func (m *mockLister) callCount(typeName string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[typeName]
}

func (m *mockLister) resetCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = make(map[string]int)
}

func header(guid, qn string) catalog.EntityHeader {
	return catalog.EntityHeader{GUID: guid, TypeName: "Table", QualifiedName: qn, DisplayName: qn}
}

func TestTypeCache_RoundTripConsistency(t *testing.T) {
	lister := newMockLister()
	lister.set("Table",
		header("g1", "default/db/t1"),
		header("g2", "default/db/t2"),
		header("g3", "default/db/t3"),
	)
	c := NewTypeCache("Table", lister, Options{})
	ctx := context.Background()

	// Warm the cache, then verify both directions agree for every GUID.
	if _, err := c.GetByGUID(ctx, "g1"); err != nil {
		t.Fatalf("warmup failed: %v", err)
	}
	for _, guid := range []string{"g1", "g2", "g3"} {
		e, err := c.GetByGUID(ctx, guid)
		if err != nil {
			t.Fatalf("GetByGUID(%s): %v", guid, err)
		}
		if e.GUID != guid {
			t.Errorf("GetByGUID(%s).GUID = %s", guid, e.GUID)
		}
		back, err := c.GetByQualifiedName(ctx, e.QualifiedName)
		if err != nil {
			t.Fatalf("GetByQualifiedName(%s): %v", e.QualifiedName, err)
		}
		if back.GUID != guid {
			t.Errorf("round trip broke: %s -> %s -> %s", guid, e.QualifiedName, back.GUID)
		}
	}
}

func TestTypeCache_HitAvoidsNetwork(t *testing.T) {
	lister := newMockLister()
	lister.set("Table", header("g1", "default/db/t1"))
	c := NewTypeCache("Table", lister, Options{})
	ctx := context.Background()

	// Seed via the initial miss-triggered refresh.
	if _, err := c.GetByQualifiedName(ctx, "default/db/t1"); err != nil {
		t.Fatalf("seed lookup failed: %v", err)
	}
	lister.resetCalls()

	e, err := c.GetByQualifiedName(ctx, "default/db/t1")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if e.GUID != "g1" {
		t.Errorf("expected g1, got %s", e.GUID)
	}
	if got := lister.callCount("Table"); got != 0 {
		t.Errorf("cache hit should not touch the catalog, got %d calls", got)
	}
}

func TestTypeCache_InvalidateThenGetRefreshesOnce(t *testing.T) {
	lister := newMockLister()
	lister.set("Table", header("g1", "default/db/t1"))
	c := NewTypeCache("Table", lister, Options{})
	ctx := context.Background()

	if _, err := c.GetByGUID(ctx, "g1"); err != nil {
		t.Fatalf("seed lookup failed: %v", err)
	}

	// The backing list now carries an updated display name for g1.
	lister.set("Table", catalog.EntityHeader{
		GUID: "g1", TypeName: "Table", QualifiedName: "default/db/t1", DisplayName: "t1 (renamed)",
	})
	lister.resetCalls()

	if !c.Invalidate("g1") {
		t.Fatal("expected invalidation to remove g1")
	}
	// Idempotent: second invalidation of the same GUID is a no-op.
	if c.Invalidate("g1") {
		t.Error("invalidating an absent GUID should be a no-op")
	}

	e, err := c.GetByGUID(ctx, "g1")
	if err != nil {
		t.Fatalf("lookup after invalidation failed: %v", err)
	}
	if got := lister.callCount("Table"); got != 1 {
		t.Errorf("expected exactly one refresh call, got %d", got)
	}
	if e.DisplayName != "t1 (renamed)" {
		t.Errorf("expected refreshed entry, got %+v", e)
	}
}

func TestTypeCache_SingleFlight(t *testing.T) {
	lister := newMockLister()
	lister.set("Table", header("g1", "default/db/t1"))
	lister.barrier = make(chan struct{})
	c := NewTypeCache("Table", lister, Options{})

	const callers = 16
	var wg sync.WaitGroup
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.GetByGUID(context.Background(), "g1")
		}(i)
	}

	// Give every goroutine time to reach the coalesced refresh, then let the
	// single listing call complete.
	time.Sleep(50 * time.Millisecond)
	close(lister.barrier)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("caller %d failed: %v", i, err)
		}
	}
	if got := lister.callCount("Table"); got != 1 {
		t.Errorf("concurrent misses should coalesce into one fetch, got %d", got)
	}
}

func TestTypeCache_RefreshFailureKeepsPriorSnapshot(t *testing.T) {
	lister := newMockLister()
	lister.set("Table", header("g1", "default/db/t1"))
	c := NewTypeCache("Table", lister, Options{})
	ctx := context.Background()

	if _, err := c.GetByGUID(ctx, "g1"); err != nil {
		t.Fatalf("seed lookup failed: %v", err)
	}

	// Subsequent refreshes fail; the existing snapshot must stay servable.
	lister.setError("Table", &catalog.TransientError{Op: "listEntities", Err: errors.New("catalog down")})

	if _, err := c.GetByGUID(ctx, "unknown"); !catalog.IsTransient(err) {
		t.Errorf("miss during outage should surface transient error, got %v", err)
	}
	e, err := c.GetByGUID(ctx, "g1")
	if err != nil {
		t.Fatalf("prior snapshot poisoned by failed refresh: %v", err)
	}
	if e.QualifiedName != "default/db/t1" {
		t.Errorf("unexpected entry %+v", e)
	}
}

func TestTypeCache_NotFoundAfterRefresh(t *testing.T) {
	lister := newMockLister()
	lister.set("Table", header("g1", "default/db/t1"))
	c := NewTypeCache("Table", lister, Options{})

	_, err := c.GetByGUID(context.Background(), "nope")
	if !catalog.IsNotFound(err) {
		t.Errorf("expected NotFoundError, got %v", err)
	}
	if got := lister.callCount("Table"); got != 1 {
		t.Errorf("miss should refresh exactly once before reporting not-found, got %d", got)
	}
}

func TestTypeCache_WaiterTimeoutAbandonsRefresh(t *testing.T) {
	lister := newMockLister()
	lister.set("Table", header("g1", "default/db/t1"))
	lister.barrier = make(chan struct{})
	c := NewTypeCache("Table", lister, Options{})
	defer close(lister.barrier)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.GetByGUID(ctx, "g1")
	if !catalog.IsTransient(err) {
		t.Errorf("expired waiter should see a transient error, got %v", err)
	}
}

func TestTypeCache_InvalidateAll(t *testing.T) {
	lister := newMockLister()
	lister.set("Table", header("g1", "default/db/t1"), header("g2", "default/db/t2"))
	c := NewTypeCache("Table", lister, Options{})
	ctx := context.Background()

	if _, err := c.GetByGUID(ctx, "g1"); err != nil {
		t.Fatalf("seed lookup failed: %v", err)
	}
	if c.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", c.Len())
	}

	c.InvalidateAll()
	if c.Len() != 0 {
		t.Errorf("InvalidateAll left %d entries", c.Len())
	}

	lister.resetCalls()
	if _, err := c.GetByGUID(ctx, "g2"); err != nil {
		t.Fatalf("lookup after InvalidateAll failed: %v", err)
	}
	if got := lister.callCount("Table"); got != 1 {
		t.Errorf("expected one refresh after full invalidation, got %d", got)
	}
}

func TestTypeCache_InvalidatePattern(t *testing.T) {
	lister := newMockLister()
	lister.set("Table",
		header("g1", "default/db/t1"),
		header("g2", "default/db/t2"),
		header("g3", "default/other/t3"),
	)
	c := NewTypeCache("Table", lister, Options{})
	if _, err := c.GetByGUID(context.Background(), "g1"); err != nil {
		t.Fatalf("seed lookup failed: %v", err)
	}

	if removed := c.InvalidatePattern("default/db/*"); removed != 2 {
		t.Errorf("expected 2 removals, got %d", removed)
	}
	if c.Len() != 1 {
		t.Errorf("expected 1 surviving entry, got %d", c.Len())
	}
	if _, ok := c.lookupQN("default/other/t3"); !ok {
		t.Error("non-matching entry should survive pattern invalidation")
	}
}

func TestTypeCache_InvalidateQualifiedName(t *testing.T) {
	lister := newMockLister()
	lister.set("Table", header("g1", "default/db/t1"))
	c := NewTypeCache("Table", lister, Options{})
	if _, err := c.GetByGUID(context.Background(), "g1"); err != nil {
		t.Fatalf("seed lookup failed: %v", err)
	}

	if !c.InvalidateQualifiedName("default/db/t1") {
		t.Error("expected removal by qualified name")
	}
	if c.InvalidateQualifiedName("default/db/t1") {
		t.Error("second removal should be a no-op")
	}
	if c.Len() != 0 {
		t.Errorf("expected empty cache, got %d entries", c.Len())
	}
}

func TestTypeCache_Stats(t *testing.T) {
	lister := newMockLister()
	lister.set("Table", header("g1", "default/db/t1"))
	c := NewTypeCache("Table", lister, Options{})
	ctx := context.Background()

	c.GetByGUID(ctx, "g1") // miss + refresh
	c.GetByGUID(ctx, "g1") // hit
	c.Invalidate("g1")

	s := c.StatsSnapshot()
	if s.Hits != 1 || s.Misses != 1 || s.Refreshes != 1 || s.Invalidations != 1 {
		t.Errorf("unexpected stats: %+v", s)
	}
	if s.HitRate != 0.5 {
		t.Errorf("expected hit rate 0.5, got %f", s.HitRate)
	}
}

func TestMatchQualifiedName(t *testing.T) {
	cases := []struct {
		pattern, name string
		want          bool
	}{
		{"default/db/t1", "default/db/t1", true},
		{"default/db/t1", "default/db/t2", false},
		{"default/db/*", "default/db/t1", true},
		{"default/db/*", "default/other/t1", false},
		{"*/t1", "default/db/t1", true},
		{"*staging*", "default/staging/t1", true},
		{"*staging*", "default/prod/t1", false},
		{"default/*/t1", "default/db/t1", true},
		{"default/*/t1", "default/db/t2", false},
		{"*", "anything", true},
		{"", "anything", false},
	}
	for _, tc := range cases {
		if got := matchQualifiedName(tc.pattern, tc.name); got != tc.want {
			t.Errorf("matchQualifiedName(%q, %q) = %v, want %v", tc.pattern, tc.name, got, tc.want)
		}
	}
}
