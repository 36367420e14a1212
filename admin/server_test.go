package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/example/catalog-sdk/catalog"
	"github.com/example/catalog-sdk/dispatch"
	"github.com/example/catalog-sdk/refcache"
)

type stubLister struct {
	headers map[string][]catalog.EntityHeader
}

func (s *stubLister) ListEntities(_ context.Context, typeName string) ([]catalog.EntityHeader, error) {
	return s.headers[typeName], nil
}

type stubApplier struct{}

func (stubApplier) ApplyMutation(context.Context, catalog.Mutation) error { return nil }

func newFixture(t *testing.T) (*Server, *refcache.Resolver, *dispatch.Dispatcher) {
	t.Helper()
	lister := &stubLister{headers: map[string][]catalog.EntityHeader{
		"Table": {
			{GUID: "t-1", TypeName: "Table", QualifiedName: "db.sales.orders"},
			{GUID: "t-2", TypeName: "Table", QualifiedName: "db.sales.refunds"},
			{GUID: "t-3", TypeName: "Table", QualifiedName: "db.hr.people"},
		},
	}}
	resolver := refcache.NewResolver(lister, refcache.Options{})
	registry := dispatch.NewRegistry()
	d := dispatch.New(registry, resolver, stubApplier{}, nil, dispatch.Config{})
	return NewServer(resolver, d, registry, nil), resolver, d
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthz(t *testing.T) {
	srv, _, _ := newFixture(t)
	rec := get(t, srv.Handler(), "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _, _ := newFixture(t)
	rec := get(t, srv.Handler(), "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestCacheStats(t *testing.T) {
	srv, resolver, _ := newFixture(t)
	if _, err := resolver.GetByGUID(context.Background(), "Table", "t-1"); err != nil {
		t.Fatalf("seed lookup: %v", err)
	}

	rec := get(t, srv.Handler(), "/api/cache/stats")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Caches []refcache.StatsSnapshot `json:"caches"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Caches) != 1 {
		t.Fatalf("got %d cache snapshots, want 1", len(body.Caches))
	}
}

func TestInvalidateByGUID(t *testing.T) {
	srv, resolver, _ := newFixture(t)
	if _, err := resolver.GetByGUID(context.Background(), "Table", "t-1"); err != nil {
		t.Fatalf("seed lookup: %v", err)
	}

	handler := srv.Handler()
	body := `{"typeName":"Table","guids":["t-1","t-absent"]}`
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/cache/invalidate", strings.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var resp InvalidateResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.InvalidatedCount != 1 {
		t.Errorf("InvalidatedCount = %d, want 1 (absent GUID is a no-op)", resp.InvalidatedCount)
	}
	if resp.RequestID == "" {
		t.Error("RequestID not set")
	}
}

func TestInvalidateByPattern(t *testing.T) {
	srv, resolver, _ := newFixture(t)
	if _, err := resolver.GetByGUID(context.Background(), "Table", "t-1"); err != nil {
		t.Fatalf("seed lookup: %v", err)
	}

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/cache/invalidate",
		strings.NewReader(`{"typeName":"Table","pattern":"db.sales.*"}`)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp InvalidateResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.InvalidatedCount != 2 {
		t.Errorf("InvalidatedCount = %d, want 2 for db.sales.*", resp.InvalidatedCount)
	}
}

func TestInvalidateRejectsBadRequests(t *testing.T) {
	srv, _, _ := newFixture(t)
	handler := srv.Handler()

	cases := []struct {
		name string
		body string
	}{
		{"not json", `{{{`},
		{"missing typeName", `{"guids":["t-1"]}`},
		{"nothing to do", `{"typeName":"Table"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/cache/invalidate", strings.NewReader(tc.body)))
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestEventRecordLookup(t *testing.T) {
	srv, _, d := newFixture(t)
	if _, err := d.Submit(context.Background(), dispatch.Event{ID: "evt-9", Type: "glossary.term.updated"}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	handler := srv.Handler()
	rec := get(t, handler, "/api/events/evt-9")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var record dispatch.Record
	if err := json.Unmarshal(rec.Body.Bytes(), &record); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if record.EventID != "evt-9" {
		t.Errorf("EventID = %q, want evt-9", record.EventID)
	}

	if rec := get(t, handler, "/api/events/unknown"); rec.Code != http.StatusNotFound {
		t.Errorf("unknown event status = %d, want 404", rec.Code)
	}
}

func TestHandlerTypesListing(t *testing.T) {
	srv, _, _ := newFixture(t)
	rec := get(t, srv.Handler(), "/api/handlers")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		EventTypes []string `json:"eventTypes"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.EventTypes) != 0 {
		t.Errorf("got %v, want empty registry", body.EventTypes)
	}
}
