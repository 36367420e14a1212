package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *RESTClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewRESTClient(srv.URL, "test-token", 5*time.Second)
}

func TestRESTClient_ListEntities_Paging(t *testing.T) {
	// 1205 entities with a page size of 500 should take exactly 3 requests.
	const total = 1205
	requests := 0

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		requests++
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("missing bearer token, got %q", got)
		}

		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

		var page listPage
		for i := offset; i < offset+limit && i < total; i++ {
			page.Entities = append(page.Entities, EntityHeader{
				GUID:          "g" + strconv.Itoa(i),
				TypeName:      "AtlasGlossaryTerm",
				QualifiedName: "default/term" + strconv.Itoa(i),
			})
		}
		page.TotalCount = total
		_ = json.NewEncoder(w).Encode(page)
	})

	headers, err := client.ListEntities(context.Background(), "AtlasGlossaryTerm")
	if err != nil {
		t.Fatalf("ListEntities failed: %v", err)
	}
	if len(headers) != total {
		t.Errorf("expected %d entities, got %d", total, len(headers))
	}
	if requests != 3 {
		t.Errorf("expected 3 paged requests, got %d", requests)
	}
	if headers[0].GUID != "g0" || headers[total-1].GUID != "g"+strconv.Itoa(total-1) {
		t.Error("page concatenation out of order")
	}
}

func TestRESTClient_ListEntities_StatusClassification(t *testing.T) {
	cases := []struct {
		status int
		check  func(error) bool
		name   string
	}{
		{http.StatusNotFound, IsNotFound, "not found"},
		{http.StatusInternalServerError, IsTransient, "transient 5xx"},
		{http.StatusTooManyRequests, IsTransient, "transient 429"},
		{http.StatusBadRequest, IsPermanent, "permanent 4xx"},
	}

	for _, tc := range cases {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		})
		_, err := client.ListEntities(context.Background(), "Connection")
		if err == nil {
			t.Fatalf("%s: expected error for status %d", tc.name, tc.status)
		}
		if !tc.check(err) {
			t.Errorf("%s: status %d misclassified: %v", tc.name, tc.status, err)
		}
	}
}

func TestRESTClient_ApplyMutation(t *testing.T) {
	var received Mutation
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode mutation: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	})

	m := Mutation{
		Op:            OpUpdate,
		TypeName:      "AtlasGlossaryTerm",
		GUID:          "g1",
		QualifiedName: "default/term1",
	}
	if err := client.ApplyMutation(context.Background(), m); err != nil {
		t.Fatalf("ApplyMutation failed: %v", err)
	}
	if received.GUID != "g1" || received.Op != OpUpdate {
		t.Errorf("server received wrong mutation: %+v", received)
	}
}

func TestRESTClient_ApplyMutation_ConflictIsTransient(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})
	err := client.ApplyMutation(context.Background(), Mutation{Op: OpUpdate, TypeName: "Table", QualifiedName: "default/db/t1"})
	if !IsTransient(err) {
		t.Errorf("409 should classify as transient, got %v", err)
	}
}

func TestRESTClient_NetworkErrorIsTransient(t *testing.T) {
	client := NewRESTClient("http://127.0.0.1:1", "", 200*time.Millisecond)
	_, err := client.ListEntities(context.Background(), "Table")
	if !IsTransient(err) {
		t.Errorf("connection failure should classify as transient, got %v", err)
	}
}

func TestErrorTaxonomy_ContextErrorsAreTransient(t *testing.T) {
	if !IsTransient(context.DeadlineExceeded) {
		t.Error("deadline expiry should be transient")
	}
	if !IsTransient(context.Canceled) {
		t.Error("cancellation should be transient")
	}
	if IsTransient(errors.New("boom")) {
		t.Error("arbitrary errors are not transient")
	}
	if !IsPermanent(&PermanentError{Op: "x", Err: errors.New("bad")}) {
		t.Error("IsPermanent should match PermanentError")
	}
	if !IsValidation(&ValidationError{Reason: "missing field"}) {
		t.Error("IsValidation should match ValidationError")
	}
}
