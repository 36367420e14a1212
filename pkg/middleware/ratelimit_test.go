package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/time/rate"
)

func TestClientLimiter_BurstThenBlocked(t *testing.T) {
	cl := NewClientLimiter(1, 3)

	for i := 0; i < 3; i++ {
		if !cl.Allow("client-a") {
			t.Errorf("request %d within burst should be allowed", i+1)
		}
	}
	if cl.Allow("client-a") {
		t.Error("request over burst should be blocked")
	}
}

func TestClientLimiter_KeysAreIndependent(t *testing.T) {
	cl := NewClientLimiter(1, 1)

	if !cl.Allow("client-a") {
		t.Error("first request for client-a should be allowed")
	}
	if !cl.Allow("client-b") {
		t.Error("client-b should not be throttled by client-a's usage")
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	cl := NewClientLimiter(rate.Limit(1), 1)
	handler := RateLimit(cl, KeyByIP, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5000"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("first request status = %d, want 204", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", rec.Code)
	}
}

func TestKeyByIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.1:5000"
	if got := KeyByIP(r); got != "10.0.0.1:5000" {
		t.Errorf("KeyByIP = %q, want RemoteAddr", got)
	}

	r.Header.Set("X-Real-IP", "192.168.1.9")
	if got := KeyByIP(r); got != "192.168.1.9" {
		t.Errorf("KeyByIP = %q, want X-Real-IP", got)
	}

	r.Header.Set("X-Forwarded-For", "203.0.113.7")
	if got := KeyByIP(r); got != "203.0.113.7" {
		t.Errorf("KeyByIP = %q, want X-Forwarded-For", got)
	}
}
