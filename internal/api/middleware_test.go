package api

import (
	"net/http"
	"testing"
)

func TestRequestIDPropagation(t *testing.T) {
	srv, _ := testServer(t)

	rec := doJSON(t, srv, "GET", "/api/v1/actions", "")
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("no X-Request-ID generated")
	}
}

func TestRateLimit(t *testing.T) {
	t.Setenv("RATE_LIMIT_RPS", "1")
	t.Setenv("RATE_LIMIT_BURST", "2")
	srv, _ := testServer(t)

	var limited bool
	for i := 0; i < 5; i++ {
		rec := doJSON(t, srv, "GET", "/api/v1/actions", "")
		if rec.Code == http.StatusTooManyRequests {
			limited = true
			if rec.Header().Get("Retry-After") == "" {
				t.Error("429 without Retry-After")
			}
			break
		}
	}
	if !limited {
		t.Error("rate limit never engaged")
	}

	// Health endpoints bypass the limiter.
	if rec := doJSON(t, srv, "GET", "/health", ""); rec.Code != http.StatusOK {
		t.Errorf("health limited: %d", rec.Code)
	}
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/api/v1/runs/abc-123", "/api/v1/runs/{id}"},
		{"/api/v1/runs/abc-123/events", "/api/v1/runs/{id}/events"},
		{"/api/v1/runs", "/api/v1/runs"},
		{"/health", "/health"},
	}
	for _, tt := range tests {
		if got := normalizePath(tt.in); got != tt.want {
			t.Errorf("normalizePath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
