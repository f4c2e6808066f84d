package timeouts

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tollgate/gateway/internal/services"
)

func TestForCategory(t *testing.T) {
	tests := []struct {
		category string
		want     time.Duration
	}{
		{"llm", 180 * time.Second},
		{"video", 300 * time.Second},
		{"image", 90 * time.Second},
		{"tts", 90 * time.Second},
		{"transcribe", 90 * time.Second},
		{"code", 90 * time.Second},
		{"travel", 60 * time.Second},
		{"ipfs", 60 * time.Second},
		{"weather", 30 * time.Second},
		{"", 30 * time.Second},
	}
	for _, tt := range tests {
		if got := ForCategory(tt.category); got != tt.want {
			t.Errorf("ForCategory(%q) = %s, want %s", tt.category, got, tt.want)
		}
	}
}

func testRegistry(t *testing.T) *services.Registry {
	t.Helper()
	r, err := services.LoadEmbedded()
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func shortDeadlines(string) time.Duration { return 20 * time.Millisecond }

func TestMiddlewareWrites408OnDeadline(t *testing.T) {
	mw := middlewareWith(testRegistry(t), shortDeadlines)

	slow := http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	req := httptest.NewRequest("GET", "/api/weather/current", nil)
	rec := httptest.NewRecorder()
	mw(slow).ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestTimeout {
		t.Fatalf("status = %d, want 408", rec.Code)
	}

	var body timeoutResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if !body.Retryable {
		t.Error("timeout response must be retryable")
	}
	if body.TimeoutMS != 20 {
		t.Errorf("timeout_ms = %d", body.TimeoutMS)
	}
	if body.ElapsedMS < 20 {
		t.Errorf("elapsed_ms = %d, want >= 20", body.ElapsedMS)
	}
}

func TestMiddlewareLeavesStartedResponsesAlone(t *testing.T) {
	mw := middlewareWith(testRegistry(t), shortDeadlines)

	// Handler writes a partial response before the deadline expires.
	partial := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("partial"))
		<-r.Context().Done()
	})

	req := httptest.NewRequest("GET", "/api/weather/current", nil)
	rec := httptest.NewRecorder()
	mw(partial).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status rewritten to %d", rec.Code)
	}
	if rec.Body.String() != "partial" {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestMiddlewarePassesFastRequests(t *testing.T) {
	mw := Middleware(testRegistry(t))

	fast := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	mw(fast).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Errorf("status = %d body = %q", rec.Code, rec.Body.String())
	}
}
