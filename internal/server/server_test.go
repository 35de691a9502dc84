package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"gradeflow/internal/config"
	"gradeflow/internal/store"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Database.Driver = "memory"
	return NewServer(cfg, store.NewMemory(), nil)
}

func TestServer_Routes(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)

	cases := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/api/status", http.StatusOK},
		{http.MethodGet, "/api/exams", http.StatusOK},
		{http.MethodGet, "/api/exams/missing/stats", http.StatusNotFound},
		{http.MethodOptions, "/api/import", http.StatusNoContent},
		{http.MethodGet, "/nope", http.StatusNotFound},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, nil))
		if rec.Code != tc.want {
			t.Fatalf("%s %s status=%d want %d", tc.method, tc.path, rec.Code, tc.want)
		}
		if got := rec.Header().Get("Access-Control-Allow-Origin"); tc.path != "/nope" && got != "*" {
			t.Fatalf("%s missing CORS header", tc.path)
		}
	}
}

func TestServer_RunStopsOnCancel(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, "127.0.0.1:0") }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("server did not stop")
	}
}
