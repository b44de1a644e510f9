package server

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/MostafaZeid/my-supabase-app-sub002/internal/adapters/storage/sqlite"
	"github.com/MostafaZeid/my-supabase-app-sub002/internal/app"
)

// newService builds one service over an in-memory sqlite store.
func newService(t *testing.T) *app.Service {
	t.Helper()
	repo, err := sqlite.OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory() error = %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return app.NewService(repo, func() string { return "p1" }, func() time.Time {
		return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	}, app.ServiceConfig{})
}

// get sends one GET request through handler.
func get(handler http.Handler, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

// TestNewHandlerRoutes verifies health, readiness, and API mounting.
func TestNewHandlerRoutes(t *testing.T) {
	handler, cfg, err := NewHandler(Config{}, Dependencies{
		Service: newService(t),
		Logger:  log.New(io.Discard),
	})
	if err != nil {
		t.Fatalf("NewHandler() error = %v", err)
	}
	if cfg.HTTPBind != defaultBindAddress || cfg.APIEndpoint != "/api/v1" || cfg.MCPEndpoint != "/mcp" || cfg.ServerName != "weightmap" {
		t.Fatalf("unexpected normalized config %#v", cfg)
	}

	if rec := get(handler, "/healthz"); rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Fatalf("healthz = %d %q", rec.Code, rec.Body.String())
	}
	if rec := get(handler, "/readyz"); rec.Code != http.StatusOK {
		t.Fatalf("readyz = %d, want 200", rec.Code)
	}
	rec := get(handler, "/api/v1/projects")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"projects"`) {
		t.Fatalf("projects = %d %q", rec.Code, rec.Body.String())
	}
	if rec := get(handler, "/api/v1/projects/missing"); rec.Code != http.StatusNotFound {
		t.Fatalf("missing project = %d, want 404", rec.Code)
	}
}

// TestRequestLogRecordsStatus verifies the request log sees handler status codes.
func TestRequestLogRecordsStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := log.NewWithOptions(&buf, log.Options{Level: log.DebugLevel, Formatter: log.LogfmtFormatter})
	handler, _, err := NewHandler(Config{}, Dependencies{Service: newService(t), Logger: logger})
	if err != nil {
		t.Fatalf("NewHandler() error = %v", err)
	}
	get(handler, "/api/v1/projects/missing")
	get(handler, "/healthz")
	out := buf.String()
	if !strings.Contains(out, "path=/api/v1/projects/missing") || !strings.Contains(out, "status=404") {
		t.Fatalf("expected 404 request log line, got %q", out)
	}
	if !strings.Contains(out, "status=200") {
		t.Fatalf("expected 200 request log line, got %q", out)
	}
}

// TestReadinessReportsProbeFailure verifies /readyz follows the storage probe.
func TestReadinessReportsProbeFailure(t *testing.T) {
	handler, _, err := NewHandler(Config{}, Dependencies{
		Service: newService(t),
		Ready:   func(context.Context) error { return errors.New("db down") },
	})
	if err != nil {
		t.Fatalf("NewHandler() error = %v", err)
	}
	if rec := get(handler, "/readyz"); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz = %d, want 503", rec.Code)
	}
	if rec := get(handler, "/healthz"); rec.Code != http.StatusOK {
		t.Fatalf("healthz = %d, want 200", rec.Code)
	}
}

// TestNewHandlerValidation verifies required dependencies and endpoint collisions.
func TestNewHandlerValidation(t *testing.T) {
	if _, _, err := NewHandler(Config{}, Dependencies{}); err == nil {
		t.Fatal("expected missing service error")
	}
	_, _, err := NewHandler(Config{APIEndpoint: "/x", MCPEndpoint: "x/"}, Dependencies{Service: newService(t)})
	if err == nil {
		t.Fatal("expected endpoint collision error")
	}
}

// TestNormalizeEndpoint verifies endpoint cleanup and fallbacks.
func TestNormalizeEndpoint(t *testing.T) {
	cases := map[string]string{
		"":           "/api/v1",
		"/":          "/api/v1",
		"api/v2":     "/api/v2",
		" /api/v3/ ": "/api/v3",
	}
	for in, want := range cases {
		if got := normalizeEndpoint(in, "/api/v1"); got != want {
			t.Fatalf("normalizeEndpoint(%q) = %q, want %q", in, got, want)
		}
	}
}

// TestRunStopsOnContextCancel verifies graceful shutdown.
func TestRunStopsOnContextCancel(t *testing.T) {
	svc := newService(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, Config{HTTPBind: "127.0.0.1:0"}, Dependencies{Service: svc})
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not stop after cancel")
	}
}
