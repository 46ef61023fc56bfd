package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHealthHandlersHealthz(t *testing.T) {
	started := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	now := started.Add(90 * time.Second)
	handlers := NewHealthHandlers(
		WithHealthBuildInfo(BuildInfo{Version: "1.2.3", CommitSHA: "abc123", Environment: "test", StartedAt: started}),
		WithHealthClock(func() time.Time { return now }),
	)

	rr := httptest.NewRecorder()
	handlers.Healthz(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var payload map[string]any
	decodeBody(t, rr, &payload)
	if payload["status"] != "ok" {
		t.Fatalf("expected status ok, got %v", payload["status"])
	}
	if payload["version"] != "1.2.3" || payload["commitSha"] != "abc123" || payload["environment"] != "test" {
		t.Fatalf("unexpected build info %#v", payload)
	}
	if payload["uptime"] != "1m30s" {
		t.Fatalf("expected uptime 1m30s, got %v", payload["uptime"])
	}
	if payload["timestamp"] != now.Format(time.RFC3339) {
		t.Fatalf("unexpected timestamp %v", payload["timestamp"])
	}
}

func TestHealthHandlersReadyzSuccess(t *testing.T) {
	called := false
	handlers := NewHealthHandlers(WithHealthCheck("backend", func(ctx context.Context) error {
		called = true
		if _, ok := ctx.Deadline(); !ok {
			t.Fatalf("expected check context to carry a deadline")
		}
		return nil
	}))

	rr := httptest.NewRecorder()
	handlers.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !called {
		t.Fatalf("expected backend check to run")
	}
	var payload struct {
		Status string                 `json:"status"`
		Checks map[string]checkResult `json:"checks"`
	}
	decodeBody(t, rr, &payload)
	if payload.Status != "ok" || payload.Checks["backend"].Status != "ok" {
		t.Fatalf("unexpected payload %#v", payload)
	}
}

func TestHealthHandlersReadyzFailure(t *testing.T) {
	handlers := NewHealthHandlers(
		WithHealthCheck("backend", func(context.Context) error { return errors.New("connection refused") }),
		WithHealthCheck("stripe", func(context.Context) error { return nil }),
	)

	rr := httptest.NewRecorder()
	handlers.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	var payload struct {
		Status  string                 `json:"status"`
		Details []string               `json:"details"`
		Checks  map[string]checkResult `json:"checks"`
	}
	decodeBody(t, rr, &payload)
	if payload.Status != "degraded" {
		t.Fatalf("expected degraded, got %s", payload.Status)
	}
	if len(payload.Details) != 1 || payload.Details[0] != "backend: connection refused" {
		t.Fatalf("unexpected details %#v", payload.Details)
	}
	if payload.Checks["stripe"].Status != "ok" {
		t.Fatalf("expected stripe check ok, got %#v", payload.Checks["stripe"])
	}
}
