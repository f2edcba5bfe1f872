package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type mockHealthChecker struct {
	pingFn func(ctx context.Context) error
}

func (m *mockHealthChecker) PingContext(ctx context.Context) error {
	return m.pingFn(ctx)
}

// ストレージ疎通時に200とバックエンド名を返すことを検証
func TestHealthCheck_Healthy(t *testing.T) {
	checker := &mockHealthChecker{
		pingFn: func(ctx context.Context) error { return nil },
	}
	h := NewHealthHandler(checker, "file")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	h.Check(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["status"] != "ok" {
		t.Errorf("status = %v, want ok", body["status"])
	}
	if body["storage"] != "file" {
		t.Errorf("storage = %v, want file", body["storage"])
	}
}

// ストレージ不達時に503を返すことを検証
func TestHealthCheck_Unhealthy(t *testing.T) {
	checker := &mockHealthChecker{
		pingFn: func(ctx context.Context) error {
			return errors.New("connection refused")
		},
	}
	h := NewHealthHandler(checker, "postgres")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	h.Check(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["success"] != false {
		t.Errorf("success = %v, want false", body["success"])
	}
	if body["error"] != "storage is not reachable" {
		t.Errorf("error = %v", body["error"])
	}
}
