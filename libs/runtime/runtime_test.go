package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestReadyzReportsFailures(t *testing.T) {
	mux := NewBaseMuxWithReady(
		ReadyCheck{Name: "db", Check: func(context.Context) error { return nil }},
		ReadyCheck{Name: "redis", Check: func(context.Context) error { return errors.New("dial tcp: refused") }},
	)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	var report readyReport
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if report.Checks["db"] != "ok" || report.Checks["redis"] != "dial tcp: refused" {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestReadyzWithoutChecks(t *testing.T) {
	rec := httptest.NewRecorder()
	NewBaseMuxWithReady().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestParseLevel(t *testing.T) {
	if ParseLevel(" WARNING ").String() != "WARN" || ParseLevel("").String() != "INFO" {
		t.Fatal("unexpected level parsing")
	}
}
