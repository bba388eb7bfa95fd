package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHealthCheckerAllHealthy(t *testing.T) {
	checker := NewHealthChecker()
	checker.Register("sessions", func(ctx context.Context) error { return nil })
	checker.Register("audit_db", func(ctx context.Context) error { return nil })

	healthy, statuses := checker.Check(context.Background())
	if !healthy {
		t.Error("Expected healthy")
	}
	if len(statuses) != 2 {
		t.Errorf("Expected 2 statuses, got %d", len(statuses))
	}
}

func TestHealthCheckerFailingComponent(t *testing.T) {
	checker := NewHealthChecker()
	checker.Register("sessions", func(ctx context.Context) error { return nil })
	checker.Register("audit_db", func(ctx context.Context) error {
		return errors.New("connection refused")
	})

	healthy, statuses := checker.Check(context.Background())
	if healthy {
		t.Error("Expected unhealthy")
	}
	for _, s := range statuses {
		if s.Name == "audit_db" && s.Healthy {
			t.Error("Expected audit_db to be unhealthy")
		}
	}
}

func TestHealthCheckerHandler(t *testing.T) {
	checker := NewHealthChecker()
	checker.Register("sessions", func(ctx context.Context) error { return nil })

	req := httptest.NewRequest("GET", "/healthz", nil)
	rr := httptest.NewRecorder()
	checker.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", rr.Code)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	if body["status"] != "healthy" {
		t.Errorf("Expected healthy status, got %v", body["status"])
	}
}

func TestHealthCheckerHandlerUnhealthy(t *testing.T) {
	checker := NewHealthChecker()
	checker.Register("audit_db", func(ctx context.Context) error {
		return errors.New("down")
	})

	req := httptest.NewRequest("GET", "/healthz", nil)
	rr := httptest.NewRecorder()
	checker.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", rr.Code)
	}
}
