package admin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
)

func newTestRouter(pub *Publisher) *mux.Router {
	s := NewServer(pub, nil)
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.healthzHandler).Methods(http.MethodGet)
	r.HandleFunc("/status", s.statusHandler).Methods(http.MethodGet)
	return r
}

func TestHealthzNotReadyBeforeFirstTick(t *testing.T) {
	r := newTestRouter(NewPublisher())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("code = %d, want 503", rr.Code)
	}
}

func TestHealthzReadyAfterFirstTick(t *testing.T) {
	pub := NewPublisher()
	pub.Publish(Snapshot{Ticks: 1})
	r := newTestRouter(pub)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("code = %d, want 200", rr.Code)
	}
}

func TestStatusNotReadyBeforeFirstTick(t *testing.T) {
	r := newTestRouter(NewPublisher())

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("code = %d, want 503", rr.Code)
	}
}

func TestStatusReportsSnapshot(t *testing.T) {
	pub := NewPublisher()
	pub.Publish(Snapshot{
		StartedAt:           time.Now().Add(-time.Minute),
		Ticks:               42,
		ActiveConnections:   3,
		Capacity:            500,
		RegistryFingerprint: "deadbeef",
		ExtensionSlotCount:  2,
	})
	r := newTestRouter(pub)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("code = %d, want 200", rr.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["registry_fingerprint"] != "deadbeef" {
		t.Errorf("registry_fingerprint = %v, want deadbeef", body["registry_fingerprint"])
	}
	if int(body["active_connections"].(float64)) != 3 {
		t.Errorf("active_connections = %v, want 3", body["active_connections"])
	}
	if uptime, ok := body["uptime_seconds"].(float64); !ok || uptime <= 0 {
		t.Errorf("uptime_seconds = %v, want positive", body["uptime_seconds"])
	}
}
