package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestAPI(t *testing.T) (*API, *httptest.Server) {
	t.Helper()
	cfg := NewConfig()
	cfg.AllowedOrigins = []string{"*"}

	hub := newTestHub()
	go hub.Run()
	t.Cleanup(func() { _ = hub.Shutdown(time.Second) })

	api := NewAPI(hub, cfg, testLogger())
	ts := httptest.NewServer(SetupRoutes(api))
	t.Cleanup(ts.Close)
	return api, ts
}

// TestHealthEndpoint tests the health check endpoint.
func TestHealthEndpoint(t *testing.T) {
	_, ts := newTestAPI(t)

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("Failed to request health endpoint: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
}

// TestCreateRoomEndpoint tests explicit room creation: 201 on first create,
// 409 no-op on duplicate, 400 for a missing name.
func TestCreateRoomEndpoint(t *testing.T) {
	_, ts := newTestAPI(t)

	post := func(body string) *http.Response {
		t.Helper()
		resp, err := http.Post(ts.URL+"/rooms", "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatalf("Failed to POST /rooms: %v", err)
		}
		return resp
	}

	resp := post(`{"name":"x"}`)
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Expected 201 for new room, got %d", resp.StatusCode)
	}
	var created createRoomResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if !created.Success {
		t.Errorf("Expected success=true, got %+v", created)
	}

	dup := post(`{"name":"x"}`)
	defer func() { _ = dup.Body.Close() }()
	if dup.StatusCode != http.StatusConflict {
		t.Errorf("Expected 409 for duplicate room, got %d", dup.StatusCode)
	}
	var conflicted createRoomResponse
	if err := json.NewDecoder(dup.Body).Decode(&conflicted); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if conflicted.Success || !strings.Contains(conflicted.Message, "already exists") {
		t.Errorf("Expected duplicate report, got %+v", conflicted)
	}

	bad := post(`{}`)
	defer func() { _ = bad.Body.Close() }()
	if bad.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for missing name, got %d", bad.StatusCode)
	}
}

// TestListRoomsEndpoint tests the room directory listing.
func TestListRoomsEndpoint(t *testing.T) {
	api, ts := newTestAPI(t)

	api.hub.Registry().Create("beta")
	api.hub.Registry().Create("alpha")

	resp, err := http.Get(ts.URL + "/rooms")
	if err != nil {
		t.Fatalf("Failed to GET /rooms: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var rooms []string
	if err := json.NewDecoder(resp.Body).Decode(&rooms); err != nil {
		t.Fatalf("Failed to decode room list: %v", err)
	}
	if len(rooms) != 2 || rooms[0] != "alpha" || rooms[1] != "beta" {
		t.Errorf("Expected sorted [alpha beta], got %v", rooms)
	}
}

// TestListRoomsEmpty tests that the listing is an empty JSON array, not null,
// when no rooms exist.
func TestListRoomsEmpty(t *testing.T) {
	_, ts := newTestAPI(t)

	resp, err := http.Get(ts.URL + "/rooms")
	if err != nil {
		t.Fatalf("Failed to GET /rooms: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var rooms []string
	if err := json.NewDecoder(resp.Body).Decode(&rooms); err != nil {
		t.Fatalf("Failed to decode room list: %v", err)
	}
	if len(rooms) != 0 {
		t.Errorf("Expected no rooms, got %v", rooms)
	}
}

// TestMetricsEndpoint tests that Prometheus metrics are exposed.
func TestMetricsEndpoint(t *testing.T) {
	_, ts := newTestAPI(t)

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("Failed to GET /metrics: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
}

// TestWebSocketRequiresRoom tests that the upgrade endpoint without a room
// key in the path does not match a route.
func TestWebSocketRequiresRoom(t *testing.T) {
	_, ts := newTestAPI(t)

	resp, err := http.Get(ts.URL + "/ws/")
	if err != nil {
		t.Fatalf("Failed to GET /ws/: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusSwitchingProtocols {
		t.Error("Upgrade must not succeed without a room key")
	}
}

// TestCORSPreflight tests that a preflight request from a configured origin
// succeeds.
func TestCORSPreflight(t *testing.T) {
	_, ts := newTestAPI(t)

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/rooms", http.NoBody)
	if err != nil {
		t.Fatalf("Failed to build preflight request: %v", err)
	}
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Failed to send preflight request: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		t.Errorf("Expected preflight success, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got == "" {
		t.Error("Expected Access-Control-Allow-Origin header on preflight response")
	}
}
