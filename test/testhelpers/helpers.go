// Package testhelpers provides common utilities and helper functions for
// testing the chat relay.
//
// This package contains reusable test utilities that are shared across unit
// and integration tests. It provides functions for standing up a relay with a
// stubbed classifier, dialing rooms over WebSocket, and asserting on relayed
// frames to reduce code duplication in test files.
package testhelpers

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/modchat/relay/internal/moderation"
	"github.com/modchat/relay/internal/server"
)

// FlagLabel is the flagged-content label the classifier stub reports.
const FlagLabel = "악플/욕설"

// FlagScore is the score the classifier stub attaches to flagged text.
const FlagScore = 0.93

// NewClassifierStub returns an httptest server mimicking the external
// classification endpoint: text containing "flagme" is flagged above
// threshold, text containing "breakme" triggers a 500, anything else is
// scored clean.
func NewClassifierStub() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Inputs string `json:"inputs"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad payload", http.StatusBadRequest)
			return
		}

		switch {
		case strings.Contains(req.Inputs, "breakme"):
			http.Error(w, "model exploded", http.StatusInternalServerError)
		case strings.Contains(req.Inputs, "flagme"):
			writeScores(w, FlagLabel, FlagScore)
		default:
			writeScores(w, FlagLabel, 0.02)
		}
	}))
}

func writeScores(w http.ResponseWriter, label string, score float64) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode([][]map[string]any{{
		{"label": "clean", "score": 1 - score},
		{"label": label, "score": score},
	}})
}

// Relay bundles a running relay instance with the pieces tests interact with.
type Relay struct {
	Server *httptest.Server
	Hub    *server.Hub
	Config *server.Config
}

// StartRelay stands up a complete relay backed by the given classifier URL.
// customize may adjust the configuration before the relay starts; pass nil to
// accept the test defaults (all origins allowed, classifier stub threshold).
func StartRelay(t *testing.T, classifierURL string, customize func(cfg *server.Config)) *Relay {
	t.Helper()

	cfg := server.NewConfig()
	cfg.AllowedOrigins = []string{"*"}
	cfg.Moderation.URL = classifierURL
	cfg.Moderation.FlagLabel = FlagLabel
	cfg.Moderation.Threshold = 0.7
	cfg.Moderation.Timeout = 2 * time.Second
	if customize != nil {
		customize(cfg)
	}

	logger := slog.New(slog.DiscardHandler)
	hub := server.NewHub(server.NewRegistry(), moderation.NewClient(cfg.Moderation, nil, logger), logger)
	go hub.Run()

	api := server.NewAPI(hub, cfg, logger)
	ts := httptest.NewServer(server.SetupRoutes(api))

	t.Cleanup(func() {
		ts.Close()
		_ = hub.Shutdown(2 * time.Second)
	})

	return &Relay{Server: ts, Hub: hub, Config: cfg}
}

// WSURL converts the relay's base URL into the WebSocket endpoint for a room.
func (r *Relay) WSURL(room string) string {
	return "ws" + strings.TrimPrefix(r.Server.URL, "http") + "/ws/" + room
}

// DialRoom opens a WebSocket connection into the given room. An empty origin
// defaults to the relay's own URL; the upgrader rejects handshakes without an
// Origin header regardless of the allowlist.
func DialRoom(t *testing.T, relay *Relay, room, origin string) *websocket.Conn {
	t.Helper()

	if origin == "" {
		origin = relay.Server.URL
	}

	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	headers := http.Header{}
	headers.Set("Origin", origin)

	conn, resp, err := dialer.Dial(relay.WSURL(room), headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("Failed to dial room %q: %v", room, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// JoinRoom dials the room, announces username, and waits for the session's
// own join notice. Reading the notice back confirms the session is registered
// in the room before the caller lets other clients act.
func JoinRoom(t *testing.T, relay *Relay, room, username string) *websocket.Conn {
	t.Helper()
	conn := DialRoom(t, relay, room, "")
	SendJoin(t, conn, username)
	ExpectSystemFrame(t, conn, username+" has joined the room.")
	return conn
}

// SendJoin sends a join frame for username.
func SendJoin(t *testing.T, conn *websocket.Conn, username string) {
	t.Helper()
	if err := conn.WriteJSON(map[string]string{"type": "join", "username": username}); err != nil {
		t.Fatalf("Failed to send join frame: %v", err)
	}
}

// SendChat sends a chat frame from username with the given text.
func SendChat(t *testing.T, conn *websocket.Conn, username, text string) {
	t.Helper()
	if err := conn.WriteJSON(map[string]string{
		"type":     "message",
		"username": username,
		"message":  text,
	}); err != nil {
		t.Fatalf("Failed to send chat frame: %v", err)
	}
}

// ReadFrame reads the next frame within timeout and decodes it.
func ReadFrame(t *testing.T, conn *websocket.Conn, timeout time.Duration) map[string]any {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	var frame map[string]any
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("Failed to read frame: %v", err)
	}
	return frame
}

// ExpectNoFrame asserts that no frame arrives within timeout. Letting the
// read deadline expire poisons the connection for reads (gorilla reuses the
// first read error), so this must be the last read on conn; to assert absence
// mid-test, send a sentinel chat instead and assert the sentinel is the next
// frame received.
func ExpectNoFrame(t *testing.T, conn *websocket.Conn, timeout time.Duration) {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	_, _, err := conn.ReadMessage()
	if err == nil {
		t.Fatal("Expected no frame, but received one")
	}
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return
	}
	t.Fatalf("Unexpected error while waiting for absence of frame: %v", err)
}

// ExpectSystemFrame reads a frame and asserts it is a system notice
// containing the given text.
func ExpectSystemFrame(t *testing.T, conn *websocket.Conn, contains string) {
	t.Helper()
	frame := ReadFrame(t, conn, 2*time.Second)
	if frame["type"] != "system" {
		t.Fatalf("Expected a system frame, got %v", frame)
	}
	message, _ := frame["message"].(string)
	if !strings.Contains(message, contains) {
		t.Fatalf("Expected system notice containing %q, got %q", contains, message)
	}
}

// ExpectChatFrame reads a frame and asserts it is a chat frame from username
// carrying text, returning the filter_result for further assertions.
func ExpectChatFrame(t *testing.T, conn *websocket.Conn, username, text string) map[string]any {
	t.Helper()
	frame := ReadFrame(t, conn, 2*time.Second)
	if frame["type"] != "message" {
		t.Fatalf("Expected a chat frame, got %v", frame)
	}
	if frame["username"] != username || frame["message"] != text {
		t.Fatalf("Expected chat %q from %q, got %v", text, username, frame)
	}
	verdict, ok := frame["filter_result"].(map[string]any)
	if !ok {
		t.Fatalf("Chat frame missing filter_result: %v", frame)
	}
	return verdict
}

// AssertCleanVerdict asserts the verdict is {"clean", 0.0}.
func AssertCleanVerdict(t *testing.T, verdict map[string]any) {
	t.Helper()
	if verdict["category"] != "clean" {
		t.Errorf("Expected clean category, got %v", verdict["category"])
	}
	if score, _ := verdict["score"].(float64); score != 0.0 {
		t.Errorf("Expected score 0.0, got %v", verdict["score"])
	}
}

// AssertUnavailableVerdict asserts the verdict is the null/null failure
// sentinel.
func AssertUnavailableVerdict(t *testing.T, verdict map[string]any) {
	t.Helper()
	if verdict["category"] != nil {
		t.Errorf("Expected null category, got %v", verdict["category"])
	}
	if verdict["score"] != nil {
		t.Errorf("Expected null score, got %v", verdict["score"])
	}
}
