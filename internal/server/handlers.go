// Package server exposes HTTP handlers, including WebSocket upgrades, the
// room directory API, health checks, and the built-in test page.
package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"

	"github.com/gorilla/websocket"
)

// API bundles the HTTP surface around an injected hub. Handlers never touch
// package-level state.
type API struct {
	hub      *Hub
	cfg      *Config
	log      *slog.Logger
	upgrader websocket.Upgrader
}

// NewAPI builds the handler set for a hub, with origin checking derived from
// the configured allowlist.
func NewAPI(hub *Hub, cfg *Config, logger *slog.Logger) *API {
	policy := newOriginPolicy(cfg.AllowedOrigins, logger)
	return &API{
		hub: hub,
		cfg: cfg,
		log: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     policy.checkOrigin,
		},
	}
}

// ServeWS upgrades the connection and registers the session in its room. The
// session is a member of the room from the moment of acceptance, before any
// frame is read.
func (a *API) ServeWS(w http.ResponseWriter, r *http.Request) {
	room := r.PathValue("room")
	if room == "" {
		http.Error(w, "room is required", http.StatusBadRequest)
		return
	}

	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.log.Warn("ws.upgrade", "err", err)
		return
	}

	client := NewClient(conn, a.hub, room, r.RemoteAddr, a.cfg, a.log)
	a.hub.Register(client)
}

type createRoomRequest struct {
	Name string `json:"name"`
}

type createRoomResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// ListRooms returns the keys of all currently known rooms.
func (a *API) ListRooms(w http.ResponseWriter, _ *http.Request) {
	rooms := a.hub.Registry().Rooms()
	sort.Strings(rooms)
	writeJSON(w, http.StatusOK, rooms)
}

// CreateRoom explicitly creates an empty room ahead of any join. Duplicate
// creation is a no-op reported as a conflict.
func (a *API) CreateRoom(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		http.Error(w, "room name is required", http.StatusBadRequest)
		return
	}

	if !a.hub.Registry().Create(req.Name) {
		writeJSON(w, http.StatusConflict, createRoomResponse{
			Success: false,
			Message: fmt.Sprintf("Room '%s' already exists", req.Name),
		})
		return
	}

	a.log.Info("rooms.created", "room", req.Name)
	writeJSON(w, http.StatusCreated, createRoomResponse{
		Success: true,
		Message: fmt.Sprintf("Room '%s' created successfully", req.Name),
	})
}

// HealthHandler provides a simple health check endpoint that returns server status.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "Chat relay is running!")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// TestPage serves an HTML page for exercising the relay by hand:
// pick a room and username, join, and watch moderated traffic.
func (a *API) TestPage(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	html := `<!DOCTYPE html>
<html>
<head>
    <title>Chat Relay Test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #messages {
            border: 1px solid #ccc;
            height: 300px;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
        }
        input[type="text"] { padding: 5px; margin-right: 10px; }
        button {
            padding: 5px 15px;
            background-color: #007cba;
            color: white;
            border: none;
            cursor: pointer;
        }
        .system { color: gray; font-style: italic; }
        .flagged { color: red; }
    </style>
</head>
<body>
    <h1>Chat Relay Test</h1>
    <div>
        <input type="text" id="room" placeholder="Room" value="lobby">
        <input type="text" id="username" placeholder="Username">
        <button id="connectButton" onclick="connect()">Join</button>
    </div>
    <div id="messages"></div>
    <div>
        <input type="text" id="messageInput" placeholder="Type a message..." disabled>
        <button id="sendButton" onclick="sendMessage()" disabled>Send</button>
    </div>

    <script>
        let ws = null;
        const messagesDiv = document.getElementById('messages');
        const messageInput = document.getElementById('messageInput');
        const sendButton = document.getElementById('sendButton');

        function addMessage(text, cls) {
            const el = document.createElement('div');
            if (cls) el.className = cls;
            el.textContent = text;
            messagesDiv.appendChild(el);
            messagesDiv.scrollTop = messagesDiv.scrollHeight;
        }

        function connect() {
            const room = document.getElementById('room').value.trim();
            const username = document.getElementById('username').value.trim();
            if (!room || !username) return;

            ws = new WebSocket('ws://' + location.host + '/ws/' + encodeURIComponent(room));
            ws.onopen = function() {
                ws.send(JSON.stringify({type: 'join', username: username}));
                messageInput.disabled = false;
                sendButton.disabled = false;
                addMessage('Connected to ' + room, 'system');
            };
            ws.onmessage = function(event) {
                const msg = JSON.parse(event.data);
                if (msg.type === 'system') {
                    addMessage(msg.message, 'system');
                } else if (msg.filter_result && msg.filter_result.category &&
                           msg.filter_result.category !== 'clean') {
                    addMessage(msg.username + ': [hidden by moderation]', 'flagged');
                } else {
                    addMessage(msg.username + ': ' + msg.message);
                }
            };
            ws.onclose = function() {
                messageInput.disabled = true;
                sendButton.disabled = true;
                addMessage('Disconnected', 'system');
                ws = null;
            };
        }

        function sendMessage() {
            const text = messageInput.value.trim();
            const username = document.getElementById('username').value.trim();
            if (text && ws && ws.readyState === WebSocket.OPEN) {
                ws.send(JSON.stringify({type: 'message', username: username, message: text}));
                addMessage('You: ' + text);
                messageInput.value = '';
            }
        }

        messageInput.addEventListener('keypress', function(e) {
            if (e.key === 'Enter') sendMessage();
        });
    </script>
</body>
</html>`
	if _, err := fmt.Fprint(w, html); err != nil {
		a.log.Warn("testpage.write", "err", err)
	}
}
