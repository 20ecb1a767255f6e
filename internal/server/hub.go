// Package server coordinates session registration, room-scoped broadcast, and
// connection cleanup for the chat relay via the Hub type.
package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/modchat/relay/internal/moderation"
)

// Classifier scores chat text before it is relayed. Implemented by
// moderation.Client; test doubles stand in for the external service.
type Classifier interface {
	Classify(ctx context.Context, text string) moderation.Verdict
}

// Hub owns the room registry and serializes all membership changes and
// broadcasts through a single event loop. Sessions hand it clients to
// register and payloads to fan out; the hub never dials or accepts
// connections itself.
type Hub struct {
	registry   *Registry
	classifier Classifier
	log        *slog.Logger

	broadcast  chan BroadcastMessage
	register   chan *Client
	unregister chan *Client

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHub creates a hub around an injected registry and classifier. The
// returned Hub is ready once Run is started in its own goroutine.
func NewHub(registry *Registry, classifier Classifier, logger *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		registry:   registry,
		classifier: classifier,
		log:        logger,
		broadcast:  make(chan BroadcastMessage),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Registry exposes the room registry for the directory API.
func (h *Hub) Registry() *Registry {
	return h.registry
}

// Register hands an accepted client to the event loop. If the hub is already
// shutting down the connection is closed instead of being registered.
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.ctx.Done():
		if client.conn != nil {
			_ = client.conn.Close()
		}
	}
}

// Run starts the hub's main event loop, handling client registration,
// unregistration, and room broadcasts. This method should be called in a
// separate goroutine as it runs until Shutdown.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				h.log.Warn("hub.register.nil")
				continue
			}
			h.registerClient(client)

		case client := <-h.unregister:
			h.removeClient(client)

		case msg := <-h.broadcast:
			h.handleBroadcast(msg)
		}
	}
}

// registerClient joins the client to its room and launches the pump
// goroutines. The session is in its room before the first frame is read.
func (h *Hub) registerClient(client *Client) {
	client.closed = false
	h.registry.Join(client.room, client)
	activeConnections.Inc()
	h.log.Info("hub.client.joined", "room", client.room, "addr", client.addr)

	h.wg.Add(3)
	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump()
	}()
	go func() {
		defer h.wg.Done()
		client.processLoop()
	}()
}

// removeClient detaches the client from its room. Safe to call for clients
// that were already evicted; teardown happens at most once.
func (h *Hub) removeClient(client *Client) {
	if client == nil {
		return
	}
	if !h.registry.Leave(client.room, client) {
		return
	}
	client.closed = true
	close(client.send)
	activeConnections.Dec()
	h.log.Info("hub.client.left", "room", client.room, "addr", client.addr)
}

// publish hands a payload to the broadcast loop without wedging the caller
// if the hub is already shutting down.
func (h *Hub) publish(msg BroadcastMessage) {
	select {
	case h.broadcast <- msg:
	case <-h.ctx.Done():
	}
}

// safeSend queues a payload for one recipient without blocking the loop. A
// full buffer or closed channel counts as a failed delivery.
func (h *Hub) safeSend(client *Client, payload []byte) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Warn("hub.send.recovered", "addr", client.addr, "panic", r)
			ok = false
		}
	}()

	if client.closed {
		return false
	}

	select {
	case client.send <- payload:
		return true
	default:
		return false
	}
}

// handleBroadcast delivers one payload to every member of the room except the
// sender. A failed delivery to one recipient never aborts delivery to the
// rest and never surfaces to the sender's session; the failed recipient is
// evicted after the sweep so stale connections do not linger in the room.
func (h *Hub) handleBroadcast(msg BroadcastMessage) {
	members := h.registry.Members(msg.Room)

	var failed []*Client
	for _, member := range members {
		if msg.Sender != nil && member == msg.Sender {
			continue
		}
		if !h.safeSend(member, msg.Payload) {
			failed = append(failed, member)
		}
	}

	h.log.Debug("hub.broadcast", "room", msg.Room, "members", len(members), "failed", len(failed))

	for _, member := range failed {
		h.removeClient(member)
		broadcastEvictions.Inc()
	}
}

// shutdownClients closes every live connection so the pump goroutines unwind.
func (h *Hub) shutdownClients() {
	var clients []*Client
	for _, room := range h.registry.Rooms() {
		clients = append(clients, h.registry.Members(room)...)
	}

	for _, client := range clients {
		if client.conn != nil {
			if err := client.conn.Close(); err != nil && !isExpectedCloseError(err) {
				h.log.Warn("hub.shutdown.close", "addr", client.addr, "err", err)
			}
		}
	}

	h.log.Info("hub.shutdown.clients_closed", "count", len(clients))
}

// Shutdown initiates graceful shutdown of the hub and waits for all client
// goroutines to complete, or until the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Info("hub.shutdown.start")

	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info("hub.shutdown.complete")
		return nil
	case <-time.After(timeout):
		h.log.Warn("hub.shutdown.timeout")
		return context.DeadlineExceeded
	}
}
