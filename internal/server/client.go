// Package server manages individual client sessions, handling read/write
// pumps, frame parsing, moderation lookups, and lifecycle control for each
// connection.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

// Client is one connection's session: it owns the transport handle from
// accept to close and drives the receive loop. The registry only ever holds a
// non-owning reference for broadcast iteration. A session belongs to exactly
// one room for its whole lifetime.
type Client struct {
	conn           *websocket.Conn
	send           chan []byte
	inbound        chan Inbound
	hub            *Hub
	room           string
	addr           string
	username       string
	closed         bool
	maxMessageSize int64
	rateLimiter    *rateLimiter
	rateLimit      RateLimitConfig
	log            *slog.Logger

	// ctx is cancelled when the session closes; it bounds the moderation
	// call so a disconnect never waits on the classifier.
	ctx    context.Context
	cancel context.CancelFunc
}

// NewClient creates a session for an accepted connection bound to a room. The
// send channel is buffered so one slow recipient cannot stall the broadcast
// loop.
func NewClient(conn *websocket.Conn, hub *Hub, room, addr string, cfg *Config, logger *slog.Logger) *Client {
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}
	limiter := newRateLimiter(cfg.RateLimit.Burst, cfg.RateLimit.RefillInterval)
	ctx, cancel := context.WithCancel(hub.ctx)

	return &Client{
		conn:           conn,
		send:           make(chan []byte, 256),
		inbound:        make(chan Inbound, 16),
		hub:            hub,
		ctx:            ctx,
		cancel:         cancel,
		room:           room,
		addr:           addr,
		maxMessageSize: cfg.MaxMessageSize,
		rateLimiter:    limiter,
		rateLimit:      cfg.RateLimit,
		log:            logger,
	}
}

// setupReadConnection configures read deadlines and the pong handler.
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(60 * time.Second)); err != nil {
		c.log.Warn("session.read_deadline", "addr", c.addr, "err", err)
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(60 * time.Second)); err != nil {
			c.log.Warn("session.read_deadline", "addr", c.addr, "err", err)
		}
		return nil
	})
}

// handleReadError logs the read failure and reports whether the receive loop
// should stop. Every read error ends the session; the distinction is only how
// loudly it is logged.
func (c *Client) handleReadError(err error) bool {
	if err == nil {
		return false
	}

	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Warn("session.frame_too_large", "addr", c.addr, "limit", c.maxMessageSize)
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.log.Info("session.disconnected", "addr", c.addr, "err", err)
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.log.Info("session.closed", "addr", c.addr, "err", err)
	default:
		c.log.Warn("session.read_error", "addr", c.addr, "err", err)
	}
	return true
}

// checkRateLimit reports whether the next frame may be processed.
func (c *Client) checkRateLimit() bool {
	if c.rateLimiter != nil && !c.rateLimiter.allow() {
		c.log.Warn("session.rate_limited", "addr", c.addr,
			"burst", c.rateLimit.Burst, "interval", c.rateLimit.RefillInterval)
		return false
	}
	return true
}

// processFrame parses one inbound frame and queues it for the session's
// process loop. A frame that fails to parse against the known variants is a
// protocol violation for that frame only: it is logged and skipped, and the
// session lives on.
func (c *Client) processFrame(raw []byte) bool {
	msg, err := ParseInbound(raw)
	if err != nil {
		c.log.Warn("session.bad_frame", "addr", c.addr, "err", err)
		return false
	}

	select {
	case c.inbound <- msg:
	case <-c.ctx.Done():
	}
	return true
}

// processLoop handles queued frames in arrival order, one at a time, so the
// read pump stays parked on the transport and notices a close even while a
// moderation call is in flight.
func (c *Client) processLoop() {
	for {
		select {
		case msg := <-c.inbound:
			c.dispatchFrame(msg)
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Client) dispatchFrame(msg Inbound) {
	c.username = msg.Username

	switch msg.Type {
	case TypeJoin:
		c.handleJoin(msg)
	case TypeChat:
		c.handleChat(msg)
	}
}

// handleJoin announces the user to the whole room. No moderation call is made
// for join frames.
func (c *Client) handleJoin(msg Inbound) {
	payload, err := json.Marshal(NewJoinNotice(msg.Username))
	if err != nil {
		c.log.Error("session.marshal_notice", "addr", c.addr, "err", err)
		return
	}
	framesRelayed.WithLabelValues(TypeSystem).Inc()
	c.hub.publish(BroadcastMessage{Room: c.room, Sender: nil, Payload: payload})
}

// handleChat classifies the text and relays the annotated frame to the other
// occupants. The classifier sits on this sender's critical path only: a slow
// response delays this session's messages without blocking other sessions.
// An unavailable verdict still results in delivery. A session that closed
// while the call was in flight discards the result instead.
func (c *Client) handleChat(msg Inbound) {
	verdict := c.hub.classifier.Classify(c.ctx, msg.Message)
	if c.ctx.Err() != nil {
		return
	}
	switch {
	case verdict.Failed():
		moderationFailures.Inc()
	case verdict.Flagged():
		moderationFlagged.Inc()
		c.log.Info("session.flagged", "addr", c.addr, "category", *verdict.Category, "score", *verdict.Score)
	}

	frame := ChatFrame{
		Type:         TypeChat,
		Username:     msg.Username,
		Message:      msg.Message,
		FilterResult: verdict,
	}
	payload, err := json.Marshal(frame)
	if err != nil {
		c.log.Error("session.marshal_chat", "addr", c.addr, "err", err)
		return
	}
	framesRelayed.WithLabelValues(TypeChat).Inc()
	c.hub.publish(BroadcastMessage{Room: c.room, Sender: c, Payload: payload})
}

// readPump is the session's receive loop. On exit it cancels the session
// context, deregisters from the room exactly once, and releases the transport
// handle. Cancelling first means room removal never waits on an in-flight
// moderation call.
func (c *Client) readPump() {
	defer func() {
		c.cancel()
		select {
		case c.hub.unregister <- c:
		case <-c.hub.ctx.Done():
		}
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.log.Warn("session.close", "addr", c.addr, "err", err)
		}
	}()

	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if c.handleReadError(err) {
				break
			}
		}

		if !c.checkRateLimit() {
			continue
		}

		c.processFrame(raw)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing. Hub shutdown stops the pump even if the
// session was never evicted.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message, ok := <-c.send:
		return c.handleOutbound(message, ok)
	case <-ticker.C:
		return c.handlePing()
	case <-c.hub.ctx.Done():
		return false
	}
}

// closeConnection safely closes the WebSocket connection.
func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.log.Warn("session.close", "addr", c.addr, "err", err)
	}
}

// handleOutbound writes one queued payload as its own text message so each
// frame stays an independent JSON document on the wire. A closed send channel
// means the hub evicted this session; a close frame is sent and the pump
// stops.
func (c *Client) handleOutbound(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
		c.log.Warn("session.write_deadline", "addr", c.addr, "err", err)
		return false
	}

	if !ok {
		if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil && !isExpectedCloseError(err) {
			c.log.Warn("session.write_close", "addr", c.addr, "err", err)
		}
		return false
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Warn("session.write", "addr", c.addr, "err", err)
		}
		return false
	}
	return true
}

// handlePing sends a ping message to keep the connection alive.
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
		c.log.Warn("session.write_deadline", "addr", c.addr, "err", err)
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Warn("session.ping", "addr", c.addr, "err", err)
		}
		return false
	}
	return true
}
