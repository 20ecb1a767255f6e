// Package server defines shared broadcast types and utility helpers that are
// reused across client and hub logic.
package server

import "strings"

// BroadcastMessage encapsulates one payload being fanned out to a room.
// Sender, when non-nil, is excluded from delivery; system notices carry a nil
// sender and reach every member.
type BroadcastMessage struct {
	Room    string
	Sender  *Client
	Payload []byte
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
