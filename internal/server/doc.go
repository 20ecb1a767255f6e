// Package server implements the room-scoped WebSocket chat relay: the room
// registry, per-connection sessions, the broadcast engine, and the HTTP
// surface around them.
//
// The implementation is organized into specialized files for configuration,
// the registry, hub management, client sessions, routing, and HTTP handlers
// to keep the codebase maintainable and testable as the project grows.
package server
