// Package server implements a room-scoped real-time message relay. Clients
// connect over websockets, join named rooms, exchange text and file messages
// plus typing indicators, and observe live membership counts.
//
// The implementation is split across files for the room registry, hub event
// loop, connection clients, configuration, origin control, file uploads, and
// HTTP wiring.
package server
