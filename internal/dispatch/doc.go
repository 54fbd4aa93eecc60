// Package dispatch owns the per-connection lifecycle of the two WebSocket
// endpoints: /signal/{roomID} relays opaque signaling frames between the peers
// of a room, and /ws runs the username handshake and chat broadcast loop.
//
// Every exit path of a connection (clean close, transport fault, rate limit)
// runs the same deferred cleanup.
package dispatch
