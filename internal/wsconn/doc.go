// Package wsconn wraps a single upgraded WebSocket connection in a handle that
// the room and chat registries can send to concurrently.
//
// Each handle owns one writer goroutine fed by a byte-bounded queue, so a
// registry never blocks on a slow peer while fanning a message out. Reads are
// owned by exactly one goroutine (the dispatcher's receive loop) and surface as
// an explicit Result instead of a bare error.
package wsconn
