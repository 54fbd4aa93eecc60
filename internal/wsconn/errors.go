package wsconn

import "errors"

var (
	ErrClosed = errors.New("connection closed")
	// ErrSendQueueFull is returned when a peer is not draining its outbound
	// frames fast enough and the per-connection byte budget is exhausted.
	ErrSendQueueFull    = errors.New("send queue full")
	ErrUnexpectedBinary = errors.New("expected text message")
)
