package wsconn

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	DefaultSendQueueBytes = 1 << 20 // 1MiB
	DefaultWriteTimeout   = 5 * time.Second
)

type Options struct {
	// MaxMessageBytes caps a single inbound frame. <= 0 leaves gorilla's
	// default (unlimited).
	MaxMessageBytes int64
	// SendQueueBytes bounds frames queued but not yet written. <= 0 uses
	// DefaultSendQueueBytes.
	SendQueueBytes int
	// WriteTimeout bounds a single frame write. <= 0 uses DefaultWriteTimeout.
	WriteTimeout time.Duration
}

// Conn is the connection handle shared between a dispatcher receive loop and
// the registries that fan messages out to it.
//
// SendText and SendJSON are safe for concurrent use. Receive must only be
// called from one goroutine.
type Conn struct {
	id         string
	ws         *websocket.Conn
	userAgent  string
	remoteAddr string

	out          *outbox
	writeTimeout time.Duration

	closeOnce   sync.Once
	closed      atomic.Bool
	closeCode   int
	closeReason string
	writerDone  chan struct{}
}

var _ Sender = (*Conn)(nil)

// New takes ownership of an upgraded connection and starts its writer.
// r is the upgrade request; it may be nil.
func New(ws *websocket.Conn, r *http.Request, opts Options) *Conn {
	if opts.SendQueueBytes <= 0 {
		opts.SendQueueBytes = DefaultSendQueueBytes
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.MaxMessageBytes > 0 {
		ws.SetReadLimit(opts.MaxMessageBytes)
	}

	c := &Conn{
		id:           uuid.NewString(),
		ws:           ws,
		out:          newOutbox(opts.SendQueueBytes),
		writeTimeout: opts.WriteTimeout,
		closeCode:    websocket.CloseNormalClosure,
		writerDone:   make(chan struct{}),
	}
	if r != nil {
		c.userAgent = r.Header.Get("User-Agent")
		c.remoteAddr = r.RemoteAddr
	}

	go c.writeLoop()
	return c
}

func (c *Conn) ID() string         { return c.id }
func (c *Conn) UserAgent() string  { return c.userAgent }
func (c *Conn) RemoteAddr() string { return c.remoteAddr }

func (c *Conn) SendText(text string) error {
	return c.out.Push([]byte(text))
}

func (c *Conn) SendJSON(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode json frame: %w", err)
	}
	return c.out.Push(payload)
}

// Receive blocks until the next inbound frame, a close, or a read failure.
func (c *Conn) Receive() Result {
	msgType, data, err := c.ws.ReadMessage()
	if err != nil {
		if c.closed.Load() {
			return closed()
		}
		if websocket.IsCloseError(err,
			websocket.CloseNormalClosure,
			websocket.CloseGoingAway,
			websocket.CloseNoStatusReceived,
		) {
			return closed()
		}
		return fault(err)
	}
	if msgType != websocket.TextMessage {
		c.CloseWith(websocket.CloseUnsupportedData, ErrUnexpectedBinary.Error())
		return fault(ErrUnexpectedBinary)
	}
	return message(string(data))
}

// Close sends a normal close frame (best-effort) and releases the socket.
func (c *Conn) Close() error {
	return c.CloseWith(websocket.CloseNormalClosure, "")
}

// CloseWith is like Close but lets the caller pick the close code. Only the
// first call has any effect.
func (c *Conn) CloseWith(code int, reason string) error {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeReason = reason
		c.closed.Store(true)
		c.out.Close()
	})
	return nil
}

// Done is closed once the writer has released the underlying socket.
func (c *Conn) Done() <-chan struct{} {
	return c.writerDone
}

func (c *Conn) writeLoop() {
	defer close(c.writerDone)
	defer c.ws.Close()

	for {
		frame, ok := c.out.Pop()
		if !ok {
			break
		}
		_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
		if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
			// The peer is gone or too slow. Closing the handle makes further
			// sends fail fast and unblocks the owner's Receive.
			c.closed.Store(true)
			c.closeOnce.Do(c.out.Close)
			return
		}
	}

	_ = c.ws.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(c.closeCode, c.closeReason),
		time.Now().Add(c.writeTimeout),
	)
}
