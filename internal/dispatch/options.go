package dispatch

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/signal-chat-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/signal-chat-relay/internal/origin"
	"github.com/wilsonzlin/aero/proxy/signal-chat-relay/internal/ratelimit"
	"github.com/wilsonzlin/aero/proxy/signal-chat-relay/internal/wsconn"
)

type Options struct {
	Log     *slog.Logger
	Metrics *metrics.Metrics

	// Origins gates the WebSocket handshake. The zero value is same-host only.
	Origins origin.Policy

	Conn wsconn.Options

	// MaxMessagesPerSecond limits inbound frames per connection. 0 disables it.
	MaxMessagesPerSecond int
	Clock                ratelimit.Clock
}

func (o Options) withDefaults() Options {
	if o.Log == nil {
		o.Log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if o.Clock == nil {
		o.Clock = ratelimit.RealClock{}
	}
	return o
}

func (o Options) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			_, ok := o.Origins.Check(r)
			return ok
		},
	}
}

// accept upgrades the request. On failure the upgrader has already written an
// HTTP error response.
func (o Options) accept(up *websocket.Upgrader, w http.ResponseWriter, r *http.Request) (*wsconn.Conn, bool) {
	ws, err := up.Upgrade(w, r, nil)
	if err != nil {
		o.Metrics.Inc(metrics.WSUpgradeFailed)
		o.Log.Debug("ws_upgrade_failed", "path", r.URL.Path, "origin", r.Header.Get("Origin"), "err", err)
		return nil, false
	}
	return wsconn.New(ws, r, o.Conn), true
}

// limited enforces the inbound rate limit after a frame has been read, closing
// the connection with a policy violation when the budget is exceeded.
func (o Options) limited(limiter *ratelimit.TokenBucket, conn *wsconn.Conn) bool {
	if limiter.Allow(1) {
		return false
	}
	o.Metrics.Inc(metrics.DropReasonRateLimited)
	o.Log.Warn("ws_rate_limited", "conn_id", conn.ID(), "remote_addr", conn.RemoteAddr())
	_ = conn.CloseWith(websocket.ClosePolicyViolation, "rate limit exceeded")
	return true
}

// ended logs a non-message receive result and reports whether the loop should
// stop.
func (o Options) ended(res wsconn.Result, conn *wsconn.Conn, attrs ...any) bool {
	switch res.Kind {
	case wsconn.KindMessage:
		return false
	case wsconn.KindFault:
		o.Metrics.Inc(metrics.WSFault)
		o.Log.Debug("ws_fault", append([]any{"conn_id", conn.ID(), "err", res.Err}, attrs...)...)
	default:
		o.Log.Debug("ws_closed", append([]any{"conn_id", conn.ID()}, attrs...)...)
	}
	return true
}
