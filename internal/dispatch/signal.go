package dispatch

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/signal-chat-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/signal-chat-relay/internal/ratelimit"
	"github.com/wilsonzlin/aero/proxy/signal-chat-relay/internal/room"
)

// RoomIDPathValue is the wildcard name the signaling route must use.
const RoomIDPathValue = "roomID"

// SignalHandler serves GET /signal/{roomID}.
type SignalHandler struct {
	rooms    *room.Registry
	opts     Options
	upgrader *websocket.Upgrader
}

func NewSignalHandler(rooms *room.Registry, opts Options) *SignalHandler {
	opts = opts.withDefaults()
	return &SignalHandler{rooms: rooms, opts: opts, upgrader: opts.upgrader()}
}

func (h *SignalHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue(RoomIDPathValue)
	if roomID == "" {
		http.NotFound(w, r)
		return
	}

	conn, ok := h.opts.accept(h.upgrader, w, r)
	if !ok {
		return
	}
	defer conn.Close()

	log := h.opts.Log.With("room", roomID, "conn_id", conn.ID())
	h.opts.Metrics.Inc(metrics.SignalConnections)

	h.rooms.Join(roomID, conn)
	log.Info("signal_joined", "remote_addr", conn.RemoteAddr(), "members", h.rooms.Members(roomID))
	defer func() {
		deleted := h.rooms.Leave(roomID, conn)
		log.Info("signal_left", "room_deleted", deleted)
	}()

	limiter := ratelimit.NewPerSecond(h.opts.Clock, h.opts.MaxMessagesPerSecond)
	for {
		res := conn.Receive()
		if h.opts.ended(res, conn, "room", roomID) {
			return
		}
		if h.opts.limited(limiter, conn) {
			return
		}
		h.opts.Metrics.Inc(metrics.SignalMessagesReceived)

		kind, known, err := inspectSignal(res.Payload)
		switch {
		case err != nil:
			h.opts.Metrics.Inc(metrics.SignalInvalidJSON)
			log.Debug("signal_payload_not_json", "bytes", len(res.Payload), "err", err)
		case !known:
			log.Debug("signal_message", "type", kind, "recognized", false)
		default:
			log.Debug("signal_message", "type", kind)
		}

		delivered := h.rooms.Relay(roomID, conn, res.Payload)
		log.Debug("signal_relayed", "delivered", delivered)
	}
}

const signalTypeCandidate = "candidate"

// inspectSignal reads the "type" field of a signaling frame for logging. The
// relay forwards the frame regardless of the outcome.
func inspectSignal(raw string) (kind string, known bool, err error) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return "", false, err
	}
	if env.Type == signalTypeCandidate {
		return env.Type, true, nil
	}
	if t := webrtc.NewSDPType(env.Type); t != webrtc.SDPTypeUnknown {
		return t.String(), true, nil
	}
	return env.Type, false, nil
}
