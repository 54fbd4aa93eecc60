package dispatch

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/signal-chat-relay/internal/chat"
	"github.com/wilsonzlin/aero/proxy/signal-chat-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/signal-chat-relay/internal/ratelimit"
)

// UsernamePrompt is sent to every /ws connection before anything else. The
// next text frame is taken verbatim as the username.
const UsernamePrompt = "Enter your username:"

// ChatHandler serves GET /ws.
type ChatHandler struct {
	sessions *chat.Registry
	classify chat.Classifier
	opts     Options
	upgrader *websocket.Upgrader
}

// NewChatHandler builds the chat endpoint. A nil classify falls back to
// chat.ClassifyUserAgent.
func NewChatHandler(sessions *chat.Registry, classify chat.Classifier, opts Options) *ChatHandler {
	if classify == nil {
		classify = chat.ClassifyUserAgent
	}
	opts = opts.withDefaults()
	return &ChatHandler{sessions: sessions, classify: classify, opts: opts, upgrader: opts.upgrader()}
}

func (h *ChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, ok := h.opts.accept(h.upgrader, w, r)
	if !ok {
		return
	}
	defer conn.Close()

	h.opts.Metrics.Inc(metrics.ChatConnections)
	class := h.classify(conn.UserAgent())
	log := h.opts.Log.With("conn_id", conn.ID(), "classification", class.String())

	if err := conn.SendText(UsernamePrompt); err != nil {
		log.Debug("chat_prompt_failed", "err", err)
		return
	}
	res := conn.Receive()
	if h.opts.ended(res, conn, "stage", "awaiting_username") {
		return
	}
	username := res.Payload
	log = log.With("username", username)

	h.sessions.Add(username, conn, class)
	h.opts.Metrics.Inc(metrics.ChatSessionsJoined)
	log.Info("chat_joined", "remote_addr", conn.RemoteAddr(), "sessions", h.sessions.Count())
	h.sessions.Broadcast(chat.JoinNotice(username), username)

	defer func() {
		h.sessions.Remove(conn)
		h.opts.Metrics.Inc(metrics.ChatSessionsLeft)
		log.Info("chat_left", "sessions", h.sessions.Count())
		h.sessions.BroadcastAll(chat.LeaveNotice(username))
	}()

	limiter := ratelimit.NewPerSecond(h.opts.Clock, h.opts.MaxMessagesPerSecond)
	for {
		res := conn.Receive()
		if h.opts.ended(res, conn, "username", username) {
			return
		}
		if h.opts.limited(limiter, conn) {
			return
		}
		h.opts.Metrics.Inc(metrics.ChatMessagesReceived)

		delivered := h.sessions.Broadcast(chat.Envelope{User: username, Text: res.Payload}, username)
		log.Debug("chat_message", "bytes", len(res.Payload), "delivered", delivered)
	}
}
