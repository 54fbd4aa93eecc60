// Package chat holds the session registry behind the /ws chat relay and the
// rules for rendering a broadcast to browser and terminal clients.
package chat

import (
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/samber/lo"

	"github.com/wilsonzlin/aero/proxy/signal-chat-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/signal-chat-relay/internal/wsconn"
)

// Session is one registered chat connection.
type Session struct {
	Username       string
	Conn           wsconn.Sender
	Classification Classification
}

// Registry is the ordered list of chat sessions. Usernames are not unique.
type Registry struct {
	log     *slog.Logger
	metrics *metrics.Metrics

	mu       sync.RWMutex
	sessions []Session
}

// NewRegistry returns an empty registry. log and m may be nil.
func NewRegistry(log *slog.Logger, m *metrics.Metrics) *Registry {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Registry{log: log, metrics: m}
}

// Add appends a session. Duplicate usernames are kept.
func (r *Registry) Add(username string, h wsconn.Sender, c Classification) {
	r.mu.Lock()
	r.sessions = append(r.sessions, Session{Username: username, Conn: h, Classification: c})
	r.mu.Unlock()
}

// RemoveByUsername drops every session registered under username and returns
// how many were removed.
func (r *Registry) RemoveByUsername(username string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	before := len(r.sessions)
	r.sessions = lo.Reject(r.sessions, func(s Session, _ int) bool {
		return s.Username == username
	})
	return before - len(r.sessions)
}

// Remove drops the session owned by h, leaving other sessions that share its
// username in place.
func (r *Registry) Remove(h wsconn.Sender) bool {
	id := h.ID()

	r.mu.Lock()
	defer r.mu.Unlock()
	_, idx, found := lo.FindIndexOf(r.sessions, func(s Session) bool {
		return s.Conn.ID() == id
	})
	if !found {
		return false
	}
	r.sessions = append(r.sessions[:idx:idx], r.sessions[idx+1:]...)
	return true
}

// Broadcast renders env for every session whose username is not exclude and
// returns the number of successful sends. Any string, the empty one included,
// is matched as a username. Per-recipient failures are logged and skipped.
func (r *Registry) Broadcast(env Envelope, exclude string) int {
	return r.broadcast(env, func(s Session) bool { return s.Username != exclude })
}

// BroadcastAll is Broadcast without an excluded username.
func (r *Registry) BroadcastAll(env Envelope) int {
	return r.broadcast(env, func(Session) bool { return true })
}

func (r *Registry) broadcast(env Envelope, include func(Session) bool) int {
	r.mu.RLock()
	recipients := lo.Filter(r.sessions, func(s Session, _ int) bool { return include(s) })
	r.mu.RUnlock()

	delivered := 0
	for _, s := range recipients {
		var err error
		switch s.Classification {
		case Browser:
			err = s.Conn.SendJSON(env)
		default:
			err = s.Conn.SendText(env.TerminalLine())
		}
		if err != nil {
			r.metrics.Inc(metrics.ChatBroadcastSendFail)
			if errors.Is(err, wsconn.ErrSendQueueFull) {
				r.metrics.Inc(metrics.WSSendQueueFull)
			}
			r.log.Warn("chat_broadcast_send_failed",
				"from", env.User,
				"to", s.Username,
				"conn_id", s.Conn.ID(),
				"classification", s.Classification.String(),
				"err", err,
			)
			continue
		}
		delivered++
	}
	r.metrics.Add(metrics.ChatBroadcastSendOK, uint64(delivered))
	return delivered
}

// Usernames lists registered usernames in join order, duplicates included.
func (r *Registry) Usernames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Map(r.sessions, func(s Session, _ int) string { return s.Username })
}

// Count returns the number of sessions, duplicates included.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
