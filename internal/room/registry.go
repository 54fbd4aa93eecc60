// Package room tracks which signaling connections share a room and relays
// opaque messages between them.
package room

import (
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/samber/lo"

	"github.com/wilsonzlin/aero/proxy/signal-chat-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/signal-chat-relay/internal/wsconn"
)

// Registry maps room ids to the handles that joined them.
//
// A room exists only while it has at least one member. A handle is a member of
// at most one room.
type Registry struct {
	log     *slog.Logger
	metrics *metrics.Metrics

	mu     sync.Mutex
	rooms  map[string][]wsconn.Sender
	roomOf map[string]string // handle id -> room id
}

// NewRegistry returns an empty registry. log and m may be nil.
func NewRegistry(log *slog.Logger, m *metrics.Metrics) *Registry {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Registry{
		log:     log,
		metrics: m,
		rooms:   make(map[string][]wsconn.Sender),
		roomOf:  make(map[string]string),
	}
}

// Join adds h to roomID, creating the room if needed. If h was already in
// another room it is moved.
func (r *Registry) Join(roomID string, h wsconn.Sender) {
	id := h.ID()

	r.mu.Lock()
	if prev, ok := r.roomOf[id]; ok {
		if prev == roomID {
			r.mu.Unlock()
			return
		}
		r.removeLocked(prev, id)
	}
	if _, ok := r.rooms[roomID]; !ok {
		r.metrics.Inc(metrics.RoomsCreated)
	}
	r.rooms[roomID] = append(r.rooms[roomID], h)
	r.roomOf[id] = roomID
	members := len(r.rooms[roomID])
	r.mu.Unlock()

	r.log.Debug("room_joined", "room", roomID, "conn_id", id, "members", members)
}

// Leave removes h from roomID. It reports whether the room was deleted because
// h was its last member.
func (r *Registry) Leave(roomID string, h wsconn.Sender) bool {
	id := h.ID()

	r.mu.Lock()
	if r.roomOf[id] != roomID {
		r.mu.Unlock()
		return false
	}
	deleted := r.removeLocked(roomID, id)
	r.mu.Unlock()

	r.log.Debug("room_left", "room", roomID, "conn_id", id, "room_deleted", deleted)
	return deleted
}

func (r *Registry) removeLocked(roomID, id string) bool {
	delete(r.roomOf, id)

	members := lo.Reject(r.rooms[roomID], func(m wsconn.Sender, _ int) bool {
		return m.ID() == id
	})
	if len(members) == 0 {
		delete(r.rooms, roomID)
		r.metrics.Inc(metrics.RoomsDeleted)
		return true
	}
	r.rooms[roomID] = members
	return false
}

// Relay sends raw unchanged to every member of roomID except sender and returns
// how many sends succeeded. A failed send is logged and does not stop delivery
// to the remaining members.
func (r *Registry) Relay(roomID string, sender wsconn.Sender, raw string) int {
	senderID := sender.ID()

	r.mu.Lock()
	peers := lo.Filter(r.rooms[roomID], func(m wsconn.Sender, _ int) bool {
		return m.ID() != senderID
	})
	r.mu.Unlock()

	delivered := 0
	for _, p := range peers {
		if err := p.SendText(raw); err != nil {
			r.metrics.Inc(metrics.SignalRelaySendFailed)
			if errors.Is(err, wsconn.ErrSendQueueFull) {
				r.metrics.Inc(metrics.WSSendQueueFull)
			}
			r.log.Warn("signal_relay_send_failed", "room", roomID, "from", senderID, "to", p.ID(), "err", err)
			continue
		}
		delivered++
	}
	r.metrics.Add(metrics.SignalMessagesRelayed, uint64(delivered))
	return delivered
}

// Exists reports whether roomID has at least one member.
func (r *Registry) Exists(roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.rooms[roomID]
	return ok
}

// Members returns the member count of roomID, 0 if it does not exist.
func (r *Registry) Members(roomID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms[roomID])
}

// Rooms returns the ids of all live rooms, sorted.
func (r *Registry) Rooms() []string {
	r.mu.Lock()
	ids := lo.Keys(r.rooms)
	r.mu.Unlock()

	sort.Strings(ids)
	return ids
}

// Count returns the number of live rooms.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}
