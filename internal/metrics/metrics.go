package metrics

import "sync"

// Event counter names.
const (
	SignalConnections      = "signal_connections"
	SignalMessagesReceived = "signal_messages_received"
	SignalMessagesRelayed  = "signal_messages_relayed"
	SignalRelaySendFailed  = "signal_relay_send_failed"
	SignalInvalidJSON      = "signal_invalid_json"
	RoomsCreated           = "rooms_created"
	RoomsDeleted           = "rooms_deleted"

	ChatConnections       = "chat_connections"
	ChatSessionsJoined    = "chat_sessions_joined"
	ChatSessionsLeft      = "chat_sessions_left"
	ChatMessagesReceived  = "chat_messages_received"
	ChatBroadcastSendOK   = "chat_broadcast_send_ok"
	ChatBroadcastSendFail = "chat_broadcast_send_failed"

	WSUpgradeFailed       = "ws_upgrade_failed"
	WSFault               = "ws_fault"
	WSSendQueueFull       = "ws_send_queue_full"
	DropReasonRateLimited = "rate_limited"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// A nil *Metrics is valid and discards everything, so components can be built
// without wiring a registry in tests.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, delta uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	if m.m == nil {
		m.m = make(map[string]uint64)
	}
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of every counter.
func (m *Metrics) Snapshot() map[string]uint64 {
	if m == nil {
		return map[string]uint64{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
