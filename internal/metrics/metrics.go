package metrics

import "sync"

// Signaling events. Drop counters mirror relay.Outcome names so a dashboard
// can line them up with the debug logs.
const (
	ConnAccepted       = "signaling_conn_accepted"
	ConnClosed         = "signaling_conn_closed"
	ConnOriginRejected = "signaling_conn_origin_rejected"

	RoleRegistered = "role_registered"
	RoleDisplaced  = "role_displaced"
	RoleEvicted    = "role_evicted"

	MessageForwarded = "message_forwarded"

	DropReasonMalformed     = "dropped_malformed"
	DropReasonRateLimited   = "dropped_rate_limited"
	DropReasonUnauthorized  = "dropped_unauthorized"
	DropReasonNoCounterpart = "dropped_no_counterpart"
	DropReasonSendFailed    = "dropped_send_failed"
	DropReasonIgnored       = "dropped_ignored"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// A nil *Metrics is valid and discards everything, so components can be built
// without one in tests.
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
	out := make(map[string]uint64)
	if m == nil {
		return out
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
