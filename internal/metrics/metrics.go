package metrics

import "sync"

// Event names counted by the relay.
const (
	DeviceRegistered      = "device_registered"
	DeviceRemoved         = "device_removed"
	SharingRequested      = "sharing_requested"
	SharingRejectedDevice = "sharing_rejected_device_unavailable"
	SharingApproved       = "sharing_approved"
	SharingDenied         = "sharing_denied"
	SharingStopped        = "sharing_stopped"
	PermissionExpired     = "permission_request_expired"
	PermissionUnknown     = "permission_response_unknown"
	PreviewRequested      = "preview_requested"
	SignalForwarded       = "signal_forwarded"
	SignalDropped         = "signal_dropped"
	SendQueueFull         = "send_queue_full"
	MessageMalformed      = "message_malformed"
	MessageUnknownType    = "message_unknown_type"
	MessageRateLimited    = "message_rate_limited"
	MessageTooLarge       = "message_too_large"
	OriginRejected        = "origin_rejected"
	RoomJoined            = "room_joined"
	RoomClosed            = "room_closed"
)

// Metrics is a concurrency-safe registry of event counters plus a handful of
// gauges for live connection counts.
type Metrics struct {
	mu     sync.Mutex
	m      map[string]uint64
	gauges map[string]int64
}

func New() *Metrics {
	return &Metrics{
		m:      make(map[string]uint64),
		gauges: make(map[string]int64),
	}
}

// Inc is safe on a nil *Metrics so components can run without a registry.
func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, n uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.m[name] += n
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

// GaugeAdd moves a gauge by delta (which may be negative).
func (m *Metrics) GaugeAdd(name string, delta int64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.gauges[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Gauge(name string) int64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gauges[name]
}

func (m *Metrics) Snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}

func (m *Metrics) GaugeSnapshot() map[string]int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int64, len(m.gauges))
	for k, v := range m.gauges {
		out[k] = v
	}
	return out
}
