// Package relay holds the rendezvous state machine: the device directory,
// sharing sessions, pending permission requests and the admin set, plus the
// routing rules that move signaling messages between them.
//
// A single Router owns all of that state behind one mutex. Transports hand it
// decoded-or-raw frames together with the connection they arrived on, and it
// answers by enqueueing frames on Conn.Send, which never blocks.
package relay

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/shopscreen/rendezvous/internal/metrics"
	"github.com/shopscreen/rendezvous/internal/protocol"
)

const (
	errDeviceNotFound     = "Device not found"
	errDeviceOffline      = "Device offline"
	errDeviceDisconnected = "Device disconnected"
	errDeviceRemoved      = "Device removed"
	errRequestExpired     = "permission request expired"
)

// Conn is the router's view of a live connection.
type Conn interface {
	// ID is unique for the lifetime of the process.
	ID() string
	// Send enqueues a frame and reports whether it was accepted. It must not
	// block; a closed or backed-up connection drops the frame.
	Send(data []byte) bool
}

type Config struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time

	// PermissionRequestTTL expires unanswered sharing requests. Zero keeps them
	// until the device answers, disconnects or is removed.
	PermissionRequestTTL time.Duration
	SweepInterval        time.Duration
}

type Router struct {
	log     *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	ttl   time.Duration
	sweep time.Duration

	mu       sync.Mutex
	devices  *directory
	sessions map[string]*SharingSession // by device id
	pending  map[string]*PendingRequest // by request id
	admins   map[string]Conn            // by conn id
	previews map[string]Conn            // requesting admin, by device id
}

func NewRouter(cfg Config) *Router {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 5 * time.Second
	}
	return &Router{
		log:      cfg.Logger,
		metrics:  cfg.Metrics,
		now:      cfg.Now,
		ttl:      cfg.PermissionRequestTTL,
		sweep:    cfg.SweepInterval,
		devices:  newDirectory(),
		sessions: make(map[string]*SharingSession),
		pending:  make(map[string]*PendingRequest),
		admins:   make(map[string]Conn),
		previews: make(map[string]Conn),
	}
}

// ConnectAdmin adds c to the set of admins receiving directory broadcasts.
func (r *Router) ConnectAdmin(c Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.admins[c.ID()] = c
}

// DisconnectAdmin removes c from the admin set and forgets the previews it
// asked for. Sessions it started keep running; the device side still owns
// their lifetime.
func (r *Router) DisconnectAdmin(c Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.admins, c.ID())
	for deviceID, admin := range r.previews {
		if admin.ID() == c.ID() {
			delete(r.previews, deviceID)
		}
	}
}

// DisconnectDevice runs the offline transition for the device registered on
// c, if any. Safe to call more than once.
func (r *Router) DisconnectDevice(c Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.devices.byConnection(c.ID())
	if !ok {
		return
	}
	r.log.Info("device disconnected", "device_id", rec.ID, "conn_id", c.ID())
	r.retireLocked(rec, errDeviceDisconnected)
}

// HandleDevice processes one frame received on a device connection.
func (r *Router) HandleDevice(c Conn, data []byte) {
	msg, err := protocol.DecodeDevice(data)
	if err != nil {
		r.rejected(c, protocol.RoleDevice, err)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if rec, ok := r.devices.byConnection(c.ID()); ok {
		rec.LastSeen = r.now()
	}

	switch m := msg.(type) {
	case *protocol.RegisterDevice:
		r.registerLocked(c, m)
	case *protocol.PermissionResponse:
		r.permissionResponseLocked(c, m)
	case *protocol.StopSharing:
		r.deviceStopLocked(c)
	case *protocol.Signal:
		if m.Type == protocol.TypeAdminStreamOffer {
			r.previewOfferLocked(c, m)
			return
		}
		r.deviceSignalLocked(c, m)
	}
}

// HandleAdmin processes one frame received on an admin connection.
func (r *Router) HandleAdmin(c Conn, data []byte) {
	msg, err := protocol.DecodeAdmin(data)
	if err != nil {
		r.rejected(c, protocol.RoleAdmin, err)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	switch m := msg.(type) {
	case *protocol.AdminConnect:
		r.sendLocked(c, &protocol.AdminConnected{AdminID: c.ID()})
		r.sendLocked(c, protocol.NewDeviceList(r.devices.list()))
	case *protocol.DeviceListRequest:
		r.sendLocked(c, protocol.NewDeviceList(r.devices.list()))
	case *protocol.RequestSharing:
		r.requestSharingLocked(c, m)
	case *protocol.StopSharing:
		r.adminStopLocked(m.DeviceID)
	case *protocol.UnregisterDevice:
		r.unregisterLocked(m.DeviceID)
	case *protocol.RequestStream:
		r.requestStreamLocked(c, m)
	case *protocol.Signal:
		r.adminSignalLocked(m)
	}
}

// Devices returns a snapshot of the directory ordered by registration time.
func (r *Router) Devices() []protocol.Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.devices.list()
}

// Sessions returns a snapshot of the active sharing sessions.
func (r *Router) Sessions() []SessionView {
	r.mu.Lock()
	defer r.mu.Unlock()
	return sessionViews(r.sessions)
}

// PendingCount returns the number of unanswered sharing requests.
func (r *Router) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// ExpirePending drops requests older than the configured TTL, telling the
// requesting admin. It returns how many were dropped.
func (r *Router) ExpirePending(now time.Time) int {
	if r.ttl <= 0 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	expired := expiredBefore(r.pending, now.Add(-r.ttl))
	for _, req := range expired {
		delete(r.pending, req.RequestID)
		r.metrics.Inc(metrics.PermissionExpired)
		r.log.Info("permission request expired", "request_id", req.RequestID, "device_id", req.DeviceID)
		r.sendLocked(req.admin, &protocol.SharingError{DeviceID: req.DeviceID, Error: errRequestExpired})
	}
	return len(expired)
}

// Run sweeps expired permission requests until ctx is done. It returns
// immediately when no TTL is configured.
func (r *Router) Run(ctx context.Context) error {
	if r.ttl <= 0 {
		return nil
	}
	ticker := time.NewTicker(r.sweep)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.ExpirePending(r.now())
		}
	}
}

func (r *Router) rejected(c Conn, role protocol.Role, err error) {
	if errors.Is(err, protocol.ErrUnknownType) {
		r.metrics.Inc(metrics.MessageUnknownType)
	} else {
		r.metrics.Inc(metrics.MessageMalformed)
	}
	r.log.Debug("dropping inbound message", "role", role, "conn_id", c.ID(), "err", err)
}

func (r *Router) sendLocked(c Conn, m protocol.Message) {
	if c == nil {
		return
	}
	r.deliverLocked(c, protocol.MustEncode(m, r.now()), m.MessageType())
}

func (r *Router) deliverLocked(c Conn, data []byte, typ protocol.Type) {
	if !c.Send(data) {
		r.metrics.Inc(metrics.SendQueueFull)
		r.log.Debug("outbound message dropped", "conn_id", c.ID(), "type", typ)
	}
}

func (r *Router) broadcastLocked(m protocol.Message) {
	data := protocol.MustEncode(m, r.now())
	for _, admin := range r.admins {
		r.deliverLocked(admin, data, m.MessageType())
	}
}
