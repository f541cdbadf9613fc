package relay

import (
	"github.com/shopscreen/rendezvous/internal/metrics"
	"github.com/shopscreen/rendezvous/internal/protocol"
)

func (r *Router) registerLocked(c Conn, m *protocol.RegisterDevice) {
	if prev, ok := r.devices.byConnection(c.ID()); ok {
		r.log.Info("device re-registered on same connection", "previous_device_id", prev.ID, "conn_id", c.ID())
		r.retireLocked(prev, errDeviceDisconnected)
	}

	rec := r.devices.register(c, m.DeviceInfo, r.now())
	r.metrics.Inc(metrics.DeviceRegistered)
	r.log.Info("device registered",
		"device_id", rec.ID,
		"name", rec.Name,
		"device_type", rec.Type,
		"table", rec.Table,
		"conn_id", c.ID(),
		"devices", r.devices.len(),
	)

	r.sendLocked(c, &protocol.RegistrationSuccess{DeviceID: rec.ID, AssignedTable: rec.Table})
	r.broadcastLocked(&protocol.DeviceRegistered{Device: rec.View()})
}

func (r *Router) permissionResponseLocked(c Conn, m *protocol.PermissionResponse) {
	req, ok := r.pending[m.RequestID]
	if !ok {
		r.metrics.Inc(metrics.PermissionUnknown)
		r.log.Debug("permission response for unknown request", "request_id", m.RequestID, "conn_id", c.ID())
		return
	}
	rec, ok := r.devices.byConnection(c.ID())
	if !ok || rec.ID != req.DeviceID {
		r.log.Warn("permission response from a connection that does not own the request",
			"request_id", m.RequestID, "device_id", req.DeviceID, "conn_id", c.ID())
		return
	}
	delete(r.pending, req.RequestID)

	if !m.Allowed {
		r.metrics.Inc(metrics.SharingDenied)
		r.log.Info("sharing denied", "device_id", req.DeviceID, "screen_id", req.ScreenID, "request_id", req.RequestID)
		r.sendLocked(req.admin, &protocol.SharingDenied{DeviceID: req.DeviceID, ScreenID: req.ScreenID})
		return
	}

	if prev, ok := r.sessions[req.DeviceID]; ok {
		r.log.Info("replacing sharing session", "device_id", req.DeviceID, "previous_screen_id", prev.ScreenID)
		if prev.admin != nil && prev.admin.ID() != req.admin.ID() {
			r.sendLocked(prev.admin, &protocol.SharingStopped{DeviceID: req.DeviceID})
		}
	}
	r.sessions[req.DeviceID] = &SharingSession{
		DeviceID:  req.DeviceID,
		ScreenID:  req.ScreenID,
		StartedAt: r.now(),
		admin:     req.admin,
		device:    c,
	}
	r.metrics.Inc(metrics.SharingApproved)
	r.log.Info("sharing approved", "device_id", req.DeviceID, "screen_id", req.ScreenID, "request_id", req.RequestID)
	r.sendLocked(req.admin, &protocol.SharingApproved{DeviceID: req.DeviceID, ScreenID: req.ScreenID})
}

func (r *Router) deviceStopLocked(c Conn) {
	rec, ok := r.devices.byConnection(c.ID())
	if !ok {
		return
	}
	r.endSessionLocked(rec.ID)
}

// endSessionLocked removes the device's session and tells its admin.
func (r *Router) endSessionLocked(deviceID string) {
	sess, ok := r.sessions[deviceID]
	if !ok {
		return
	}
	delete(r.sessions, deviceID)
	r.metrics.Inc(metrics.SharingStopped)
	r.log.Info("sharing stopped by device", "device_id", deviceID, "screen_id", sess.ScreenID)
	r.sendLocked(sess.admin, &protocol.SharingStopped{DeviceID: deviceID})
}

func (r *Router) deviceSignalLocked(c Conn, sig *protocol.Signal) {
	rec, ok := r.devices.byConnection(c.ID())
	if !ok {
		r.signalDropped(sig, "", "unregistered connection")
		return
	}
	sess, ok := r.sessions[rec.ID]
	if !ok {
		r.signalDropped(sig, rec.ID, "no active session")
		return
	}
	sig.DeviceID = rec.ID
	r.metrics.Inc(metrics.SignalForwarded)
	r.sendLocked(sess.admin, sig)
}

func (r *Router) requestSharingLocked(c Conn, m *protocol.RequestSharing) {
	rec, ok := r.devices.get(m.DeviceID)
	if !ok || rec.Status != protocol.StatusOnline {
		reason := errDeviceNotFound
		if ok {
			reason = errDeviceOffline
		}
		r.metrics.Inc(metrics.SharingRejectedDevice)
		r.log.Info("sharing request rejected", "device_id", m.DeviceID, "screen_id", m.ScreenID, "reason", reason)
		r.sendLocked(c, &protocol.SharingError{DeviceID: m.DeviceID, Error: reason})
		return
	}

	req := &PendingRequest{
		RequestID: newRequestID(),
		DeviceID:  rec.ID,
		ScreenID:  m.ScreenID,
		CreatedAt: r.now(),
		admin:     c,
	}
	r.pending[req.RequestID] = req
	r.metrics.Inc(metrics.SharingRequested)
	r.log.Info("sharing requested", "device_id", rec.ID, "screen_id", req.ScreenID, "request_id", req.RequestID)
	r.sendLocked(rec.conn, &protocol.SharingRequest{RequestID: req.RequestID, ScreenID: req.ScreenID})
}

func (r *Router) adminStopLocked(deviceID string) {
	sess, ok := r.sessions[deviceID]
	if !ok {
		return
	}
	delete(r.sessions, deviceID)
	r.metrics.Inc(metrics.SharingStopped)
	r.log.Info("sharing stopped by admin", "device_id", deviceID, "screen_id", sess.ScreenID)
	r.sendLocked(sess.device, &protocol.StopSharing{})
}

func (r *Router) adminSignalLocked(sig *protocol.Signal) {
	rec, ok := r.devices.get(sig.DeviceID)
	if !ok || rec.conn == nil {
		r.signalDropped(sig, sig.DeviceID, "device not online")
		return
	}
	r.metrics.Inc(metrics.SignalForwarded)
	r.sendLocked(rec.conn, sig)
}

// requestStreamLocked asks an online device for a live preview and remembers
// which admin should receive its offer. A newer request for the same device
// takes the preview over.
func (r *Router) requestStreamLocked(c Conn, m *protocol.RequestStream) {
	rec, ok := r.devices.get(m.DeviceID)
	if !ok || rec.conn == nil {
		r.metrics.Inc(metrics.SignalDropped)
		r.log.Debug("dropping preview request", "device_id", m.DeviceID, "reason", "device not online")
		return
	}
	r.previews[rec.ID] = c
	r.metrics.Inc(metrics.PreviewRequested)
	r.log.Info("preview requested", "device_id", rec.ID, "admin_id", c.ID())
	r.sendLocked(rec.conn, &protocol.StreamRequest{AdminID: c.ID()})
}

func (r *Router) previewOfferLocked(c Conn, sig *protocol.Signal) {
	rec, ok := r.devices.byConnection(c.ID())
	if !ok {
		r.signalDropped(sig, "", "unregistered connection")
		return
	}
	admin, ok := r.previews[rec.ID]
	if !ok {
		r.signalDropped(sig, rec.ID, "no preview requested")
		return
	}
	sig.DeviceID = rec.ID
	r.metrics.Inc(metrics.SignalForwarded)
	r.sendLocked(admin, sig)
}

func (r *Router) unregisterLocked(deviceID string) {
	rec, ok := r.devices.get(deviceID)
	if !ok {
		return
	}
	r.adminStopLocked(deviceID)
	r.dropPendingLocked(deviceID, errDeviceRemoved)
	delete(r.previews, deviceID)
	r.devices.remove(rec)
	r.metrics.Inc(metrics.DeviceRemoved)
	r.log.Info("device removed", "device_id", deviceID, "devices", r.devices.len())
	r.broadcastLocked(&protocol.DeviceRemoved{DeviceID: deviceID})
}

// retireLocked takes a device offline: its session ends, requests waiting on
// it fail, and every admin learns the new status.
func (r *Router) retireLocked(rec *DeviceRecord, reason string) {
	r.endSessionLocked(rec.ID)
	r.dropPendingLocked(rec.ID, reason)
	delete(r.previews, rec.ID)
	r.devices.markOffline(rec, r.now())
	r.broadcastLocked(&protocol.DeviceStatus{DeviceID: rec.ID, Status: protocol.StatusOffline})
}

func (r *Router) dropPendingLocked(deviceID, reason string) {
	for _, req := range pendingFor(r.pending, deviceID) {
		delete(r.pending, req.RequestID)
		r.sendLocked(req.admin, &protocol.SharingError{DeviceID: deviceID, Error: reason})
	}
}

func (r *Router) signalDropped(sig *protocol.Signal, deviceID, reason string) {
	r.metrics.Inc(metrics.SignalDropped)
	r.log.Debug("dropping signal", "type", sig.Type, "device_id", deviceID, "reason", reason)
}
