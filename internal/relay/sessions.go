package relay

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// SharingSession binds a device to the admin that requested its screen. There
// is at most one per device.
type SharingSession struct {
	DeviceID  string
	ScreenID  string
	StartedAt time.Time

	admin  Conn
	device Conn
}

// PendingRequest is a sharing request waiting for the device's answer.
type PendingRequest struct {
	RequestID string
	DeviceID  string
	ScreenID  string
	CreatedAt time.Time

	admin Conn
}

// SessionView is a read-only copy of a SharingSession.
type SessionView struct {
	DeviceID  string `json:"deviceId"`
	ScreenID  string `json:"screenId"`
	StartedAt int64  `json:"startedAt"`
}

func newRequestID() string {
	return "req-" + uuid.NewString()
}

func sessionViews(sessions map[string]*SharingSession) []SessionView {
	out := make([]SessionView, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, SessionView{DeviceID: s.DeviceID, ScreenID: s.ScreenID, StartedAt: s.StartedAt.UnixMilli()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}

// pendingFor returns the pending requests targeting deviceID.
func pendingFor(pending map[string]*PendingRequest, deviceID string) []*PendingRequest {
	var out []*PendingRequest
	for _, req := range pending {
		if req.DeviceID == deviceID {
			out = append(out, req)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// expiredBefore returns the pending requests created at or before cutoff,
// oldest first.
func expiredBefore(pending map[string]*PendingRequest, cutoff time.Time) []*PendingRequest {
	var out []*PendingRequest
	for _, req := range pending {
		if !req.CreatedAt.After(cutoff) {
			out = append(out, req)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
