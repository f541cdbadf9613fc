package protocol

import (
	"encoding/json"
	"strings"
)

type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

type DeviceType string

const (
	DeviceTypePhone   DeviceType = "phone"
	DeviceTypeTablet  DeviceType = "tablet"
	DeviceTypeLaptop  DeviceType = "laptop"
	DeviceTypeDesktop DeviceType = "desktop"
	DeviceTypeUnknown DeviceType = "unknown"
)

// ParseDeviceType maps free-form client input onto the known device types.
func ParseDeviceType(raw string) DeviceType {
	switch t := DeviceType(strings.ToLower(strings.TrimSpace(raw))); t {
	case DeviceTypePhone, DeviceTypeTablet, DeviceTypeLaptop, DeviceTypeDesktop:
		return t
	case "mobile", "smartphone":
		return DeviceTypePhone
	case "pc", "computer":
		return DeviceTypeDesktop
	default:
		return DeviceTypeUnknown
	}
}

// Capabilities is a set of capability flags reported by a device. Non-boolean
// values sent by older clients are ignored rather than failing registration.
type Capabilities map[string]bool

func (c *Capabilities) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	out := make(Capabilities, len(raw))
	for k, v := range raw {
		var flag bool
		if err := json.Unmarshal(v, &flag); err == nil {
			out[k] = flag
		}
	}
	*c = out
	return nil
}

// DeviceInfo is what a device reports about itself at registration.
type DeviceInfo struct {
	Name         string       `json:"name,omitempty"`
	Type         string       `json:"type,omitempty"`
	Table        string       `json:"table,omitempty"`
	UserAgent    string       `json:"userAgent,omitempty"`
	Capabilities Capabilities `json:"capabilities,omitempty"`
}

func (d *DeviceInfo) trim() {
	d.Name = strings.TrimSpace(d.Name)
	d.Type = strings.TrimSpace(d.Type)
	d.Table = strings.TrimSpace(d.Table)
	d.UserAgent = strings.TrimSpace(d.UserAgent)
}

// Device is the admin-facing view of a directory record. Times are epoch
// milliseconds.
type Device struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Type         DeviceType   `json:"type"`
	Table        string       `json:"table"`
	UserAgent    string       `json:"userAgent"`
	Capabilities Capabilities `json:"capabilities"`
	Status       Status       `json:"status"`
	RegisteredAt int64        `json:"registeredAt"`
	LastSeen     int64        `json:"lastSeen"`
}
