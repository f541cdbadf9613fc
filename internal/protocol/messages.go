package protocol

import (
	"errors"
	"strings"
)

// RegisterDevice announces a presenter device. Older clients put the name,
// type and table at the top level instead of under deviceInfo.
type RegisterDevice struct {
	Header
	DeviceInfo DeviceInfo `json:"deviceInfo"`

	DeviceName string `json:"deviceName,omitempty"`
	DeviceType string `json:"deviceType,omitempty"`
	Table      string `json:"table,omitempty"`
}

func (*RegisterDevice) MessageType() Type { return TypeRegisterDevice }

func (m *RegisterDevice) validate(Role) error {
	if m.DeviceInfo.Name == "" {
		m.DeviceInfo.Name = m.DeviceName
	}
	if m.DeviceInfo.Type == "" {
		m.DeviceInfo.Type = m.DeviceType
	}
	if m.DeviceInfo.Table == "" {
		m.DeviceInfo.Table = m.Table
	}
	m.DeviceName, m.DeviceType, m.Table = "", "", ""
	m.DeviceInfo.trim()
	return nil
}

// PermissionResponse is the presenter's answer to a SharingRequest.
type PermissionResponse struct {
	Header
	RequestID string `json:"requestId"`
	Allowed   bool   `json:"allowed"`
}

func (*PermissionResponse) MessageType() Type { return TypePermissionResponse }

func (m *PermissionResponse) validate(Role) error {
	if strings.TrimSpace(m.RequestID) == "" {
		return errors.New("missing requestId")
	}
	return nil
}

// StopSharing ends a sharing session. Admins name the device; devices stop
// their own session and the relay sends it to devices without a deviceId.
type StopSharing struct {
	Header
	DeviceID string `json:"deviceId,omitempty"`
}

func (*StopSharing) MessageType() Type { return TypeStopSharing }

func (m *StopSharing) validate(from Role) error {
	if from == RoleAdmin && strings.TrimSpace(m.DeviceID) == "" {
		return errors.New("missing deviceId")
	}
	return nil
}

type AdminConnect struct {
	Header
}

func (*AdminConnect) MessageType() Type { return TypeAdminConnect }

// DeviceListRequest covers request-device-list and its get-devices and
// refresh-devices aliases.
type DeviceListRequest struct {
	Header
}

func (*DeviceListRequest) MessageType() Type { return TypeRequestDeviceList }

// RequestSharing asks a device to present on a screen. Some dashboards send
// the screen as targetScreen.
type RequestSharing struct {
	Header
	DeviceID     string `json:"deviceId"`
	ScreenID     string `json:"screenId"`
	TargetScreen string `json:"targetScreen,omitempty"`
}

func (*RequestSharing) MessageType() Type { return TypeRequestSharing }

func (m *RequestSharing) validate(Role) error {
	if m.ScreenID == "" {
		m.ScreenID = m.TargetScreen
	}
	m.TargetScreen = ""
	if strings.TrimSpace(m.DeviceID) == "" {
		return errors.New("missing deviceId")
	}
	if strings.TrimSpace(m.ScreenID) == "" {
		return errors.New("missing screenId")
	}
	return nil
}

type UnregisterDevice struct {
	Header
	DeviceID string `json:"deviceId"`
}

func (*UnregisterDevice) MessageType() Type { return TypeUnregisterDevice }

func (m *UnregisterDevice) validate(Role) error {
	if strings.TrimSpace(m.DeviceID) == "" {
		return errors.New("missing deviceId")
	}
	return nil
}

// RequestStream asks a device for a live preview stream to the requesting
// admin.
type RequestStream struct {
	Header
	DeviceID string `json:"deviceId"`
}

func (*RequestStream) MessageType() Type { return TypeAdminRequestStream }

func (m *RequestStream) validate(Role) error {
	if strings.TrimSpace(m.DeviceID) == "" {
		return errors.New("missing deviceId")
	}
	return nil
}

type RegistrationSuccess struct {
	Header
	DeviceID      string `json:"deviceId"`
	AssignedTable string `json:"assignedTable"`
}

func (*RegistrationSuccess) MessageType() Type { return TypeRegistrationSuccess }

type SharingRequest struct {
	Header
	RequestID string `json:"requestId"`
	ScreenID  string `json:"screenId"`
}

func (*SharingRequest) MessageType() Type { return TypeSharingRequest }

// StreamRequest tells a device which admin wants its preview.
type StreamRequest struct {
	Header
	AdminID string `json:"adminId"`
}

func (*StreamRequest) MessageType() Type { return TypeAdminStreamRequest }

type AdminConnected struct {
	Header
	AdminID string `json:"adminId"`
}

func (*AdminConnected) MessageType() Type { return TypeAdminConnected }

type DeviceList struct {
	Header
	Devices       []Device `json:"devices"`
	TotalDevices  int      `json:"totalDevices"`
	OnlineDevices int      `json:"onlineDevices"`
}

func (*DeviceList) MessageType() Type { return TypeDeviceList }

// NewDeviceList fills in the totals for devices.
func NewDeviceList(devices []Device) *DeviceList {
	if devices == nil {
		devices = []Device{}
	}
	online := 0
	for _, d := range devices {
		if d.Status == StatusOnline {
			online++
		}
	}
	return &DeviceList{Devices: devices, TotalDevices: len(devices), OnlineDevices: online}
}

type DeviceRegistered struct {
	Header
	Device Device `json:"device"`
}

func (*DeviceRegistered) MessageType() Type { return TypeDeviceRegistered }

type DeviceStatus struct {
	Header
	DeviceID string `json:"deviceId"`
	Status   Status `json:"status"`
}

func (*DeviceStatus) MessageType() Type { return TypeDeviceStatus }

type DeviceRemoved struct {
	Header
	DeviceID string `json:"deviceId"`
}

func (*DeviceRemoved) MessageType() Type { return TypeDeviceRemoved }

type SharingApproved struct {
	Header
	DeviceID string `json:"deviceId"`
	ScreenID string `json:"screenId"`
}

func (*SharingApproved) MessageType() Type { return TypeSharingApproved }

type SharingDenied struct {
	Header
	DeviceID string `json:"deviceId"`
	ScreenID string `json:"screenId"`
}

func (*SharingDenied) MessageType() Type { return TypeSharingDenied }

type SharingError struct {
	Header
	DeviceID string `json:"deviceId"`
	Error    string `json:"error"`
}

func (*SharingError) MessageType() Type { return TypeSharingError }

type SharingStopped struct {
	Header
	DeviceID string `json:"deviceId"`
}

func (*SharingStopped) MessageType() Type { return TypeSharingStopped }
