// Package protocol defines the JSON messages exchanged between the rendezvous
// relay, presenter devices and the admin dashboard.
//
// Every frame is a JSON object carrying a "type" discriminator. Inbound frames
// are decoded into one concrete struct per type and validated for the role
// that sent them; anything else is rejected with ErrMalformed or
// ErrUnknownType and never reaches the router.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type Type string

// Device to server.
const (
	TypeRegisterDevice     Type = "register-device"
	TypePermissionResponse Type = "permission-response"
	// TypeSharingResponse is accepted from older device builds as an alias of
	// TypePermissionResponse.
	TypeSharingResponse Type = "sharing-response"
)

// Admin to server.
const (
	TypeAdminConnect      Type = "admin-connect"
	TypeRequestDeviceList Type = "request-device-list"
	TypeGetDevices        Type = "get-devices"
	TypeRefreshDevices    Type = "refresh-devices"
	TypeRequestSharing    Type = "request-sharing"
	TypeUnregisterDevice  Type = "unregister-device"
)

// Admin live preview. An admin pulls a direct stream from a device outside any
// sharing session: admin-request-stream reaches the device as
// admin-stream-request, the device answers with admin-stream-offer frames
// (offer or trickled candidate) and the admin replies with admin-stream-answer
// and admin-ice-candidate.
const (
	TypeAdminRequestStream Type = "admin-request-stream"
	TypeAdminStreamRequest Type = "admin-stream-request"
	TypeAdminStreamOffer   Type = "admin-stream-offer"
	TypeAdminStreamAnswer  Type = "admin-stream-answer"
	TypeAdminICECandidate  Type = "admin-ice-candidate"
)

// Both directions.
const (
	TypeStopSharing     Type = "stop-sharing"
	TypeWebRTCOffer     Type = "webrtc-offer"
	TypeWebRTCAnswer    Type = "webrtc-answer"
	TypeWebRTCCandidate Type = "webrtc-candidate"
)

// Server to device.
const (
	TypeRegistrationSuccess Type = "registration-success"
	TypeSharingRequest      Type = "sharing-request"
)

// Server to admin.
const (
	TypeAdminConnected   Type = "admin-connected"
	TypeDeviceList       Type = "device-list"
	TypeDeviceRegistered Type = "device-registered"
	TypeDeviceStatus     Type = "device-status"
	TypeDeviceRemoved    Type = "device-removed"
	TypeSharingApproved  Type = "sharing-approved"
	TypeSharingDenied    Type = "sharing-denied"
	TypeSharingError     Type = "sharing-error"
	TypeSharingStopped   Type = "sharing-stopped"
)

// Role identifies which side of the relay a frame came from.
type Role string

const (
	RoleDevice Role = "device"
	RoleAdmin  Role = "admin"
)

var (
	ErrMalformed   = errors.New("malformed message")
	ErrUnknownType = errors.New("unknown message type")
)

// Header is embedded in every message.
type Header struct {
	Type      Type   `json:"type"`
	Timestamp Millis `json:"timestamp,omitempty"`
}

// Millis is an epoch time in milliseconds. Clients stamp with Date.now() and
// the relay restamps every frame it sends, so decoding never fails: fractional
// values are truncated and anything that is not a number reads as zero.
type Millis int64

func (m *Millis) UnmarshalJSON(b []byte) error {
	var f float64
	if json.Unmarshal(b, &f) != nil {
		*m = 0
		return nil
	}
	*m = Millis(f)
	return nil
}

func (h *Header) header() *Header { return h }

// Message is implemented by pointers to every message struct in this package.
type Message interface {
	MessageType() Type
	header() *Header
}

type validator interface {
	validate(from Role) error
}

// Encode stamps m with its type and the current time in epoch milliseconds and
// marshals it.
func Encode(m Message, now time.Time) ([]byte, error) {
	h := m.header()
	h.Type = m.MessageType()
	h.Timestamp = Millis(now.UnixMilli())
	return json.Marshal(m)
}

// MustEncode is Encode for messages built entirely from relay-owned values,
// where a marshal failure is a programming error.
func MustEncode(m Message, now time.Time) []byte {
	data, err := Encode(m, now)
	if err != nil {
		panic(fmt.Sprintf("protocol: encode %s: %v", m.MessageType(), err))
	}
	return data
}

type factory func() Message

var deviceInbound = map[Type]factory{
	TypeRegisterDevice:     func() Message { return new(RegisterDevice) },
	TypePermissionResponse: func() Message { return new(PermissionResponse) },
	TypeSharingResponse:    func() Message { return new(PermissionResponse) },
	TypeStopSharing:        func() Message { return new(StopSharing) },
	TypeWebRTCOffer:        func() Message { return new(Signal) },
	TypeWebRTCAnswer:       func() Message { return new(Signal) },
	TypeWebRTCCandidate:    func() Message { return new(Signal) },
	TypeAdminStreamOffer:   func() Message { return new(Signal) },
}

var adminInbound = map[Type]factory{
	TypeAdminConnect:       func() Message { return new(AdminConnect) },
	TypeRequestDeviceList:  func() Message { return new(DeviceListRequest) },
	TypeGetDevices:         func() Message { return new(DeviceListRequest) },
	TypeRefreshDevices:     func() Message { return new(DeviceListRequest) },
	TypeRequestSharing:     func() Message { return new(RequestSharing) },
	TypeStopSharing:        func() Message { return new(StopSharing) },
	TypeUnregisterDevice:   func() Message { return new(UnregisterDevice) },
	TypeWebRTCOffer:        func() Message { return new(Signal) },
	TypeWebRTCAnswer:       func() Message { return new(Signal) },
	TypeWebRTCCandidate:    func() Message { return new(Signal) },
	TypeAdminRequestStream: func() Message { return new(RequestStream) },
	TypeAdminStreamAnswer:  func() Message { return new(Signal) },
	TypeAdminICECandidate:  func() Message { return new(Signal) },
}

var deviceEvents = map[Type]factory{
	TypeRegistrationSuccess: func() Message { return new(RegistrationSuccess) },
	TypeSharingRequest:      func() Message { return new(SharingRequest) },
	TypeStopSharing:         func() Message { return new(StopSharing) },
	TypeWebRTCOffer:         func() Message { return new(Signal) },
	TypeWebRTCAnswer:        func() Message { return new(Signal) },
	TypeWebRTCCandidate:     func() Message { return new(Signal) },
	TypeAdminStreamRequest:  func() Message { return new(StreamRequest) },
	TypeAdminStreamAnswer:   func() Message { return new(Signal) },
	TypeAdminICECandidate:   func() Message { return new(Signal) },
}

var adminEvents = map[Type]factory{
	TypeAdminConnected:   func() Message { return new(AdminConnected) },
	TypeDeviceList:       func() Message { return new(DeviceList) },
	TypeDeviceRegistered: func() Message { return new(DeviceRegistered) },
	TypeDeviceStatus:     func() Message { return new(DeviceStatus) },
	TypeDeviceRemoved:    func() Message { return new(DeviceRemoved) },
	TypeSharingApproved:  func() Message { return new(SharingApproved) },
	TypeSharingDenied:    func() Message { return new(SharingDenied) },
	TypeSharingError:     func() Message { return new(SharingError) },
	TypeSharingStopped:   func() Message { return new(SharingStopped) },
	TypeWebRTCOffer:      func() Message { return new(Signal) },
	TypeWebRTCAnswer:     func() Message { return new(Signal) },
	TypeWebRTCCandidate:  func() Message { return new(Signal) },
	TypeAdminStreamOffer: func() Message { return new(Signal) },
}

// DecodeDevice decodes and validates a frame received on a device connection.
func DecodeDevice(data []byte) (Message, error) {
	return decode(data, deviceInbound, RoleDevice)
}

// DecodeAdmin decodes and validates a frame received on an admin connection.
func DecodeAdmin(data []byte) (Message, error) {
	return decode(data, adminInbound, RoleAdmin)
}

// DecodeDeviceEvent decodes a frame the relay sent to a device.
func DecodeDeviceEvent(data []byte) (Message, error) {
	return decode(data, deviceEvents, "")
}

// DecodeAdminEvent decodes a frame the relay sent to an admin.
func DecodeAdminEvent(data []byte) (Message, error) {
	return decode(data, adminEvents, "")
}

// PeekType returns the type discriminator of a frame without decoding the
// rest of it.
func PeekType(data []byte) (Type, error) {
	var env struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == "" {
		return "", fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return env.Type, nil
}

func decode(data []byte, table map[Type]factory, from Role) (Message, error) {
	typ, err := PeekType(data)
	if err != nil {
		return nil, err
	}
	newMsg, ok := table[typ]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownType, typ)
	}

	msg := newMsg()
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, typ, err)
	}
	if from == "" {
		return msg, nil
	}
	if v, ok := msg.(validator); ok {
		if err := v.validate(from); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, typ, err)
		}
	}
	return msg, nil
}
