package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"
)

// Signal carries a WebRTC offer, answer or ICE candidate between an admin and
// a device. The relay forwards the object it received, so fields it does not
// interpret survive the hop; only type, timestamp and deviceId are rewritten.
type Signal struct {
	Header
	DeviceID string

	// Exactly one of these is set, matching Type. A candidate with an empty
	// Candidate string signals end-of-candidates.
	Description *webrtc.SessionDescription
	Candidate   *webrtc.ICECandidateInit

	fields map[string]json.RawMessage
}

func (s *Signal) MessageType() Type { return s.Type }

func NewOffer(deviceID string, desc webrtc.SessionDescription) *Signal {
	return &Signal{Header: Header{Type: TypeWebRTCOffer}, DeviceID: deviceID, Description: &desc}
}

func NewAnswer(deviceID string, desc webrtc.SessionDescription) *Signal {
	return &Signal{Header: Header{Type: TypeWebRTCAnswer}, DeviceID: deviceID, Description: &desc}
}

func NewCandidate(deviceID string, c webrtc.ICECandidateInit) *Signal {
	return &Signal{Header: Header{Type: TypeWebRTCCandidate}, DeviceID: deviceID, Candidate: &c}
}

// IsSignal reports whether t carries a WebRTC offer, answer or candidate.
func IsSignal(t Type) bool {
	return len(payloadKeys(t)) > 0
}

// payloadKeys names the fields a t frame may carry its payload under. Preview
// offers reuse one type for the offer and the device's trickled candidates.
func payloadKeys(t Type) []string {
	switch t {
	case TypeWebRTCOffer:
		return []string{"offer"}
	case TypeWebRTCAnswer, TypeAdminStreamAnswer:
		return []string{"answer"}
	case TypeWebRTCCandidate, TypeAdminICECandidate:
		return []string{"candidate"}
	case TypeAdminStreamOffer:
		return []string{"offer", "candidate"}
	default:
		return nil
	}
}

func (s *Signal) UnmarshalJSON(b []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return err
	}
	*s = Signal{fields: fields}

	if raw, ok := fields["type"]; ok {
		if err := json.Unmarshal(raw, &s.Type); err != nil {
			return fmt.Errorf("type: %w", err)
		}
	}
	if raw, ok := fields["timestamp"]; ok {
		_ = s.Timestamp.UnmarshalJSON(raw)
	}
	if raw, ok := fields["deviceId"]; ok {
		if err := json.Unmarshal(raw, &s.DeviceID); err != nil {
			return fmt.Errorf("deviceId: %w", err)
		}
	}

	for _, key := range payloadKeys(s.Type) {
		raw, ok := fields[key]
		if !ok {
			continue
		}
		if key == "candidate" {
			var c webrtc.ICECandidateInit
			if string(raw) != "null" {
				if err := json.Unmarshal(raw, &c); err != nil {
					return fmt.Errorf("%s: %w", key, err)
				}
			}
			s.Candidate = &c
		} else {
			var desc webrtc.SessionDescription
			if err := json.Unmarshal(raw, &desc); err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			s.Description = &desc
		}
		return nil
	}
	return nil
}

func (s *Signal) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(s.fields)+4)
	for k, v := range s.fields {
		out[k] = v
	}

	set := func(key string, v any) error {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		out[key] = b
		return nil
	}

	if err := set("type", s.Type); err != nil {
		return nil, err
	}
	if s.Timestamp != 0 {
		if err := set("timestamp", s.Timestamp); err != nil {
			return nil, err
		}
	}
	if s.DeviceID != "" {
		if err := set("deviceId", s.DeviceID); err != nil {
			return nil, err
		}
	}
	keys := payloadKeys(s.Type)
	for _, key := range keys {
		if _, ok := out[key]; ok {
			keys = nil
			break
		}
	}
	for _, key := range keys {
		var err error
		switch {
		case key == "candidate" && s.Candidate != nil:
			err = set(key, s.Candidate)
		case key != "candidate" && s.Description != nil:
			err = set(key, s.Description)
		default:
			continue
		}
		if err != nil {
			return nil, err
		}
		break
	}
	return json.Marshal(out)
}

func (s *Signal) validate(from Role) error {
	if from == RoleAdmin && strings.TrimSpace(s.DeviceID) == "" {
		return errors.New("missing deviceId")
	}

	switch s.Type {
	case TypeWebRTCOffer:
		if s.Description == nil || s.Description.Type != webrtc.SDPTypeOffer {
			return errors.New("missing offer")
		}
	case TypeAdminStreamOffer:
		if s.Candidate != nil {
			return nil
		}
		if s.Description == nil || s.Description.Type != webrtc.SDPTypeOffer {
			return errors.New("missing offer or candidate")
		}
	case TypeWebRTCAnswer, TypeAdminStreamAnswer:
		if s.Description == nil {
			return errors.New("missing answer")
		}
		if t := s.Description.Type; t != webrtc.SDPTypeAnswer && t != webrtc.SDPTypePranswer {
			return fmt.Errorf("answer has sdp type %q", t)
		}
	case TypeWebRTCCandidate, TypeAdminICECandidate:
		if s.Candidate == nil {
			return errors.New("missing candidate")
		}
		return nil
	default:
		return fmt.Errorf("unsupported signal type %q", s.Type)
	}

	if strings.TrimSpace(s.Description.SDP) == "" {
		return errors.New("empty sdp")
	}
	return nil
}
