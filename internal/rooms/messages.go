package rooms

import (
	"encoding/json"
	"fmt"
)

const (
	typeJoin                    = "join"
	typeBroadcast               = "broadcast"
	typeView                    = "view"
	typeViewer                  = "viewer"
	typeWebRTCBroadcaster       = "webrtcbroadcaster"
	typeWebRTCViewer            = "webrtcviewer"
	typeRequestViewers          = "requestviewers"
	typeViewerDisconnected      = "viewerdisconnected"
	typeBroadcasterDisconnected = "broadcasterdisconnected"
)

// inbound is the union of every frame a room member may send.
type inbound struct {
	Type     string          `json:"type"`
	RoomID   *string         `json:"roomId,omitempty"`
	ViewerID *string         `json:"viewerId,omitempty"`
	Kind     string          `json:"kind,omitempty"`
	Message  json.RawMessage `json:"message,omitempty"`
}

type outbound struct {
	Type     string          `json:"type"`
	ViewerID string          `json:"viewerId,omitempty"`
	Kind     string          `json:"kind,omitempty"`
	Message  json.RawMessage `json:"message,omitempty"`
}

func validKind(kind string) bool {
	switch kind {
	case "offer", "answer", "candidate":
		return true
	}
	return false
}

func decode(data []byte) (inbound, error) {
	var in inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return inbound{}, err
	}
	if in.Type == "" {
		return inbound{}, fmt.Errorf("missing type")
	}
	return in, nil
}

// relayable reports whether in carries a usable offer/answer/candidate body.
func (in inbound) relayable() bool {
	return validKind(in.Kind) && len(in.Message) > 0
}

func encode(m outbound) []byte {
	data, err := json.Marshal(m)
	if err != nil {
		panic(err)
	}
	return data
}
