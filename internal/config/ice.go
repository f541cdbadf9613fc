package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"
)

const (
	envICEServersJSON = "SHOPSCREEN_ICE_SERVERS_JSON"

	envStunURLs       = "SHOPSCREEN_STUN_URLS"
	envTurnURLs       = "SHOPSCREEN_TURN_URLS"
	envTurnUsername   = "SHOPSCREEN_TURN_USERNAME"
	envTurnCredential = "SHOPSCREEN_TURN_CREDENTIAL"
)

var (
	errMissingURLs     = errors.New("missing urls")
	errEmptyURL        = errors.New("urls must not contain empty entries")
	errTURNCredentials = errors.New("turn urls require username and credential")
)

// parseICEServersFromValues prefers the JSON form over the convenience vars.
// With TURN REST enabled, TURN entries may omit credentials since they are
// minted per /webrtc/ice request.
func parseICEServersFromValues(iceServersJSON, stunURLs, turnURLs, turnUsername, turnCredential string, turnREST bool) ([]webrtc.ICEServer, error) {
	if raw := strings.TrimSpace(iceServersJSON); raw != "" {
		iceServers, err := parseICEServersJSON(raw, turnREST)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", envICEServersJSON, err)
		}
		return iceServers, nil
	}
	return parseConvenienceEnv(stunURLs, turnURLs, turnUsername, turnCredential, turnREST)
}

// iceServerJSON mirrors the browser RTCIceServer dictionary, where urls may be
// a single string or a list.
type iceServerJSON struct {
	URLs       stringOrStringSlice `json:"urls"`
	Username   string              `json:"username,omitempty"`
	Credential string              `json:"credential,omitempty"`
}

type stringOrStringSlice []string

func (s *stringOrStringSlice) UnmarshalJSON(b []byte) error {
	var single string
	if err := json.Unmarshal(b, &single); err == nil {
		*s = []string{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return err
	}
	*s = many
	return nil
}

// ParseICEServersJSON parses an RTCIceServer list as handed to browsers.
func ParseICEServersJSON(raw string) ([]webrtc.ICEServer, error) {
	return parseICEServersJSON(raw, false)
}

func parseICEServersJSON(raw string, credentialsOptional bool) ([]webrtc.ICEServer, error) {
	var servers []iceServerJSON
	if err := json.Unmarshal([]byte(raw), &servers); err != nil {
		return nil, err
	}

	out := make([]webrtc.ICEServer, 0, len(servers))
	for i, server := range servers {
		pcServer := webrtc.ICEServer{
			URLs:     splitCommaSeparated(strings.Join(server.URLs, ",")),
			Username: strings.TrimSpace(server.Username),
		}
		if cred := strings.TrimSpace(server.Credential); cred != "" {
			pcServer.Credential = cred
		}
		if err := validateICEServer(pcServer, credentialsOptional); err != nil {
			return nil, fmt.Errorf("iceServers[%d]: %w", i, err)
		}
		out = append(out, pcServer)
	}
	return out, nil
}

// ParseICEServersFromConvenienceEnv builds at most one STUN and one TURN entry
// from comma-separated URL lists.
func ParseICEServersFromConvenienceEnv(stunURLs, turnURLs, turnUsername, turnCredential string) ([]webrtc.ICEServer, error) {
	return parseConvenienceEnv(stunURLs, turnURLs, turnUsername, turnCredential, false)
}

func parseConvenienceEnv(stunURLs, turnURLs, turnUsername, turnCredential string, credentialsOptional bool) ([]webrtc.ICEServer, error) {
	var servers []webrtc.ICEServer

	if stunList := splitCommaSeparated(stunURLs); len(stunList) > 0 {
		server := webrtc.ICEServer{URLs: stunList}
		if err := validateICEServer(server, credentialsOptional); err != nil {
			return nil, fmt.Errorf("%s: %w", envStunURLs, err)
		}
		servers = append(servers, server)
	}

	if turnList := splitCommaSeparated(turnURLs); len(turnList) > 0 {
		server := webrtc.ICEServer{
			URLs:     turnList,
			Username: strings.TrimSpace(turnUsername),
		}
		if cred := strings.TrimSpace(turnCredential); cred != "" {
			server.Credential = cred
		}
		if err := validateICEServer(server, credentialsOptional); err != nil {
			return nil, fmt.Errorf("%s/%s/%s: %w", envTurnURLs, envTurnUsername, envTurnCredential, err)
		}
		servers = append(servers, server)
	}

	return servers, nil
}

func splitCommaSeparated(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

func validateICEServer(server webrtc.ICEServer, credentialsOptional bool) error {
	if len(server.URLs) == 0 {
		return errMissingURLs
	}

	needsCredentials := false
	for _, url := range server.URLs {
		if url == "" {
			return errEmptyURL
		}
		scheme, _, _ := strings.Cut(strings.ToLower(url), ":")
		switch scheme {
		case "stun", "stuns":
		case "turn", "turns":
			needsCredentials = true
		default:
			return fmt.Errorf("unsupported url scheme: %q", url)
		}
	}

	if needsCredentials && !credentialsOptional {
		cred, _ := server.Credential.(string)
		if server.Username == "" || cred == "" {
			return errTURNCredentials
		}
	}
	return nil
}
