// Package turnrest mints coturn-compatible short-lived TURN credentials
// (draft-uberti-behave-turn-rest) so /webrtc/ice never hands out a static
// TURN password.
//
//	username   = <unix_expiry>:<prefix>:<session>
//	credential = base64(hmac_sha1(secret, username))
package turnrest

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

var (
	ErrNoSecret      = errors.New("turnrest: shared secret is required")
	ErrInvalidTTL    = errors.New("turnrest: ttl must be > 0")
	ErrInvalidPrefix = errors.New("turnrest: username prefix must be non-empty and contain no ':'")
	ErrInvalidID     = errors.New("turnrest: session id must be non-empty and contain no ':'")
)

type Config struct {
	SharedSecret   string
	TTL            time.Duration
	UsernamePrefix string
	Now            func() time.Time
	// NewSessionID defaults to a random UUID.
	NewSessionID func() string
}

type Generator struct {
	secret []byte
	ttl    time.Duration
	prefix string
	now    func() time.Time
	newID  func() string
}

type Credentials struct {
	Username   string
	Credential string
	ExpiresAt  time.Time
}

func New(cfg Config) (*Generator, error) {
	if cfg.SharedSecret == "" {
		return nil, ErrNoSecret
	}
	if cfg.TTL < time.Second {
		return nil, ErrInvalidTTL
	}
	if cfg.UsernamePrefix == "" || strings.Contains(cfg.UsernamePrefix, ":") {
		return nil, ErrInvalidPrefix
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewSessionID == nil {
		cfg.NewSessionID = uuid.NewString
	}
	return &Generator{
		secret: []byte(cfg.SharedSecret),
		ttl:    cfg.TTL,
		prefix: cfg.UsernamePrefix,
		now:    cfg.Now,
		newID:  cfg.NewSessionID,
	}, nil
}

// Generate mints credentials bound to sessionID. Expiry is whole seconds in
// UTC, as coturn expects.
func (g *Generator) Generate(sessionID string) (Credentials, error) {
	if sessionID == "" || strings.Contains(sessionID, ":") {
		return Credentials{}, ErrInvalidID
	}
	expires := g.now().UTC().Add(g.ttl).Truncate(time.Second)
	username := fmt.Sprintf("%d:%s:%s", expires.Unix(), g.prefix, sessionID)
	return Credentials{
		Username:   username,
		Credential: Sign(g.secret, username),
		ExpiresAt:  expires,
	}, nil
}

// Apply returns a copy of servers where every TURN entry carries fresh
// credentials for a new random session. STUN entries are left alone.
func (g *Generator) Apply(servers []webrtc.ICEServer) ([]webrtc.ICEServer, error) {
	creds, err := g.Generate(g.newID())
	if err != nil {
		return nil, err
	}
	out := make([]webrtc.ICEServer, len(servers))
	for i, server := range servers {
		out[i] = server
		if HasTURNURL(server) {
			out[i].Username = creds.Username
			out[i].Credential = creds.Credential
		}
	}
	return out, nil
}

// Sign is the coturn REST credential for username.
func Sign(secret []byte, username string) string {
	mac := hmac.New(sha1.New, secret)
	_, _ = mac.Write([]byte(username))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// HasTURNURL reports whether any of server's URLs uses the turn: or turns:
// scheme.
func HasTURNURL(server webrtc.ICEServer) bool {
	for _, raw := range server.URLs {
		u := strings.ToLower(strings.TrimSpace(raw))
		if strings.HasPrefix(u, "turn:") || strings.HasPrefix(u, "turns:") {
			return true
		}
	}
	return false
}
