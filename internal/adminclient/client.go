// Package adminclient is a Go client for the relay's admin channel. It is used
// by the terminal console and by tests that drive the relay end to end.
package adminclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/shopscreen/rendezvous/internal/protocol"
)

const (
	defaultHandshakeTimeout = 5 * time.Second
	defaultWriteTimeout     = 5 * time.Second
	eventQueueLength        = 64
)

var ErrClosed = errors.New("adminclient: closed")

type Options struct {
	// Origin is sent during the handshake for relays with an origin allow
	// list. Empty sends no Origin header.
	Origin           string
	HandshakeTimeout time.Duration
	Logger           *slog.Logger
}

// Client is one admin connection. Events are delivered in arrival order on
// the channel returned by Events, which is closed when the connection ends.
type Client struct {
	conn    *websocket.Conn
	log     *slog.Logger
	adminID string

	writeMu sync.Mutex
	events  chan protocol.Message
	done    chan struct{}

	closeOnce sync.Once

	errMu sync.Mutex
	err   error
}

// Dial connects to the relay's admin endpoint and completes the admin-connect
// handshake. rawURL may be an http(s) or ws(s) URL; a bare host gets ws:// and
// an empty path gets /ws/admin.
func Dial(ctx context.Context, rawURL string, opts Options) (*Client, error) {
	wsURL, err := AdminURL(rawURL)
	if err != nil {
		return nil, err
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaultHandshakeTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	header := http.Header{}
	if opts.Origin != "" {
		header.Set("Origin", opts.Origin)
	}
	dialer := websocket.Dialer{HandshakeTimeout: opts.HandshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", wsURL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", wsURL, err)
	}

	c := &Client{
		conn:   conn,
		log:    opts.Logger,
		events: make(chan protocol.Message, eventQueueLength),
		done:   make(chan struct{}),
	}
	if err := c.send(&protocol.AdminConnect{}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send admin-connect: %w", err)
	}

	deadline := time.Now().Add(opts.HandshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		_ = conn.Close()
		return nil, err
	}
	// The relay broadcasts to an admin as soon as its socket opens, so
	// directory events can arrive ahead of the ack. They are kept for Events.
	var early []protocol.Message
	for c.adminID == "" {
		_, data, err := conn.ReadMessage()
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("waiting for admin-connected: %w", err)
		}
		msg, err := protocol.DecodeAdminEvent(data)
		if err != nil {
			c.log.Debug("dropping admin event", "err", err)
			continue
		}
		if ack, ok := msg.(*protocol.AdminConnected); ok {
			c.adminID = ack.AdminID
			continue
		}
		early = append(early, msg)
	}
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		_ = conn.Close()
		return nil, err
	}

	go c.readLoop(early)
	return c, nil
}

// AdminURL normalizes rawURL into the admin WebSocket URL.
func AdminURL(rawURL string) (string, error) {
	s := strings.TrimSpace(rawURL)
	switch {
	case strings.HasPrefix(s, "http://"):
		s = "ws://" + strings.TrimPrefix(s, "http://")
	case strings.HasPrefix(s, "https://"):
		s = "wss://" + strings.TrimPrefix(s, "https://")
	case strings.HasPrefix(s, "ws://"), strings.HasPrefix(s, "wss://"):
	default:
		s = "ws://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid relay url %q: %w", rawURL, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid relay url %q: missing host", rawURL)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws/admin"
	}
	return u.String(), nil
}

// AdminID is the id the relay assigned in admin-connected.
func (c *Client) AdminID() string { return c.adminID }

func (c *Client) Events() <-chan protocol.Message { return c.events }

// Err returns why the event stream ended, or nil while it is open.
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *Client) RefreshDevices() error {
	return c.send(&protocol.DeviceListRequest{})
}

func (c *Client) RequestSharing(deviceID, screenID string) error {
	return c.send(&protocol.RequestSharing{DeviceID: deviceID, ScreenID: screenID})
}

func (c *Client) StopSharing(deviceID string) error {
	return c.send(&protocol.StopSharing{DeviceID: deviceID})
}

func (c *Client) UnregisterDevice(deviceID string) error {
	return c.send(&protocol.UnregisterDevice{DeviceID: deviceID})
}

// RequestPreview asks a device for a live preview stream outside any sharing
// session. The device's offer and candidates arrive as admin-stream-offer
// signals; answer them with SendSignal using admin-stream-answer and
// admin-ice-candidate.
func (c *Client) RequestPreview(deviceID string) error {
	return c.send(&protocol.RequestStream{DeviceID: deviceID})
}

// SendSignal forwards an offer, answer or candidate to sig.DeviceID.
func (c *Client) SendSignal(sig *protocol.Signal) error {
	return c.send(sig)
}

// Close sends a normal close frame and tears the connection down. It is safe
// to call more than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

func (c *Client) send(m protocol.Message) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	data, err := protocol.Encode(m, time.Now())
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) readLoop(early []protocol.Message) {
	defer close(c.events)
	for _, msg := range early {
		if !c.deliver(msg) {
			return
		}
	}
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				err = ErrClosed
			default:
			}
			c.errMu.Lock()
			c.err = err
			c.errMu.Unlock()
			return
		}
		msg, err := protocol.DecodeAdminEvent(data)
		if err != nil {
			c.log.Debug("dropping admin event", "err", err)
			continue
		}
		if !c.deliver(msg) {
			return
		}
	}
}

// deliver hands msg to Events, giving up once the client is closed.
func (c *Client) deliver(msg protocol.Message) bool {
	select {
	case c.events <- msg:
		return true
	case <-c.done:
		c.errMu.Lock()
		c.err = ErrClosed
		c.errMu.Unlock()
		return false
	}
}
