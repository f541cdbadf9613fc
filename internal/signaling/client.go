package signaling

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/shopscreen/rendezvous/internal/metrics"
	"github.com/shopscreen/rendezvous/internal/ratelimit"
)

const wsWriteWait = 1 * time.Second

// Client is one accepted WebSocket connection.
type Client struct {
	id   string
	role string
	conn *websocket.Conn
	srv  *Server

	limiter *ratelimit.TokenBucket

	send    chan []byte
	closing chan struct{}

	closeOnce   sync.Once
	closeCode   int
	closeReason string
}

func (c *Client) ID() string { return c.id }

// Send enqueues data for the write loop. It never blocks: frames are dropped
// once the client is closing or its queue is full.
func (c *Client) Send(data []byte) bool {
	select {
	case <-c.closing:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// Close flushes queued frames and closes the socket with a normal closure.
func (c *Client) Close() {
	c.closeWith(websocket.CloseNormalClosure, "")
}

func (c *Client) closeWith(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeReason = reason
		close(c.closing)
	})
}

func (c *Client) readPump(h roleHandler) {
	defer func() {
		h.disconnect(c)
		c.Close()
	}()

	idle := c.srv.idleTimeout
	_ = c.conn.SetReadDeadline(time.Now().Add(idle))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(idle))
	})

	for {
		msgType, r, err := c.conn.NextReader()
		if err != nil {
			if isTimeout(err) {
				c.srv.log.Info("closing idle connection", "conn_id", c.id, "role", c.role)
				c.closeWith(websocket.CloseNormalClosure, "idle timeout")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(idle))

		msg, err := readLimited(r, c.srv.maxMessageBytes)
		if err != nil {
			if errors.Is(err, errMessageTooLarge) {
				c.srv.metrics.Inc(metrics.MessageTooLarge)
				c.closeWith(websocket.CloseMessageTooBig, "message too large")
				return
			}
			c.closeWith(websocket.CloseInternalServerErr, "failed to read message")
			return
		}
		// Count against the rate limit only after the frame is drained so the
		// close frame is not lost to a reset on unread data.
		if c.limiter != nil && !c.limiter.Allow(1) {
			c.srv.metrics.Inc(metrics.MessageRateLimited)
			c.closeWith(websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}
		if msgType != websocket.TextMessage {
			c.closeWith(websocket.CloseUnsupportedData, "expected text message")
			return
		}

		h.handle(c, msg)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.srv.pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data := <-c.send:
			if err := c.write(data); err != nil {
				c.closeWith(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				c.closeWith(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-c.closing:
			c.flush()
			if c.closeCode != websocket.CloseAbnormalClosure {
				_ = c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(c.closeCode, c.closeReason),
					time.Now().Add(wsWriteWait))
			}
			return
		}
	}
}

// flush writes whatever is already queued, without waiting for more.
func (c *Client) flush() {
	for {
		select {
		case data := <-c.send:
			if err := c.write(data); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Client) write(data []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

var errMessageTooLarge = errors.New("message too large")

func readLimited(r io.Reader, max int64) ([]byte, error) {
	if max <= 0 {
		return nil, errMessageTooLarge
	}
	b, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > max {
		return nil, errMessageTooLarge
	}
	return b, nil
}
