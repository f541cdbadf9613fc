package signaling

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopscreen/rendezvous/internal/metrics"
	"github.com/shopscreen/rendezvous/internal/relay"
	"github.com/shopscreen/rendezvous/internal/rooms"
)

type testServer struct {
	*httptest.Server
	srv     *Server
	router  *relay.Router
	metrics *metrics.Metrics
}

func newTestServer(t *testing.T, opts ...func(*Config)) *testServer {
	t.Helper()

	m := metrics.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	router := relay.NewRouter(relay.Config{Logger: logger, Metrics: m})
	cfg := Config{
		Router:  router,
		Rooms:   rooms.NewHub(logger, m),
		Logger:  logger,
		Metrics: m,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	srv := NewServer(cfg)
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	hts := httptest.NewServer(mux)
	t.Cleanup(func() {
		srv.Close()
		hts.Close()
	})
	return &testServer{Server: hts, srv: srv, router: router, metrics: m}
}

func wsURL(base, path string) string {
	return "ws" + strings.TrimPrefix(base, "http") + path
}

func (ts *testServer) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	c, _, err := websocket.DefaultDialer.Dial(wsURL(ts.URL, path), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func writeFrame(t *testing.T, c *websocket.Conn, frame string) {
	t.Helper()
	require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte(frame)))
}

func readFrame(t *testing.T, c *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := c.ReadMessage()
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

// readUntil skips frames until one of type typ arrives.
func readUntil(t *testing.T, c *websocket.Conn, typ string) map[string]any {
	t.Helper()
	for {
		m := readFrame(t, c)
		if m["type"] == typ {
			return m
		}
	}
}

func readCloseCode(t *testing.T, c *websocket.Conn) int {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, _, err := c.ReadMessage()
		if err == nil {
			continue
		}
		var ce *websocket.CloseError
		require.ErrorAs(t, err, &ce)
		return ce.Code
	}
}

func TestSharingFlowOverWebSocket(t *testing.T) {
	ts := newTestServer(t)

	admin := ts.dial(t, "/ws/admin")
	writeFrame(t, admin, `{"type":"admin-connect"}`)
	connected := readFrame(t, admin)
	assert.Equal(t, "admin-connected", connected["type"])
	assert.NotEmpty(t, connected["adminId"])
	list := readFrame(t, admin)
	assert.Equal(t, "device-list", list["type"])
	assert.EqualValues(t, 0, list["totalDevices"])

	device := ts.dial(t, "/ws/device")
	writeFrame(t, device, `{"type":"register-device","deviceInfo":{"name":"Till 1","type":"tablet","table":"Front"}}`)
	reg := readFrame(t, device)
	require.Equal(t, "registration-success", reg["type"])
	deviceID := reg["deviceId"].(string)
	assert.Equal(t, "Front", reg["assignedTable"])

	registered := readUntil(t, admin, "device-registered")
	assert.Equal(t, deviceID, registered["device"].(map[string]any)["id"])

	writeFrame(t, admin, `{"type":"request-sharing","deviceId":"`+deviceID+`","screenId":"screen-1"}`)
	req := readFrame(t, device)
	require.Equal(t, "sharing-request", req["type"])
	assert.Equal(t, "screen-1", req["screenId"])

	writeFrame(t, device, `{"type":"permission-response","requestId":"`+req["requestId"].(string)+`","allowed":true}`)
	approved := readUntil(t, admin, "sharing-approved")
	assert.Equal(t, deviceID, approved["deviceId"])

	writeFrame(t, device, `{"type":"webrtc-offer","offer":{"type":"offer","sdp":"v=0\r\n"}}`)
	offer := readUntil(t, admin, "webrtc-offer")
	assert.Equal(t, deviceID, offer["deviceId"])
	assert.NotNil(t, offer["timestamp"])

	writeFrame(t, admin, `{"type":"webrtc-answer","deviceId":"`+deviceID+`","answer":{"type":"answer","sdp":"v=0\r\n"}}`)
	answer := readFrame(t, device)
	assert.Equal(t, "webrtc-answer", answer["type"])

	require.NoError(t, device.Close())
	stopped := readUntil(t, admin, "sharing-stopped")
	assert.Equal(t, deviceID, stopped["deviceId"])
	status := readUntil(t, admin, "device-status")
	assert.Equal(t, "offline", status["status"])
	assert.Empty(t, ts.router.Sessions())
}

func TestMalformedFrameKeepsConnectionOpen(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.dial(t, "/ws/admin")

	writeFrame(t, admin, `{"type":`)
	writeFrame(t, admin, `{"type":"no-such-thing"}`)
	writeFrame(t, admin, `{"type":"get-devices"}`)

	assert.Equal(t, "device-list", readFrame(t, admin)["type"])
	assert.EqualValues(t, 1, ts.metrics.Get(metrics.MessageMalformed))
	assert.EqualValues(t, 1, ts.metrics.Get(metrics.MessageUnknownType))
}

func TestOversizeFrameClosesWithMessageTooBig(t *testing.T) {
	ts := newTestServer(t, func(cfg *Config) { cfg.MaxMessageBytes = 64 })
	c := ts.dial(t, "/ws/device")

	writeFrame(t, c, `{"type":"register-device","deviceInfo":{"name":"`+strings.Repeat("x", 128)+`"}}`)
	assert.Equal(t, websocket.CloseMessageTooBig, readCloseCode(t, c))
	assert.EqualValues(t, 1, ts.metrics.Get(metrics.MessageTooLarge))
}

func TestBinaryFrameClosesWithUnsupportedData(t *testing.T) {
	ts := newTestServer(t)
	c := ts.dial(t, "/ws/admin")

	require.NoError(t, c.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3}))
	assert.Equal(t, websocket.CloseUnsupportedData, readCloseCode(t, c))
}

func TestRateLimitClosesWithPolicyViolation(t *testing.T) {
	ts := newTestServer(t, func(cfg *Config) { cfg.MaxMessagesPerSecond = 1 })
	c := ts.dial(t, "/ws/admin")

	for i := 0; i < 3; i++ {
		writeFrame(t, c, `{"type":"get-devices"}`)
	}
	assert.Equal(t, websocket.ClosePolicyViolation, readCloseCode(t, c))
	assert.EqualValues(t, 1, ts.metrics.Get(metrics.MessageRateLimited))
}

func TestOriginPolicy(t *testing.T) {
	ts := newTestServer(t, func(cfg *Config) {
		cfg.AllowedOrigins = []string{"https://shop.example"}
	})

	h := http.Header{}
	h.Set("Origin", "https://evil.example")
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts.URL, "/ws/admin"), h)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.EqualValues(t, 1, ts.metrics.Get(metrics.OriginRejected))

	h.Set("Origin", "https://shop.example")
	c, _, err := websocket.DefaultDialer.Dial(wsURL(ts.URL, "/ws/admin"), h)
	require.NoError(t, err)
	_ = c.Close()
}

func TestRoomsOverWebSocket(t *testing.T) {
	ts := newTestServer(t)

	broadcaster := ts.dial(t, "/ws/room")
	writeFrame(t, broadcaster, `{"type":"join","roomId":"lobby"}`)
	assert.Equal(t, "broadcast", readFrame(t, broadcaster)["type"])

	viewer := ts.dial(t, "/ws/room")
	writeFrame(t, viewer, `{"type":"join","roomId":"lobby"}`)
	assert.Equal(t, "view", readFrame(t, viewer)["type"])
	joined := readFrame(t, broadcaster)
	assert.Equal(t, map[string]any{"type": "viewer", "viewerId": "0"}, joined)

	writeFrame(t, viewer, `{"type":"webrtcviewer","kind":"candidate","message":{"candidate":"c"}}`)
	fwd := readFrame(t, broadcaster)
	assert.Equal(t, "webrtcbroadcaster", fwd["type"])
	assert.Equal(t, "0", fwd["viewerId"])

	require.NoError(t, broadcaster.Close())
	assert.Equal(t, "broadcasterdisconnected", readFrame(t, viewer)["type"])
	assert.Equal(t, websocket.CloseNormalClosure, readCloseCode(t, viewer))
}

func TestRoleHandlerOnDedicatedListener(t *testing.T) {
	ts := newTestServer(t)
	dedicated := httptest.NewServer(ts.srv.RoleHandler(RoleDevice))
	t.Cleanup(dedicated.Close)

	c, _, err := websocket.DefaultDialer.Dial(wsURL(dedicated.URL, "/any/path"), nil)
	require.NoError(t, err)
	defer c.Close()

	writeFrame(t, c, `{"type":"register-device","deviceInfo":{}}`)
	assert.Equal(t, "registration-success", readFrame(t, c)["type"])
	assert.Len(t, ts.router.Devices(), 1)

	unknown := httptest.NewServer(ts.srv.RoleHandler("nope"))
	t.Cleanup(unknown.Close)
	resp, err := http.Get(unknown.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRoomsRouteAbsentWithoutHub(t *testing.T) {
	ts := newTestServer(t, func(cfg *Config) { cfg.Rooms = nil })
	assert.Equal(t, []string{RoleDevice, RoleAdmin}, ts.srv.Roles())

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts.URL, "/ws/room"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCloseShutsEveryConnection(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.dial(t, "/ws/admin")
	device := ts.dial(t, "/ws/device")

	require.Eventually(t, func() bool { return ts.srv.ConnectionCount() == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.EqualValues(t, 1, ts.metrics.Gauge(RoleAdmin))
	assert.EqualValues(t, 1, ts.metrics.Gauge(RoleDevice))

	ts.srv.Close()
	assert.Equal(t, websocket.CloseGoingAway, readCloseCode(t, admin))
	assert.Equal(t, websocket.CloseGoingAway, readCloseCode(t, device))

	require.Eventually(t, func() bool {
		return ts.srv.ConnectionCount() == 0 && ts.metrics.Gauge(RoleAdmin) == 0 && ts.metrics.Gauge(RoleDevice) == 0
	}, 2*time.Second, 10*time.Millisecond)
}
