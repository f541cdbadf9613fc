package signaling

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/shopscreen/rendezvous/internal/metrics"
	"github.com/shopscreen/rendezvous/internal/origin"
	"github.com/shopscreen/rendezvous/internal/ratelimit"
	"github.com/shopscreen/rendezvous/internal/relay"
	"github.com/shopscreen/rendezvous/internal/rooms"
)

// Connection roles. Each has its own endpoint and may have its own listener.
const (
	RoleDevice = "device"
	RoleAdmin  = "admin"
	RoleRoom   = "room"
)

const (
	defaultIdleTimeout          = 60 * time.Second
	defaultPingInterval         = 20 * time.Second
	defaultMaxMessageBytes      = 64 * 1024
	defaultMaxMessagesPerSecond = 50
	defaultSendQueueLength      = 256
)

// Config wires the transport to the components it feeds.
type Config struct {
	Router *relay.Router
	// Rooms serves the broadcast/viewer protocol. If nil, /ws/room is not
	// registered.
	Rooms *rooms.Hub

	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// AllowedOrigins is passed to origin.CheckRequest during the upgrade.
	AllowedOrigins []string

	IdleTimeout          time.Duration
	PingInterval         time.Duration
	MaxMessageBytes      int64
	MaxMessagesPerSecond int
	SendQueueLength      int
}

type roleHandler struct {
	role       string
	connect    func(*Client)
	handle     func(*Client, []byte)
	disconnect func(*Client)
}

// Server accepts WebSocket connections for every role.
//
// Endpoints:
//   - GET /ws/device : presenter devices
//   - GET /ws/admin  : admin dashboards and the admin console
//   - GET /ws/room   : broadcast/viewer rooms
type Server struct {
	log     *slog.Logger
	metrics *metrics.Metrics

	idleTimeout          time.Duration
	pingInterval         time.Duration
	maxMessageBytes      int64
	maxMessagesPerSecond int
	sendQueueLength      int

	handlers map[string]roleHandler
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*Client]struct{}
}

func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = defaultMaxMessageBytes
	}
	if cfg.MaxMessagesPerSecond <= 0 {
		cfg.MaxMessagesPerSecond = defaultMaxMessagesPerSecond
	}
	if cfg.SendQueueLength <= 0 {
		cfg.SendQueueLength = defaultSendQueueLength
	}

	s := &Server{
		log:                  cfg.Logger,
		metrics:              cfg.Metrics,
		idleTimeout:          cfg.IdleTimeout,
		pingInterval:         cfg.PingInterval,
		maxMessageBytes:      cfg.MaxMessageBytes,
		maxMessagesPerSecond: cfg.MaxMessagesPerSecond,
		sendQueueLength:      cfg.SendQueueLength,
		handlers:             make(map[string]roleHandler),
		clients:              make(map[*Client]struct{}),
	}

	allowed := cfg.AllowedOrigins
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			if origin.CheckRequest(r, allowed) {
				return true
			}
			s.metrics.Inc(metrics.OriginRejected)
			s.log.Warn("rejected websocket origin", "origin", r.Header.Get("Origin"), "path", r.URL.Path)
			return false
		},
	}

	if router := cfg.Router; router != nil {
		s.handlers[RoleDevice] = roleHandler{
			role:       RoleDevice,
			connect:    func(*Client) {},
			handle:     func(c *Client, data []byte) { router.HandleDevice(c, data) },
			disconnect: func(c *Client) { router.DisconnectDevice(c) },
		}
		s.handlers[RoleAdmin] = roleHandler{
			role:       RoleAdmin,
			connect:    func(c *Client) { router.ConnectAdmin(c) },
			handle:     func(c *Client, data []byte) { router.HandleAdmin(c, data) },
			disconnect: func(c *Client) { router.DisconnectAdmin(c) },
		}
	}
	if hub := cfg.Rooms; hub != nil {
		s.handlers[RoleRoom] = roleHandler{
			role:       RoleRoom,
			connect:    func(*Client) {},
			handle:     func(c *Client, data []byte) { hub.Handle(c, data) },
			disconnect: func(c *Client) { hub.Disconnect(c) },
		}
	}
	return s
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	for role := range s.handlers {
		mux.Handle("GET /ws/"+role, s.RoleHandler(role))
	}
}

// RoleHandler returns the upgrade handler for role, suitable for mounting at
// any path (a dedicated per-role listener serves it at "/"). Unknown roles
// get a handler that answers 404.
func (s *Server) RoleHandler(role string) http.Handler {
	h, ok := s.handlers[role]
	if !ok {
		return http.NotFoundHandler()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.serve(w, r, h)
	})
}

// Roles lists the roles this server accepts.
func (s *Server) Roles() []string {
	out := make([]string, 0, len(s.handlers))
	for _, role := range []string{RoleDevice, RoleAdmin, RoleRoom} {
		if _, ok := s.handlers[role]; ok {
			out = append(out, role)
		}
	}
	return out
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request, h roleHandler) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		return
	}

	c := &Client{
		id:      uuid.NewString(),
		role:    h.role,
		conn:    conn,
		srv:     s,
		limiter: ratelimit.NewPerSecond(ratelimit.RealClock{}, s.maxMessagesPerSecond),
		send:    make(chan []byte, s.sendQueueLength),
		closing: make(chan struct{}),
	}

	s.track(c)
	defer s.untrack(c)

	s.log.Info("connection opened", "conn_id", c.id, "role", h.role, "remote_addr", r.RemoteAddr)
	h.connect(c)

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.writePump()
	}()
	c.readPump(h)
	<-done

	s.log.Info("connection closed", "conn_id", c.id, "role", h.role, "close_code", c.closeCode)
}

// Close closes every open connection. http.Server.Shutdown does not touch
// hijacked connections, so callers run this alongside it.
func (s *Server) Close() {
	s.mu.Lock()
	clients := make([]*Client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.closeWith(websocket.CloseGoingAway, "server shutting down")
	}
}

// ConnectionCount returns the number of open connections.
func (s *Server) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) track(c *Client) {
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
	s.metrics.GaugeAdd(c.role, 1)
}

func (s *Server) untrack(c *Client) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
	s.metrics.GaugeAdd(c.role, -1)
}
