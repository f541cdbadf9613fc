// Package rooms hosts the broadcast/viewer room protocol used by the
// standalone screen-sharing page. The first connection to join a room id
// becomes its broadcaster; later ones are viewers addressed by per-room
// counter ids. The hub only relays offer/answer/candidate payloads between
// them and never inspects their contents.
package rooms

import (
	"log/slog"
	"sort"
	"strconv"
	"sync"

	"github.com/shopscreen/rendezvous/internal/metrics"
)

// Conn is a room member's connection.
type Conn interface {
	ID() string
	// Send enqueues a frame without blocking.
	Send(data []byte) bool
	// Close tears the connection down; the transport then reports it through
	// Hub.Disconnect.
	Close()
}

type room struct {
	id          string
	broadcaster Conn
	viewers     map[string]Conn
	counter     int
}

type membership struct {
	room     *room
	viewerID string // empty for the broadcaster
}

// Hub tracks rooms and which connection sits where.
type Hub struct {
	log     *slog.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	rooms   map[string]*room
	members map[string]membership // by conn id
}

func NewHub(logger *slog.Logger, m *metrics.Metrics) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		log:     logger,
		metrics: m,
		rooms:   make(map[string]*room),
		members: make(map[string]membership),
	}
}

// RoomView summarises a room for diagnostics.
type RoomView struct {
	ID      string `json:"id"`
	Viewers int    `json:"viewers"`
}

func (h *Hub) Rooms() []RoomView {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]RoomView, 0, len(h.rooms))
	for _, r := range h.rooms {
		out = append(out, RoomView{ID: r.id, Viewers: len(r.viewers)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Handle processes one frame from c. Invalid frames are dropped.
func (h *Hub) Handle(c Conn, data []byte) {
	in, err := decode(data)
	if err != nil {
		h.metrics.Inc(metrics.MessageMalformed)
		h.log.Debug("dropping room message", "conn_id", c.ID(), "err", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	member, joined := h.members[c.ID()]
	if !joined {
		if in.Type == typeJoin && in.RoomID != nil && *in.RoomID != "" {
			h.joinLocked(c, *in.RoomID)
		}
		return
	}

	r := member.room
	if member.viewerID == "" {
		switch in.Type {
		case typeWebRTCBroadcaster:
			if in.ViewerID == nil || !in.relayable() {
				return
			}
			viewer, ok := r.viewers[*in.ViewerID]
			if !ok {
				return
			}
			viewer.Send(encode(outbound{Type: typeWebRTCViewer, Kind: in.Kind, Message: in.Message}))
		case typeRequestViewers:
			for _, id := range sortedViewerIDs(r) {
				r.broadcaster.Send(encode(outbound{Type: typeViewer, ViewerID: id}))
			}
		}
		return
	}

	if in.Type == typeWebRTCViewer && in.relayable() {
		r.broadcaster.Send(encode(outbound{
			Type:     typeWebRTCBroadcaster,
			ViewerID: member.viewerID,
			Kind:     in.Kind,
			Message:  in.Message,
		}))
	}
}

func (h *Hub) joinLocked(c Conn, roomID string) {
	h.metrics.Inc(metrics.RoomJoined)

	r, ok := h.rooms[roomID]
	if !ok {
		r = &room{id: roomID, broadcaster: c, viewers: make(map[string]Conn)}
		h.rooms[roomID] = r
		h.members[c.ID()] = membership{room: r}
		h.log.Info("room opened", "room_id", roomID, "conn_id", c.ID())
		c.Send(encode(outbound{Type: typeBroadcast}))
		return
	}

	id := strconv.Itoa(r.counter)
	r.counter++
	r.viewers[id] = c
	h.members[c.ID()] = membership{room: r, viewerID: id}
	h.log.Info("viewer joined room", "room_id", roomID, "viewer_id", id, "conn_id", c.ID())
	c.Send(encode(outbound{Type: typeView}))
	r.broadcaster.Send(encode(outbound{Type: typeViewer, ViewerID: id}))
}

// Disconnect removes c from its room. A departing broadcaster closes the room
// and every viewer in it.
func (h *Hub) Disconnect(c Conn) {
	h.mu.Lock()
	member, ok := h.members[c.ID()]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(h.members, c.ID())
	r := member.room

	if member.viewerID != "" {
		delete(r.viewers, member.viewerID)
		r.broadcaster.Send(encode(outbound{Type: typeViewerDisconnected, ViewerID: member.viewerID}))
		h.mu.Unlock()
		return
	}

	delete(h.rooms, r.id)
	viewers := make([]Conn, 0, len(r.viewers))
	for _, id := range sortedViewerIDs(r) {
		v := r.viewers[id]
		delete(h.members, v.ID())
		viewers = append(viewers, v)
	}
	h.metrics.Inc(metrics.RoomClosed)
	h.log.Info("room closed", "room_id", r.id, "viewers", len(viewers))
	h.mu.Unlock()

	// Close outside the lock: transports call back into Disconnect.
	msg := encode(outbound{Type: typeBroadcasterDisconnected})
	for _, v := range viewers {
		v.Send(msg)
		v.Close()
	}
}

func sortedViewerIDs(r *room) []string {
	ids := make([]string, 0, len(r.viewers))
	for id := range r.viewers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, _ := strconv.Atoi(ids[i])
		b, _ := strconv.Atoi(ids[j])
		return a < b
	})
	return ids
}
