package relay

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shopscreen/rendezvous/internal/protocol"
)

const (
	defaultTable     = "unassigned"
	defaultUserAgent = "Unknown"
)

// DeviceRecord is a registered presenter device. Records outlive their
// connection; only unregister-device deletes them.
type DeviceRecord struct {
	ID           string
	Name         string
	Type         protocol.DeviceType
	Table        string
	UserAgent    string
	Capabilities protocol.Capabilities
	Status       protocol.Status
	RegisteredAt time.Time
	LastSeen     time.Time

	conn Conn // nil once offline
}

func (r *DeviceRecord) View() protocol.Device {
	caps := make(protocol.Capabilities, len(r.Capabilities))
	for k, v := range r.Capabilities {
		caps[k] = v
	}
	return protocol.Device{
		ID:           r.ID,
		Name:         r.Name,
		Type:         r.Type,
		Table:        r.Table,
		UserAgent:    r.UserAgent,
		Capabilities: caps,
		Status:       r.Status,
		RegisteredAt: r.RegisteredAt.UnixMilli(),
		LastSeen:     r.LastSeen.UnixMilli(),
	}
}

// directory holds device records plus a connection index so a frame arriving
// on a device socket resolves to its record without scanning.
type directory struct {
	records map[string]*DeviceRecord
	byConn  map[string]string // conn id -> device id
}

func newDirectory() *directory {
	return &directory{
		records: make(map[string]*DeviceRecord),
		byConn:  make(map[string]string),
	}
}

func (d *directory) register(conn Conn, info protocol.DeviceInfo, now time.Time) *DeviceRecord {
	table := info.Table
	if table == "" {
		table = defaultTable
	}
	id := newDeviceID(table)

	name := info.Name
	if name == "" {
		name = "Device " + id[len(id)-8:]
	}
	userAgent := info.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	caps := info.Capabilities
	if caps == nil {
		caps = protocol.Capabilities{}
	}

	rec := &DeviceRecord{
		ID:           id,
		Name:         name,
		Type:         protocol.ParseDeviceType(info.Type),
		Table:        table,
		UserAgent:    userAgent,
		Capabilities: caps,
		Status:       protocol.StatusOnline,
		RegisteredAt: now,
		LastSeen:     now,
		conn:         conn,
	}
	d.records[id] = rec
	d.byConn[conn.ID()] = id
	return rec
}

func (d *directory) get(id string) (*DeviceRecord, bool) {
	rec, ok := d.records[id]
	return rec, ok
}

func (d *directory) byConnection(connID string) (*DeviceRecord, bool) {
	id, ok := d.byConn[connID]
	if !ok {
		return nil, false
	}
	return d.get(id)
}

// markOffline detaches rec from its connection.
func (d *directory) markOffline(rec *DeviceRecord, now time.Time) {
	if rec.conn != nil {
		delete(d.byConn, rec.conn.ID())
	}
	rec.conn = nil
	rec.Status = protocol.StatusOffline
	rec.LastSeen = now
}

func (d *directory) remove(rec *DeviceRecord) {
	if rec.conn != nil {
		delete(d.byConn, rec.conn.ID())
	}
	delete(d.records, rec.ID)
}

func (d *directory) len() int { return len(d.records) }

// list returns admin views ordered by registration time.
func (d *directory) list() []protocol.Device {
	recs := make([]*DeviceRecord, 0, len(d.records))
	for _, rec := range d.records {
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].RegisteredAt.Equal(recs[j].RegisteredAt) {
			return recs[i].RegisteredAt.Before(recs[j].RegisteredAt)
		}
		return recs[i].ID < recs[j].ID
	})
	out := make([]protocol.Device, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.View())
	}
	return out
}

func newDeviceID(table string) string {
	return fmt.Sprintf("device-%s-%s", slug(table), uuid.Must(uuid.NewV7()).String())
}

// slug keeps ids URL- and log-friendly whatever the shop named its tables.
func slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	out := strings.TrimSuffix(b.String(), "-")
	if out == "" {
		return defaultTable
	}
	return out
}
