package relay

import (
	"log/slog"
	"sync"

	"tether/cmd/security/token"

	v1 "tether/shared/contracts/pairing/v1"
)

// Manager owns room membership.
//
// Concurrency guarantees:
// - FormRoom/Relay/Leave are each a single critical section.
// - A connection belongs to at most one room.
// - Relay never blocks (drops under backpressure) and never echoes to the sender.
type Manager struct {
	log *slog.Logger

	mu     sync.Mutex
	rooms  map[string]*Room
	byConn map[string]*Room
}

// NewManager constructs a Manager.
func NewManager(log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		log:    log,
		rooms:  make(map[string]*Room),
		byConn: make(map[string]*Room),
	}
}

// RoomIDFromToken derives the deterministic room id for a pairing token.
func RoomIDFromToken(pairingToken string) string {
	return token.HashSHA256Hex(pairingToken)
}

// FormRoom creates the room for pairingToken with exactly members a and b.
//
// It reports ok=false when either connection is missing, shutting down, or
// already a member of another room. On success exactly these two connections
// are members and no third party can join the room id.
func (m *Manager) FormRoom(pairingToken string, a, b *Client) (roomID string, ok bool) {
	if a == nil || b == nil || a.ConnID == "" || b.ConnID == "" || a.ConnID == b.ConnID {
		return "", false
	}

	select {
	case <-a.Done():
		return "", false
	default:
	}
	select {
	case <-b.Done():
		return "", false
	default:
	}

	roomID = RoomIDFromToken(pairingToken)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.rooms[roomID]; exists {
		return "", false
	}
	if _, busy := m.byConn[a.ConnID]; busy {
		return "", false
	}
	if _, busy := m.byConn[b.ConnID]; busy {
		return "", false
	}

	r := newRoom(roomID, a, b)
	m.rooms[roomID] = r
	m.byConn[a.ConnID] = r
	m.byConn[b.ConnID] = r

	m.log.Info("room.form", "room_id", roomID, "conn_a", a.ConnID, "conn_b", b.ConnID)
	return roomID, true
}

// Relay delivers env to the other member of the sender's room.
//
// A sender with no room is a silent no-op: a connection legitimately has no
// room before pairing completes. Delivery is non-blocking; a full queue or a
// shutting-down peer drops the envelope.
func (m *Manager) Relay(senderConnID string, env v1.Envelope) bool {
	m.mu.Lock()
	r := m.byConn[senderConnID]
	var peer *Client
	if r != nil {
		peer = r.Other(senderConnID)
	}
	m.mu.Unlock()

	if peer == nil {
		return false
	}

	select {
	case <-peer.Done():
		return false
	default:
	}

	select {
	case peer.Send <- env:
		return true
	default:
		// Drop rather than block the relay.
		m.log.Info("room.relay.drop", "room_id", r.ID, "to", peer.ConnID)
		return false
	}
}

// RoomOf returns the room id the connection belongs to, if any.
func (m *Manager) RoomOf(connID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.byConn[connID]
	if !ok {
		return "", false
	}
	return r.ID, true
}

// Leave removes the connection from its room, if any, and tears the room
// down. The remaining member is left with no room; there is no automatic
// re-pairing.
func (m *Manager) Leave(connID string) {
	if connID == "" {
		return
	}

	m.mu.Lock()
	r := m.byConn[connID]
	if r != nil {
		ca, cb := r.Members()
		delete(m.byConn, ca)
		delete(m.byConn, cb)
		delete(m.rooms, r.ID)
	}
	m.mu.Unlock()

	if r != nil {
		m.log.Info("room.teardown", "room_id", r.ID, "left", connID)
	}
}

// Len reports the number of live rooms (for metrics and tests).
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rooms)
}
