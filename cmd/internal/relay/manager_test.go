package relay

import (
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	v1 "tether/shared/contracts/pairing/v1"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testEnvelope(t *testing.T, data string) v1.Envelope {
	t.Helper()
	p, err := json.Marshal(v1.RelayMessagePayload{Data: json.RawMessage(data)})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return v1.Envelope{V: v1.Version, Type: v1.TypeRelayMessage, ID: "env-1", TS: time.Now().UTC(), Payload: p}
}

func TestManager_FormRoom(t *testing.T) {
	m := NewManager(testLogger())

	a := NewClient("conn-a", 8)
	b := NewClient("conn-b", 8)

	roomID, ok := m.FormRoom("tok-1", a, b)
	if !ok {
		t.Fatalf("FormRoom failed")
	}
	if roomID != RoomIDFromToken("tok-1") {
		t.Fatalf("room id not derived from token")
	}

	if got, ok := m.RoomOf("conn-a"); !ok || got != roomID {
		t.Fatalf("conn-a room = %q ok=%v", got, ok)
	}
	if got, ok := m.RoomOf("conn-b"); !ok || got != roomID {
		t.Fatalf("conn-b room = %q ok=%v", got, ok)
	}
}

func TestManager_FormRoomRejectsBusyMembers(t *testing.T) {
	m := NewManager(testLogger())

	a := NewClient("conn-a", 8)
	b := NewClient("conn-b", 8)
	c := NewClient("conn-c", 8)

	if _, ok := m.FormRoom("tok-1", a, b); !ok {
		t.Fatalf("first FormRoom failed")
	}
	if _, ok := m.FormRoom("tok-2", a, c); ok {
		t.Fatalf("a is already roomed; FormRoom must fail")
	}
	if _, ok := m.FormRoom("tok-3", c, c); ok {
		t.Fatalf("self room must fail")
	}
	if m.Len() != 1 {
		t.Fatalf("rooms = %d, want 1", m.Len())
	}
}

func TestManager_FormRoomRejectsClosedClient(t *testing.T) {
	m := NewManager(testLogger())

	a := NewClient("conn-a", 8)
	b := NewClient("conn-b", 8)
	b.Close()

	if _, ok := m.FormRoom("tok-1", a, b); ok {
		t.Fatalf("FormRoom with a closed member must fail")
	}
}

func TestManager_RelayDeliversToOtherMemberOnly(t *testing.T) {
	m := NewManager(testLogger())

	a := NewClient("conn-a", 8)
	b := NewClient("conn-b", 8)
	c := NewClient("conn-c", 8)

	if _, ok := m.FormRoom("tok-1", a, b); !ok {
		t.Fatalf("FormRoom failed")
	}

	env := testEnvelope(t, `{"n":"hi"}`)
	if !m.Relay("conn-a", env) {
		t.Fatalf("Relay failed")
	}

	select {
	case got := <-b.Send:
		if got.Type != v1.TypeRelayMessage {
			t.Fatalf("type = %q", got.Type)
		}
	default:
		t.Fatalf("b did not receive the payload")
	}

	select {
	case <-a.Send:
		t.Fatalf("sender must not receive its own payload")
	default:
	}
	select {
	case <-c.Send:
		t.Fatalf("third connection must not receive the payload")
	default:
	}
}

func TestManager_RelayWithoutRoomIsNoop(t *testing.T) {
	m := NewManager(testLogger())

	if m.Relay("conn-x", testEnvelope(t, `{}`)) {
		t.Fatalf("relay without a room must be a no-op")
	}
}

func TestManager_LeaveTearsDownRoom(t *testing.T) {
	m := NewManager(testLogger())

	a := NewClient("conn-a", 8)
	b := NewClient("conn-b", 8)

	if _, ok := m.FormRoom("tok-1", a, b); !ok {
		t.Fatalf("FormRoom failed")
	}

	m.Leave("conn-a")

	if m.Len() != 0 {
		t.Fatalf("rooms = %d, want 0", m.Len())
	}
	if _, ok := m.RoomOf("conn-b"); ok {
		t.Fatalf("remaining member must have no room")
	}
	if m.Relay("conn-b", testEnvelope(t, `{}`)) {
		t.Fatalf("relay after teardown must be a no-op")
	}

	// Leave is idempotent.
	m.Leave("conn-a")
	m.Leave("never-seen")
}

func TestManager_RelayDropsOnBackpressure(t *testing.T) {
	m := NewManager(testLogger())

	a := NewClient("conn-a", 1)
	b := NewClient("conn-b", 1)

	if _, ok := m.FormRoom("tok-1", a, b); !ok {
		t.Fatalf("FormRoom failed")
	}

	if !m.Relay("conn-a", testEnvelope(t, `{"n":1}`)) {
		t.Fatalf("first relay should fit the queue")
	}
	if m.Relay("conn-a", testEnvelope(t, `{"n":2}`)) {
		t.Fatalf("second relay must drop, not block")
	}
}
