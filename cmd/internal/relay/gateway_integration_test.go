package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"tether/cmd/internal/pairing"

	v1 "tether/shared/contracts/pairing/v1"

	"github.com/coder/websocket"
)

func newTestGateway(t *testing.T) *Gateway {
	t.Helper()
	t.Setenv("TETHER_WS_ORIGIN_REQUIRED", "false")

	reg, err := pairing.NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	log := testLogger()
	return NewGateway(log, reg, NewManager(log), nil)
}

func startWSTestServer(t *testing.T, gw *Gateway) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.Handle("/ws", gw)
	return httptest.NewServer(mux)
}

func dialWS(t *testing.T, baseHTTPURL string) *websocket.Conn {
	t.Helper()

	u, err := url.Parse(baseHTTPURL)
	if err != nil {
		t.Fatalf("url.Parse: %v", err)
	}
	u.Scheme = "ws"
	u.Path = "/ws"

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, resp, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{
		Subprotocols: []string{wsSubprotocolV1},
	})
	if resp != nil && resp.Body != nil {
		defer func() { _ = resp.Body.Close() }()
	}
	if err != nil {
		t.Fatalf("websocket.Dial: %v", err)
	}
	return conn
}

func writeEnvelopeWS(t *testing.T, conn *websocket.Conn, typ string, payload any) {
	t.Helper()

	p, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	env := v1.Envelope{V: v1.Version, Type: typ, ID: newEventID(), TS: time.Now().UTC(), Payload: p}

	b, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func readEnvelopeWS(t *testing.T, conn *websocket.Conn, timeout time.Duration) v1.Envelope {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return env
}

func readPairingToken(t *testing.T, conn *websocket.Conn) v1.PairingTokenPayload {
	t.Helper()

	env := readEnvelopeWS(t, conn, 5*time.Second)
	if env.Type != v1.TypePairingToken {
		t.Fatalf("first server event = %q, want %q", env.Type, v1.TypePairingToken)
	}

	var p v1.PairingTokenPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		t.Fatalf("unmarshal token payload: %v", err)
	}
	if strings.TrimSpace(p.Token) == "" {
		t.Fatalf("empty pairing token")
	}
	return p
}

func TestGateway_PairAndRelay(t *testing.T) {
	gw := newTestGateway(t)
	ts := startWSTestServer(t, gw)
	defer ts.Close()

	connA := dialWS(t, ts.URL)
	defer func() { _ = connA.Close(websocket.StatusNormalClosure, "bye") }()
	connB := dialWS(t, ts.URL)
	defer func() { _ = connB.Close(websocket.StatusNormalClosure, "bye") }()

	tokA := readPairingToken(t, connA)
	_ = readPairingToken(t, connB)

	// B pairs using A's token; both sides get pairing.paired.
	writeEnvelopeWS(t, connB, v1.TypeDevicePair, v1.DevicePairPayload{Token: tokA.Token})

	pairedB := readEnvelopeWS(t, connB, 5*time.Second)
	if pairedB.Type != v1.TypePairingPaired {
		t.Fatalf("B event = %q, want %q", pairedB.Type, v1.TypePairingPaired)
	}
	pairedA := readEnvelopeWS(t, connA, 5*time.Second)
	if pairedA.Type != v1.TypePairingPaired {
		t.Fatalf("A event = %q, want %q", pairedA.Type, v1.TypePairingPaired)
	}

	var pa, pb v1.PairingPairedPayload
	if err := json.Unmarshal(pairedA.Payload, &pa); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if err := json.Unmarshal(pairedB.Payload, &pb); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if pa.RoomID == "" || pa.RoomID != pb.RoomID {
		t.Fatalf("room ids differ: %q vs %q", pa.RoomID, pb.RoomID)
	}

	// A sends a payload; B receives it; A must not see it echoed.
	writeEnvelopeWS(t, connA, v1.TypeRelaySend, v1.RelaySendPayload{Data: json.RawMessage(`{"n":"hi"}`)})

	msg := readEnvelopeWS(t, connB, 5*time.Second)
	if msg.Type != v1.TypeRelayMessage {
		t.Fatalf("B event = %q, want %q", msg.Type, v1.TypeRelayMessage)
	}
	var rp v1.RelayMessagePayload
	if err := json.Unmarshal(msg.Payload, &rp); err != nil {
		t.Fatalf("unmarshal relay payload: %v", err)
	}
	if string(rp.Data) != `{"n":"hi"}` {
		t.Fatalf("relayed data = %s", rp.Data)
	}

	// No echo back to A within a short window.
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	if _, _, err := connA.Read(ctx); err == nil {
		t.Fatalf("A received an unexpected event (echo?)")
	}
}

func TestGateway_GarbageTokenIsSilent(t *testing.T) {
	gw := newTestGateway(t)
	ts := startWSTestServer(t, gw)
	defer ts.Close()

	connA := dialWS(t, ts.URL)
	defer func() { _ = connA.Close(websocket.StatusNormalClosure, "bye") }()

	_ = readPairingToken(t, connA)

	writeEnvelopeWS(t, connA, v1.TypeDevicePair, v1.DevicePairPayload{Token: "garbage"})

	// No notification to anyone and no crash: the connection stays usable
	// and silent.
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	if _, _, err := connA.Read(ctx); err == nil {
		t.Fatalf("expected silence after a garbage pairing token")
	}
}

func TestGateway_TokenIsSingleUse(t *testing.T) {
	gw := newTestGateway(t)
	ts := startWSTestServer(t, gw)
	defer ts.Close()

	connA := dialWS(t, ts.URL)
	defer func() { _ = connA.Close(websocket.StatusNormalClosure, "bye") }()
	connB := dialWS(t, ts.URL)
	defer func() { _ = connB.Close(websocket.StatusNormalClosure, "bye") }()
	connC := dialWS(t, ts.URL)
	defer func() { _ = connC.Close(websocket.StatusNormalClosure, "bye") }()

	tokA := readPairingToken(t, connA)
	_ = readPairingToken(t, connB)
	_ = readPairingToken(t, connC)

	writeEnvelopeWS(t, connB, v1.TypeDevicePair, v1.DevicePairPayload{Token: tokA.Token})
	if env := readEnvelopeWS(t, connB, 5*time.Second); env.Type != v1.TypePairingPaired {
		t.Fatalf("B event = %q", env.Type)
	}
	if env := readEnvelopeWS(t, connA, 5*time.Second); env.Type != v1.TypePairingPaired {
		t.Fatalf("A event = %q", env.Type)
	}

	// Replay by a third connection is ignored.
	writeEnvelopeWS(t, connC, v1.TypeDevicePair, v1.DevicePairPayload{Token: tokA.Token})

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	if _, _, err := connC.Read(ctx); err == nil {
		t.Fatalf("replayed token must produce no notification")
	}
}

func TestGateway_DisconnectReleasesToken(t *testing.T) {
	gw := newTestGateway(t)
	ts := startWSTestServer(t, gw)
	defer ts.Close()

	connA := dialWS(t, ts.URL)
	connB := dialWS(t, ts.URL)
	defer func() { _ = connB.Close(websocket.StatusNormalClosure, "bye") }()

	tokA := readPairingToken(t, connA)
	_ = readPairingToken(t, connB)

	_ = connA.Close(websocket.StatusNormalClosure, "bye")

	// Give the server a moment to run the disconnect path.
	deadline := time.Now().Add(2 * time.Second)
	for gw.registry.Len() > 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	writeEnvelopeWS(t, connB, v1.TypeDevicePair, v1.DevicePairPayload{Token: tokA.Token})

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	if _, _, err := connB.Read(ctx); err == nil {
		t.Fatalf("token of a dead origin must not pair")
	}
}

func TestGateway_BusyRequesterCannotBurnLiveToken(t *testing.T) {
	gw := newTestGateway(t)
	ts := startWSTestServer(t, gw)
	defer ts.Close()

	connA := dialWS(t, ts.URL)
	defer func() { _ = connA.Close(websocket.StatusNormalClosure, "bye") }()
	connB := dialWS(t, ts.URL)
	defer func() { _ = connB.Close(websocket.StatusNormalClosure, "bye") }()
	connC := dialWS(t, ts.URL)
	defer func() { _ = connC.Close(websocket.StatusNormalClosure, "bye") }()
	connD := dialWS(t, ts.URL)
	defer func() { _ = connD.Close(websocket.StatusNormalClosure, "bye") }()

	tokA := readPairingToken(t, connA)
	_ = readPairingToken(t, connB)
	tokC := readPairingToken(t, connC)
	_ = readPairingToken(t, connD)

	writeEnvelopeWS(t, connB, v1.TypeDevicePair, v1.DevicePairPayload{Token: tokA.Token})
	if env := readEnvelopeWS(t, connB, 5*time.Second); env.Type != v1.TypePairingPaired {
		t.Fatalf("B event = %q", env.Type)
	}
	if env := readEnvelopeWS(t, connA, 5*time.Second); env.Type != v1.TypePairingPaired {
		t.Fatalf("A event = %q", env.Type)
	}

	// B is paired; its attempt on C's token must be ignored and must leave
	// the token alive.
	writeEnvelopeWS(t, connB, v1.TypeDevicePair, v1.DevicePairPayload{Token: tokC.Token})

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	if _, _, err := connB.Read(ctx); err == nil {
		cancel()
		t.Fatalf("paired requester must get no reply")
	}
	cancel()

	// C's token still pairs C with D.
	writeEnvelopeWS(t, connD, v1.TypeDevicePair, v1.DevicePairPayload{Token: tokC.Token})
	if env := readEnvelopeWS(t, connD, 5*time.Second); env.Type != v1.TypePairingPaired {
		t.Fatalf("D event = %q", env.Type)
	}
	if env := readEnvelopeWS(t, connC, 5*time.Second); env.Type != v1.TypePairingPaired {
		t.Fatalf("C event = %q", env.Type)
	}
}
