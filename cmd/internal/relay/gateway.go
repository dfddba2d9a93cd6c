package relay

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"tether/cmd/identity/ids"
	"tether/cmd/internal/pairing"

	v1 "tether/shared/contracts/pairing/v1"

	"github.com/coder/websocket"
)

const (
	wsSubprotocolV1 = "tether.pairing.v1"

	wsDefaultSendQueueSize = 256
	wsMinSendQueueSize     = 32

	wsDefaultWriteTimeout = 5 * time.Second
	wsDefaultReadIdle     = 2 * time.Minute
	wsCloseGrace          = 1 * time.Second

	wsMaxPingFailures = 3

	// Security defaults:
	// - Origin is required by default.
	// - Only localhost is allowed by default (secure-by-default for dev).
	wsDefaultOriginRequired = true
	wsDefaultAllowedOrigins = "http://localhost,http://127.0.0.1"
)

// Metrics is the gateway's observability hook.
// The app layer provides a Prometheus-backed implementation.
type Metrics interface {
	ConnOpened()
	ConnClosed()
	PairingFormed()
	Relayed()
}

// NopMetrics is the default no-op Metrics implementation.
type NopMetrics struct{}

func (NopMetrics) ConnOpened()    {}
func (NopMetrics) ConnClosed()    {}
func (NopMetrics) PairingFormed() {}
func (NopMetrics) Relayed()       {}

// Gateway is the websocket entrypoint for Tether pairing and relay.
//
// It enforces origin policy, subprotocol selection, rate limits, heartbeats,
// and drives the per-connection pairing state machine: on attach a pairing
// token is issued and pushed to the connection; a device.pair event consumes
// a peer's token and forms a room; relay.send fans out to the other member.
type Gateway struct {
	log      *slog.Logger
	registry *pairing.Registry
	rooms    *Manager
	metrics  Metrics

	// Live clients by connection id, so a consumed pairing token can be
	// resolved back to its origin connection.
	clientsMu sync.Mutex
	clients   map[string]*Client

	devInsecure    bool
	originRequired bool
	allowedOrigins []string

	// Derived for websocket.Accept origin checks.
	originPatterns []string

	writeTimeout    time.Duration
	readIdleTimeout time.Duration
	sendQueueSize   int

	heartbeatEvery   time.Duration
	heartbeatTimeout time.Duration

	rateEvents int
	rateWindow time.Duration
}

// NewGateway constructs a gateway with secure defaults.
// When registry/rooms are nil, fresh in-memory instances are used.
func NewGateway(log *slog.Logger, registry *pairing.Registry, rooms *Manager, metrics Metrics) *Gateway {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if registry == nil {
		registry, _ = pairing.NewRegistry()
	}
	if rooms == nil {
		rooms = NewManager(log)
	}
	if metrics == nil {
		metrics = NopMetrics{}
	}

	g := &Gateway{
		log:      log,
		registry: registry,
		rooms:    rooms,
		metrics:  metrics,
		clients:  make(map[string]*Client),
	}

	// NOTE: InsecureSkipVerify is a dev-only knob (TLS verification). It is not an origin policy.
	g.devInsecure = envBoolWS("TETHER_WS_DEV_INSECURE", false)

	g.originRequired = envBoolWS("TETHER_WS_ORIGIN_REQUIRED", wsDefaultOriginRequired)
	g.allowedOrigins = envCSVWS("TETHER_WS_ALLOWED_ORIGINS", wsDefaultAllowedOrigins)

	// websocket.Accept enforces its own origin policy: same-host is ok,
	// cross-origin requires OriginPatterns (host patterns). Derive the
	// patterns from the allowlist so the two layers agree.
	g.originPatterns = deriveOriginPatternsFromAllowedOrigins(g.allowedOrigins)

	g.writeTimeout = envDurationWS("TETHER_WS_WRITE_TIMEOUT", wsDefaultWriteTimeout)
	g.readIdleTimeout = envDurationWS("TETHER_WS_READ_IDLE_TIMEOUT", wsDefaultReadIdle)

	g.sendQueueSize = envIntWS("TETHER_WS_SEND_QUEUE", wsDefaultSendQueueSize)
	if g.sendQueueSize < wsMinSendQueueSize {
		g.sendQueueSize = wsMinSendQueueSize
	}

	g.heartbeatEvery = envDurationWS("TETHER_WS_HEARTBEAT_INTERVAL", heartbeatInterval)
	g.heartbeatTimeout = envDurationWS("TETHER_WS_HEARTBEAT_TIMEOUT", heartbeatTimeout)

	g.rateEvents = envIntWS("TETHER_WS_RATE_EVENTS", rateLimitEvents)
	g.rateWindow = envDurationWS("TETHER_WS_RATE_WINDOW", rateLimitWindow)

	return g
}

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS upgrades an HTTP request to a websocket session and runs the
// pairing/relay loop until disconnect.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{wsSubprotocolV1},
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.devInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != wsSubprotocolV1 {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", wsSubprotocolV1)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	conn.SetReadLimit(maxFrameBytes)

	now := time.Now().UTC()
	connID, err := ids.NewULID(now)
	if err != nil {
		g.log.Error("ws.conn_id.fail", "err", err)
		_ = conn.Close(websocket.StatusInternalError, "id generation failed")
		return
	}

	client := NewClient(connID, g.sendQueueSize)
	g.registerClient(client)
	g.metrics.ConnOpened()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var closeOnce sync.Once

	// shutdown is idempotent. It does NOT close client.Send.
	// Teardown order matters: registry release and room teardown happen
	// before client.Close so a token never resolves to a dead connection.
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			g.registry.Release(connID)
			g.rooms.Leave(connID)
			g.unregisterClient(connID)

			client.Close()
			_ = conn.Close(code, reason)
			cancel()

			g.metrics.ConnClosed()
			g.log.Info("ws.disconnect", "conn_id", connID, "reason", reason)
		})
	}

	// Attach: issue a pairing token and push it to the connection.
	tok, expiresAt, err := g.registry.Issue(connID, now)
	if err != nil {
		g.log.Error("ws.pairing.issue.fail", "conn_id", connID, "err", err)
		shutdown(websocket.StatusInternalError, "token issue failed")
		return
	}

	tokPayload, _ := json.Marshal(v1.PairingTokenPayload{Token: tok, ExpiresAt: expiresAt})
	if !g.enqueue(ctx, client, newEnvelope(v1.TypePairingToken, tokPayload, now)) {
		shutdown(websocket.StatusAbnormalClosure, "backpressure: pairing.token")
		return
	}

	g.log.Info("ws.attach", "conn_id", connID)

	rl := NewRateLimiter(g.rateEvents, g.rateWindow)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case env := <-client.Send:
				if err := writeEnvelope(ctx, conn, env, g.writeTimeout); err != nil {
					g.log.Info("ws.write.fail", "conn_id", connID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.heartbeatEvery)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.heartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					g.log.Info("ws.ping.fail", "conn_id", connID, "failures", failures, "err", err)
					if failures >= wsMaxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.readIdleTimeout)
		env, err := readEnvelope(readCtx, conn)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
				break readLoop
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
				break readLoop
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
				break readLoop
			case readErrBadJSON:
				g.trySendError(ctx, client, "bad_json", "invalid JSON")
				continue readLoop
			default:
				g.log.Info("ws.read.fail", "conn_id", connID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
				break readLoop
			}
		}

		evNow := time.Now().UTC()
		if !rl.Allow(evNow) {
			g.trySendError(ctx, client, "rate_limited", "too many events")
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		if err := env.Validate(); err != nil {
			g.trySendError(ctx, client, "bad_envelope", err.Error())
			continue readLoop
		}

		switch env.Type {
		case v1.TypeDevicePair:
			// Pairing failures are deliberately silent: replayed, expired,
			// or garbage tokens produce no reply at all.
			g.onDevicePair(ctx, client, env, evNow)

		case v1.TypeRelaySend:
			g.onRelaySend(ctx, client, env, evNow)

		default:
			g.trySendError(ctx, client, "unsupported", fmt.Sprintf("unsupported type: %s", env.Type))
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
}

// ---- handlers ----

func (g *Gateway) onDevicePair(ctx context.Context, client *Client, env v1.Envelope, now time.Time) {
	var p v1.DevicePairPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return
	}

	// An already-paired connection must not consume anyone's live token:
	// a failed attempt may not change registry state.
	if _, busy := g.rooms.RoomOf(client.ConnID); busy {
		g.log.Info("ws.pair.requester_busy", "conn_id", client.ConnID)
		return
	}

	originConnID, issuedAt, ok := g.registry.ResolveAndConsume(p.Token, client.ConnID, now)
	if !ok {
		g.log.Info("ws.pair.ignore", "conn_id", client.ConnID)
		return
	}

	origin := g.lookupClient(originConnID)
	if origin == nil {
		// Origin raced a disconnect after the token was consumed; its
		// disconnect path already released the token, so it stays dead.
		g.log.Info("ws.pair.origin_gone", "conn_id", client.ConnID, "origin", originConnID)
		return
	}

	roomID, ok := g.rooms.FormRoom(p.Token, origin, client)
	if !ok {
		// Hand the token back: the origin is still waiting for a peer.
		g.registry.Restore(p.Token, originConnID, issuedAt)
		g.log.Info("ws.pair.room_fail", "conn_id", client.ConnID, "origin", originConnID)
		return
	}

	g.metrics.PairingFormed()

	// Both members are paired now; their own still-pending tokens must not
	// resolve anymore.
	g.registry.Release(origin.ConnID)
	g.registry.Release(client.ConnID)

	pairedPayload, _ := json.Marshal(v1.PairingPairedPayload{RoomID: roomID})
	paired := newEnvelope(v1.TypePairingPaired, pairedPayload, now)

	g.enqueue(ctx, client, paired)
	g.enqueue(ctx, origin, paired)
}

func (g *Gateway) onRelaySend(ctx context.Context, client *Client, env v1.Envelope, now time.Time) {
	var p v1.RelaySendPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		g.trySendError(ctx, client, "bad_payload", "invalid relay payload")
		return
	}
	if len(p.Data) == 0 {
		g.trySendError(ctx, client, "bad_payload", "missing data")
		return
	}

	outPayload, _ := json.Marshal(v1.RelayMessagePayload{Data: p.Data})
	out := newEnvelope(v1.TypeRelayMessage, outPayload, now)

	// Unpaired senders are a silent no-op.
	if g.rooms.Relay(client.ConnID, out) {
		g.metrics.Relayed()
	}
}

// ---- client index ----

func (g *Gateway) registerClient(c *Client) {
	g.clientsMu.Lock()
	g.clients[c.ConnID] = c
	g.clientsMu.Unlock()
}

func (g *Gateway) unregisterClient(connID string) {
	g.clientsMu.Lock()
	delete(g.clients, connID)
	g.clientsMu.Unlock()
}

func (g *Gateway) lookupClient(connID string) *Client {
	g.clientsMu.Lock()
	defer g.clientsMu.Unlock()
	return g.clients[connID]
}

// ---- send helpers ----

func (g *Gateway) trySendError(ctx context.Context, client *Client, code, msg string) {
	p, _ := json.Marshal(v1.ErrorPayload{Code: code, Message: msg})
	env := newEnvelope(v1.TypeError, p, time.Now().UTC())
	_ = g.enqueue(ctx, client, env)
}

func (g *Gateway) enqueue(ctx context.Context, client *Client, env v1.Envelope) bool {
	select {
	case <-ctx.Done():
		return false
	case <-client.Done():
		return false
	case client.Send <- env:
		return true
	default:
		return false
	}
}

// ---- envelope IO ----

func newEnvelope(typ string, payload json.RawMessage, ts time.Time) v1.Envelope {
	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      newEventID(),
		TS:      ts,
		Payload: payload,
	}
}

// newEventID returns a random hex id for outbound envelopes. Ids are for
// client-side correlation and logs only; nothing server-side keys on them,
// so a failed rand read degrades to an empty id instead of erroring.
func newEventID() string {
	b := make([]byte, 10)
	if _, err := rand.Read(b); err != nil {
		return ""
	}
	return hex.EncodeToString(b)
}

func readEnvelope(ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return v1.Envelope{}, fmt.Errorf("unsupported message type: %v", mt)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, err
	}
	return env, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadJSON
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}

	// JSON decode errors are typically returned by json.Unmarshal, not conn.Read.
	// This fallback exists for robustness when error strings are propagated.
	s := err.Error()
	if strings.Contains(s, "unexpected end of JSON input") || strings.Contains(s, "invalid character") {
		return readErrBadJSON
	}
	return readErrUnknown
}

// ---- origin policy ----

func (g *Gateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.originRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(g.allowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)

	for _, a := range g.allowedOrigins {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if a == "*" {
			// Strongly discouraged, but honored if explicitly configured.
			return nil
		}

		// Full origin match (scheme + host + optional port).
		if origin == a {
			return nil
		}

		// Host match fallback (ignores port/scheme).
		if originHost != "" && originHost == originHostOnly(a) {
			return nil
		}
	}

	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	// URL form.
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		h := strings.TrimSpace(u.Host)
		if h == "" {
			return ""
		}
		if host, _, err := net.SplitHostPort(h); err == nil {
			return strings.ToLower(host)
		}
		return strings.ToLower(h)
	}

	// host[:port] form.
	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

func deriveOriginPatternsFromAllowedOrigins(allowed []string) []string {
	// websocket.Accept matches OriginPatterns against the origin host using
	// filepath.Match patterns. Keep this strict: only hosts extracted from
	// the allowlist are accepted.
	seen := make(map[string]struct{}, len(allowed))

	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" || h == "*" {
			continue
		}
		seen[h] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}

	sort.Strings(out)
	return out
}

// ---- env helpers ----

func envBoolWS(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envIntWS(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDurationWS(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func envCSVWS(key string, def string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		raw = def
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
