package pairing

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"time"
)

const (
	defaultTokenBytes = 32
	defaultTTL        = 5 * time.Minute
)

// ErrInvalidInput is returned for malformed registry inputs.
var ErrInvalidInput = errors.New("invalid input")

type entry struct {
	connID    string
	createdAt time.Time
}

// Registry maps live pairing tokens to the connection that requested them.
//
// Expired entries are treated as absent by ResolveAndConsume even when still
// physically present; Sweep reclaims them.
type Registry struct {
	mu      sync.Mutex
	entries map[string]entry

	ttl        time.Duration
	tokenBytes int
}

// Option configures the Registry.
type Option func(*Registry) error

// WithTTL sets the pairing token lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(r *Registry) error {
		if ttl <= 0 {
			return ErrInvalidInput
		}
		r.ttl = ttl
		return nil
	}
}

// WithTokenBytes sets the length of generated tokens in bytes.
func WithTokenBytes(n int) Option {
	return func(r *Registry) error {
		if n <= 0 {
			return ErrInvalidInput
		}
		r.tokenBytes = n
		return nil
	}
}

// NewRegistry constructs a Registry with safe defaults.
func NewRegistry(opts ...Option) (*Registry, error) {
	r := &Registry{
		entries:    make(map[string]entry),
		ttl:        defaultTTL,
		tokenBytes: defaultTokenBytes,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// TTL returns the configured token lifetime.
func (r *Registry) TTL() time.Duration { return r.ttl }

// Issue generates a fresh unique token for connID and records it.
// It also lazily reclaims expired entries.
func (r *Registry) Issue(connID string, now time.Time) (token string, expiresAt time.Time, err error) {
	connID = strings.TrimSpace(connID)
	if connID == "" {
		return "", time.Time{}, ErrInvalidInput
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	token, err = newOpaqueToken(r.tokenBytes)
	if err != nil {
		return "", time.Time{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.sweepLocked(now)
	r.entries[token] = entry{connID: connID, createdAt: now}

	return token, now.Add(r.ttl), nil
}

// ResolveAndConsume atomically looks up and removes the entry for token.
//
// It reports ok=false when the token was never issued, already consumed,
// expired, or was issued to the requesting connection itself. Callers treat
// ok=false as a silent no-op: replayed or malformed pairing attempts are
// ignored rather than rejected loudly. issuedAt is returned so a caller whose
// follow-up work fails can hand the entry back via Restore without resetting
// its age.
func (r *Registry) ResolveAndConsume(token, requesterConnID string, now time.Time) (originConnID string, issuedAt time.Time, ok bool) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", time.Time{}, false
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, found := r.entries[token]
	if !found {
		return "", time.Time{}, false
	}
	if now.Sub(e.createdAt) >= r.ttl {
		delete(r.entries, token)
		return "", time.Time{}, false
	}
	if e.connID == requesterConnID {
		// A connection cannot pair with itself. Leave the token live for
		// the legitimate peer.
		return "", time.Time{}, false
	}

	delete(r.entries, token)
	return e.connID, e.createdAt, true
}

// Restore re-inserts a previously consumed entry with its original issue
// time, so a pairing attempt that consumed the token but failed afterwards
// leaves no trace. Entries whose lifetime has already elapsed are not
// resurrected.
func (r *Registry) Restore(token, originConnID string, issuedAt time.Time) {
	token = strings.TrimSpace(token)
	if token == "" || originConnID == "" || issuedAt.IsZero() {
		return
	}
	if time.Now().UTC().Sub(issuedAt) >= r.ttl {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[token] = entry{connID: originConnID, createdAt: issuedAt}
}

// Release drops every entry whose origin is connID.
// Called on disconnect so a token can never resolve to a dead connection.
func (r *Registry) Release(connID string) {
	if connID == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for tok, e := range r.entries {
		if e.connID == connID {
			delete(r.entries, tok)
		}
	}
}

// Sweep reclaims expired entries and returns how many were removed.
func (r *Registry) Sweep(now time.Time) int {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sweepLocked(now)
}

// Len reports the number of live entries (for metrics and tests).
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *Registry) sweepLocked(now time.Time) int {
	n := 0
	for tok, e := range r.entries {
		if now.Sub(e.createdAt) >= r.ttl {
			delete(r.entries, tok)
			n++
		}
	}
	return n
}

func newOpaqueToken(nBytes int) (string, error) {
	if nBytes <= 0 {
		nBytes = defaultTokenBytes
	}
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
