// Package v1 defines the Tether Pairing Protocol v1 contract.
//
// This package is intentionally stable and dependency-light.
// It is shared between server and clients to keep the wire protocol authoritative.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Type constants (wire-stable).
const (
	// TypePairingToken delivers a freshly issued pairing token (server -> client).
	TypePairingToken = "pairing.token"

	// TypeDevicePair requests joining the room of the token's issuer (client -> server).
	TypeDevicePair = "device.pair"

	// TypePairingPaired announces pairing success to both room members (server -> client).
	TypePairingPaired = "pairing.paired"

	// TypeRelaySend carries an application payload to relay (client -> server).
	TypeRelaySend = "relay.send"

	// TypeRelayMessage delivers a relayed payload to the other room member (server -> client).
	TypeRelayMessage = "relay.message"

	// TypeError is a generic error envelope (server -> client).
	TypeError = "error"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}

	switch e.Type {
	case TypePairingToken,
		TypeDevicePair,
		TypePairingPaired,
		TypeRelaySend,
		TypeRelayMessage,
		TypeError:
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// ---- Payloads ----

// PairingTokenPayload is pushed to a connection right after attach.
// The token is single-use and expires at ExpiresAt.
type PairingTokenPayload struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// DevicePairPayload asks the server to pair this connection with the
// connection that was issued Token.
type DevicePairPayload struct {
	Token string `json:"token"`
}

// PairingPairedPayload confirms room formation to both members.
type PairingPairedPayload struct {
	RoomID string `json:"room_id"`
}

// RelaySendPayload wraps an opaque application payload.
// The server never inspects Data.
type RelaySendPayload struct {
	Data json.RawMessage `json:"data"`
}

// RelayMessagePayload delivers an opaque application payload to the other
// room member.
type RelayMessagePayload struct {
	Data json.RawMessage `json:"data"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
