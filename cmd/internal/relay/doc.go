// Package relay implements Tether's two-member relay rooms and the websocket
// gateway that drives the per-connection pairing state machine.
//
// A room is formed when a pairing token is consumed, holds exactly two
// connections, and dies with the first departure. Payloads are opaque: the
// relay fans them out to the other member only and never inspects them.
package relay
