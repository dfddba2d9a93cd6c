// Package pairing owns single-use pairing tokens.
//
// A token is issued to exactly one connection, lives for a bounded TTL, and
// can be consumed at most once. Every operation is a single critical section
// so a token can never be consumed twice under concurrent requests.
package pairing
