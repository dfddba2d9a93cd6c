// Package token provides server-side digests for opaque bearer tokens.
//
// Refresh and pairing tokens are random opaque strings; only their digest is
// ever stored. With TETHER_TOKEN_HMAC_KEY set the digest is HMAC-SHA256,
// otherwise plain SHA-256 (dev fallback).
package token
