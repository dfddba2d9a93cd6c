// Package session implements Tether's credential lifecycle.
//
// An external identity verifier turns an opaque assertion into a verified
// identity; the service finds-or-creates the user by email, mints a device
// record per issuance, and issues a token pair: a short-lived PASETO
// v4.public access token (validated by signature and expiry only, never by a
// store lookup) plus a longer-lived opaque refresh token validated strictly
// by presence among live store bindings. Unlinking a device revokes every
// refresh binding for that device.
//
// Refresh tokens are opaque random strings and are stored only as digests
// (HMAC-SHA256 when TETHER_TOKEN_HMAC_KEY is set; otherwise SHA-256 for dev).
package session
