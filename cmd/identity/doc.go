// Package identity defines the external identity-verification boundary.
//
// Tether never checks passwords or third-party signatures itself: an opaque
// identity assertion is handed to a Verifier, which either returns the
// verified identity of the caller or fails. Audience/issuer constraints are
// enforced entirely inside the Verifier implementation.
package identity
