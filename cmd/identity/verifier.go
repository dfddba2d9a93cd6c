package identity

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
)

// Identity is the verified identity tuple returned by a Verifier.
type Identity struct {
	SubjectID   string
	Email       string
	DisplayName string
	AvatarURL   string
}

// Verifier validates an opaque identity assertion.
//
// Implementations typically call an external provider and must respect ctx
// (callers apply their own timeout; the credential service holds no locks
// while a Verify call is in flight).
type Verifier interface {
	Verify(ctx context.Context, assertion string) (Identity, error)
}

// InsecureVerifier accepts base64url-encoded JSON assertions of the form
// {"sub":...,"email":...,"name":...,"avatar":...} without any signature
// check. Dev and test use only; production deployments must plug a real
// provider-backed Verifier.
type InsecureVerifier struct{}

type insecureAssertion struct {
	Sub    string `json:"sub"`
	Email  string `json:"email"`
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
}

// Verify decodes the assertion and returns the claimed identity.
func (InsecureVerifier) Verify(_ context.Context, assertion string) (Identity, error) {
	assertion = strings.TrimSpace(assertion)
	if assertion == "" {
		return Identity{}, ErrInvalidInput
	}

	raw, err := base64.RawURLEncoding.DecodeString(assertion)
	if err != nil {
		return Identity{}, ErrVerificationFailed
	}

	var a insecureAssertion
	if err := json.Unmarshal(raw, &a); err != nil {
		return Identity{}, ErrVerificationFailed
	}

	sub := strings.TrimSpace(a.Sub)
	email := strings.ToLower(strings.TrimSpace(a.Email))
	if sub == "" || email == "" {
		return Identity{}, ErrVerificationFailed
	}

	return Identity{
		SubjectID:   sub,
		Email:       email,
		DisplayName: strings.TrimSpace(a.Name),
		AvatarURL:   strings.TrimSpace(a.Avatar),
	}, nil
}
