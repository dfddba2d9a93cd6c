package identity

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"
)

func TestInsecureVerifier_DecodesAssertion(t *testing.T) {
	assertion := base64.RawURLEncoding.EncodeToString(
		[]byte(`{"sub":"sub-1","email":"Alice@Example.com","name":" Alice ","avatar":"a.png"}`))

	ident, err := InsecureVerifier{}.Verify(context.Background(), assertion)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if ident.SubjectID != "sub-1" || ident.Email != "alice@example.com" {
		t.Fatalf("ident = %+v", ident)
	}
	if ident.DisplayName != "Alice" {
		t.Fatalf("display name not trimmed: %q", ident.DisplayName)
	}
}

func TestInsecureVerifier_BlankAssertionIsInvalidInput(t *testing.T) {
	if _, err := (InsecureVerifier{}).Verify(context.Background(), "  "); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

func TestInsecureVerifier_GarbageAssertionFails(t *testing.T) {
	cases := []string{
		"not-base64url!!",
		base64.RawURLEncoding.EncodeToString([]byte(`not json`)),
		base64.RawURLEncoding.EncodeToString([]byte(`{"sub":"","email":"a@b.c"}`)),
		base64.RawURLEncoding.EncodeToString([]byte(`{"sub":"s","email":""}`)),
	}
	for _, assertion := range cases {
		if _, err := (InsecureVerifier{}).Verify(context.Background(), assertion); !errors.Is(err, ErrVerificationFailed) {
			t.Fatalf("assertion %q: err = %v, want ErrVerificationFailed", assertion, err)
		}
	}
}
