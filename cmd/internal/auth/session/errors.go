package session

import "errors"

var (
	// ErrVerificationFailed is returned when the identity assertion cannot be verified.
	ErrVerificationFailed = errors.New("identity verification failed")

	// ErrInvalidToken is returned when a token fails verification or is not
	// found among live bindings.
	ErrInvalidToken = errors.New("invalid token")

	// ErrUserNotFound is returned by store lookups that miss.
	ErrUserNotFound = errors.New("user not found")

	// ErrUserExists is returned by CreateUser when the email is already
	// mapped to a user. The first-seen user id wins; callers re-run the
	// lookup instead of overwriting.
	ErrUserExists = errors.New("user already exists")

	// ErrBindingNotFound is returned when a refresh digest matches no live binding.
	ErrBindingNotFound = errors.New("refresh binding not found")

	// ErrInvalidInput is returned for malformed store/service inputs.
	ErrInvalidInput = errors.New("invalid input")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)
