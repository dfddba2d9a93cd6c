package session

import (
	"context"
	"time"
)

// User is Tether's canonical principal, created on first verified login for
// an email and never deleted. Display name and avatar follow the latest
// verified values.
type User struct {
	ID          string
	SubjectID   string
	Email       string
	DisplayName string
	AvatarURL   string

	CreatedAt time.Time
}

// Device is one issuance of credentials for a user: the unit of revocation.
type Device struct {
	ID     string
	UserID string
	Class  string

	CreatedAt time.Time
}

// RefreshBinding associates a refresh-token digest with a (user, device)
// pair. The plain refresh token is never stored.
type RefreshBinding struct {
	TokenHash string
	UserID    string
	DeviceID  string

	CreatedAt time.Time
	ExpiresAt time.Time
}

// Store is the credential persistence boundary.
//
// Implementations must make each operation atomic with respect to concurrent
// callers. Lookups against refresh bindings are exact-match against live
// entries only: an expired or deleted binding must never be found.
type Store interface {
	// FindUserByEmail returns the user for a (lowercased) email, or ErrUserNotFound.
	FindUserByEmail(ctx context.Context, email string) (User, error)

	// CreateUser inserts a new user record.
	CreateUser(ctx context.Context, u User) error

	// UpdateUserProfile refreshes display name and avatar to the latest verified values.
	UpdateUserProfile(ctx context.Context, userID, displayName, avatarURL string) error

	// CreateDevice inserts a new device record.
	CreateDevice(ctx context.Context, d Device) error

	// DeleteDevice removes a device record; existed reports whether it was present.
	DeleteDevice(ctx context.Context, deviceID string) (existed bool, err error)

	// CreateRefreshBinding inserts a refresh-token binding.
	CreateRefreshBinding(ctx context.Context, b RefreshBinding) error

	// GetRefreshBinding returns the live binding for tokenHash.
	// Expired or absent bindings yield ErrBindingNotFound.
	GetRefreshBinding(ctx context.Context, tokenHash string, now time.Time) (RefreshBinding, error)

	// DeleteRefreshBindingsByDevice removes every binding for deviceID and
	// returns how many were removed. This is the unlink revocation cascade.
	DeleteRefreshBindingsByDevice(ctx context.Context, deviceID string) (int, error)
}
