package session

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryStore is the default single-process Store implementation.
// All maps are guarded by one mutex; every operation is a critical section.
type MemoryStore struct {
	mu sync.Mutex

	usersByID     map[string]User
	userIDByEmail map[string]string
	devices       map[string]Device
	bindings      map[string]RefreshBinding // token hash -> binding
}

// NewMemoryStore constructs an empty in-memory credential store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		usersByID:     make(map[string]User),
		userIDByEmail: make(map[string]string),
		devices:       make(map[string]Device),
		bindings:      make(map[string]RefreshBinding),
	}
}

// FindUserByEmail returns the user for email, or ErrUserNotFound.
func (s *MemoryStore) FindUserByEmail(ctx context.Context, email string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return User{}, ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.userIDByEmail[email]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return s.usersByID[id], nil
}

// CreateUser inserts a new user record. The email mapping is insert-only:
// a second create for the same email fails with ErrUserExists so the
// first-seen user id is never reassigned.
func (s *MemoryStore) CreateUser(ctx context.Context, u User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if u.ID == "" || u.Email == "" {
		return ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.userIDByEmail[u.Email]; taken {
		return ErrUserExists
	}

	s.usersByID[u.ID] = u
	s.userIDByEmail[u.Email] = u.ID
	return nil
}

// UpdateUserProfile refreshes display name and avatar for userID.
func (s *MemoryStore) UpdateUserProfile(ctx context.Context, userID, displayName, avatarURL string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.usersByID[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.DisplayName = displayName
	u.AvatarURL = avatarURL
	s.usersByID[userID] = u
	return nil
}

// CreateDevice inserts a new device record.
func (s *MemoryStore) CreateDevice(ctx context.Context, d Device) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d.ID == "" || d.UserID == "" {
		return ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.devices[d.ID] = d
	return nil
}

// DeleteDevice removes a device record.
func (s *MemoryStore) DeleteDevice(ctx context.Context, deviceID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, existed := s.devices[deviceID]
	delete(s.devices, deviceID)
	return existed, nil
}

// CreateRefreshBinding inserts a refresh-token binding.
func (s *MemoryStore) CreateRefreshBinding(ctx context.Context, b RefreshBinding) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.TokenHash == "" || b.UserID == "" || b.DeviceID == "" {
		return ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.bindings[b.TokenHash] = b
	return nil
}

// GetRefreshBinding returns the live binding for tokenHash.
// Expired entries are treated as absent and reclaimed on the way out.
func (s *MemoryStore) GetRefreshBinding(ctx context.Context, tokenHash string, now time.Time) (RefreshBinding, error) {
	if err := ctx.Err(); err != nil {
		return RefreshBinding{}, err
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bindings[tokenHash]
	if !ok {
		return RefreshBinding{}, ErrBindingNotFound
	}
	if !b.ExpiresAt.After(now) {
		delete(s.bindings, tokenHash)
		return RefreshBinding{}, ErrBindingNotFound
	}
	return b, nil
}

// DeleteRefreshBindingsByDevice removes every binding owned by deviceID.
func (s *MemoryStore) DeleteRefreshBindingsByDevice(ctx context.Context, deviceID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for hash, b := range s.bindings {
		if b.DeviceID == deviceID {
			delete(s.bindings, hash)
			n++
		}
	}
	return n, nil
}
