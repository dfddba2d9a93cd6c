package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store using PostgreSQL (schema "tether").
//
// Selected when TETHER_DATABASE_URL is configured; the in-memory store is the
// default mode. The pool lifecycle is owned by the app layer.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a Postgres-backed credential store.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, ErrInvalidInput
	}
	return &PostgresStore{pool: pool}, nil
}

// FindUserByEmail returns the user for a (lowercased) email.
func (s *PostgresStore) FindUserByEmail(ctx context.Context, email string) (User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return User{}, ErrInvalidInput
	}

	var u User
	err := s.pool.QueryRow(ctx, `
		SELECT id, subject_id, email, display_name, avatar_url, created_at
		FROM tether.users
		WHERE email = $1
	`, email).Scan(&u.ID, &u.SubjectID, &u.Email, &u.DisplayName, &u.AvatarURL, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, err
	}
	return u, nil
}

// CreateUser inserts a new user row.
// The schema carries a unique index on email; a concurrent first login for
// the same address surfaces as ErrUserExists, mirroring MemoryStore.
func (s *PostgresStore) CreateUser(ctx context.Context, u User) error {
	if u.ID == "" || u.Email == "" {
		return ErrInvalidInput
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO tether.users (id, subject_id, email, display_name, avatar_url, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, u.ID, u.SubjectID, u.Email, u.DisplayName, u.AvatarURL, u.CreatedAt)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
		return ErrUserExists
	}
	return err
}

// UpdateUserProfile refreshes display name and avatar to the latest verified values.
func (s *PostgresStore) UpdateUserProfile(ctx context.Context, userID, displayName, avatarURL string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE tether.users
		SET display_name = $2, avatar_url = $3
		WHERE id = $1
	`, userID, displayName, avatarURL)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// CreateDevice inserts a new device row.
func (s *PostgresStore) CreateDevice(ctx context.Context, d Device) error {
	if d.ID == "" || d.UserID == "" {
		return ErrInvalidInput
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO tether.devices (id, user_id, class, created_at)
		VALUES ($1, $2, $3, $4)
	`, d.ID, d.UserID, d.Class, d.CreatedAt)
	return err
}

// DeleteDevice removes a device row.
func (s *PostgresStore) DeleteDevice(ctx context.Context, deviceID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM tether.devices WHERE id = $1
	`, deviceID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// CreateRefreshBinding inserts a refresh-token binding row.
func (s *PostgresStore) CreateRefreshBinding(ctx context.Context, b RefreshBinding) error {
	if b.TokenHash == "" || b.UserID == "" || b.DeviceID == "" {
		return ErrInvalidInput
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO tether.refresh_tokens (token_hash, user_id, device_id, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
	`, b.TokenHash, b.UserID, b.DeviceID, b.CreatedAt, b.ExpiresAt)
	return err
}

// GetRefreshBinding returns the live binding for tokenHash.
// The expiry predicate runs in SQL so expired rows are never returned.
func (s *PostgresStore) GetRefreshBinding(ctx context.Context, tokenHash string, now time.Time) (RefreshBinding, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	var b RefreshBinding
	err := s.pool.QueryRow(ctx, `
		SELECT token_hash, user_id, device_id, created_at, expires_at
		FROM tether.refresh_tokens
		WHERE token_hash = $1 AND expires_at > $2
	`, tokenHash, now).Scan(&b.TokenHash, &b.UserID, &b.DeviceID, &b.CreatedAt, &b.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return RefreshBinding{}, ErrBindingNotFound
	}
	if err != nil {
		return RefreshBinding{}, err
	}
	return b, nil
}

// DeleteRefreshBindingsByDevice removes every binding for deviceID.
func (s *PostgresStore) DeleteRefreshBindingsByDevice(ctx context.Context, deviceID string) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM tether.refresh_tokens WHERE device_id = $1
	`, deviceID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
