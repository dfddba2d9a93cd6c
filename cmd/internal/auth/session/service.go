package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"tether/cmd/identity"
	"tether/cmd/identity/ids"
	"tether/cmd/security/token"
)

// DefaultDeviceClass is recorded when the caller supplies no device class.
const DefaultDeviceClass = "unknown"

// Service implements the high-level credential operations for Tether.
//
// It verifies identity assertions, finds-or-creates users, mints devices and
// token pairs, refreshes access tokens, and unlinks devices (revoking their
// refresh bindings).
type Service struct {
	cfg      Config
	log      *slog.Logger
	verifier identity.Verifier
	store    Store
	tokens   AccessTokenManager
}

// Issued is the result of a successful credential issuance.
type Issued struct {
	AccessToken  string
	AccessExp    time.Time
	RefreshToken string
	RefreshExp   time.Time

	DeviceID string
	User     User
}

// NewService constructs a Service. The access-token lifetime must be
// strictly shorter than the refresh-token lifetime regardless of how cfg was
// built; LoadConfigFromEnv checks the same bound for env-driven configs.
func NewService(cfg Config, log *slog.Logger, verifier identity.Verifier, store Store, tokens AccessTokenManager) (*Service, error) {
	if verifier == nil || store == nil || tokens == nil {
		return nil, ErrInvalidInput
	}
	if cfg.AccessTokenTTL <= 0 || cfg.AccessTokenTTL >= cfg.RefreshTokenTTL {
		return nil, ErrConfig
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{cfg: cfg, log: log, verifier: verifier, store: store, tokens: tokens}, nil
}

// VerifyAndIssue verifies an identity assertion, finds-or-creates the user by
// email, and mints a fresh device plus token pair.
//
// User identity is keyed by lowercased email: the first-seen user id is
// permanent, while display name and avatar always follow the latest verified
// values. Every successful call creates a new device record; repeated logins
// are modeled as distinct devices.
//
// The external verifier call runs under its own timeout and before any store
// mutation, so no shared lock is held while it is in flight.
func (s *Service) VerifyAndIssue(ctx context.Context, assertion, deviceClass string) (Issued, error) {
	now := time.Now().UTC()

	vctx, cancel := context.WithTimeout(ctx, s.cfg.VerifyTimeout)
	ident, err := s.verifier.Verify(vctx, assertion)
	cancel()
	if err != nil {
		s.log.Info("auth.verify.fail", "err", err)
		return Issued{}, ErrVerificationFailed
	}

	email := strings.ToLower(strings.TrimSpace(ident.Email))
	if email == "" {
		return Issued{}, ErrVerificationFailed
	}

	u, err := s.findOrCreateUser(ctx, email, ident, now)
	if err != nil {
		return Issued{}, err
	}

	deviceClass = strings.TrimSpace(deviceClass)
	if deviceClass == "" {
		deviceClass = DefaultDeviceClass
	}

	deviceID, err := ids.NewULID(now)
	if err != nil {
		return Issued{}, err
	}
	if err := s.store.CreateDevice(ctx, Device{
		ID:        deviceID,
		UserID:    u.ID,
		Class:     deviceClass,
		CreatedAt: now,
	}); err != nil {
		return Issued{}, err
	}

	refreshPlain, refreshHash, err := newOpaqueRefreshToken(s.cfg.RefreshTokenBytes)
	if err != nil {
		return Issued{}, err
	}
	refreshExp := now.Add(s.cfg.RefreshTokenTTL)

	if err := s.store.CreateRefreshBinding(ctx, RefreshBinding{
		TokenHash: refreshHash,
		UserID:    u.ID,
		DeviceID:  deviceID,
		CreatedAt: now,
		ExpiresAt: refreshExp,
	}); err != nil {
		return Issued{}, err
	}

	accessToken, accessExp, err := s.tokens.Issue(u.ID, deviceID, now)
	if err != nil {
		return Issued{}, err
	}

	s.log.Info("auth.issue", "user_id", u.ID, "device_id", deviceID, "device_class", deviceClass)

	return Issued{
		AccessToken:  accessToken,
		AccessExp:    accessExp,
		RefreshToken: refreshPlain,
		RefreshExp:   refreshExp,
		DeviceID:     deviceID,
		User:         u,
	}, nil
}

// findOrCreateUser resolves the user for a verified email.
//
// The first-seen user id wins and is never reassigned: CreateUser fails with
// ErrUserExists when another call inserted the email first, in which case the
// loser re-runs the lookup and adopts the winner's id. For an existing user
// the latest verified profile values win.
func (s *Service) findOrCreateUser(ctx context.Context, email string, ident identity.Identity, now time.Time) (User, error) {
	u, err := s.store.FindUserByEmail(ctx, email)
	if errors.Is(err, ErrUserNotFound) {
		userID, idErr := ids.NewULID(now)
		if idErr != nil {
			return User{}, idErr
		}
		u = User{
			ID:          userID,
			SubjectID:   ident.SubjectID,
			Email:       email,
			DisplayName: ident.DisplayName,
			AvatarURL:   ident.AvatarURL,
			CreatedAt:   now,
		}

		err = s.store.CreateUser(ctx, u)
		if err == nil {
			s.log.Info("auth.user.create", "user_id", u.ID)
			return u, nil
		}
		if !errors.Is(err, ErrUserExists) {
			return User{}, err
		}

		// Lost the create race; fall through to the existing-user path.
		u, err = s.store.FindUserByEmail(ctx, email)
	}
	if err != nil {
		return User{}, err
	}

	if err := s.store.UpdateUserProfile(ctx, u.ID, ident.DisplayName, ident.AvatarURL); err != nil {
		return User{}, err
	}
	u.DisplayName = ident.DisplayName
	u.AvatarURL = ident.AvatarURL
	return u, nil
}

// Refresh mints a new access token for the (user, device) bound to
// refreshTokenPlain. The refresh token itself is validated solely by presence
// among live bindings and is not rotated.
func (s *Service) Refresh(ctx context.Context, refreshTokenPlain string) (accessToken string, exp time.Time, err error) {
	refreshTokenPlain = strings.TrimSpace(refreshTokenPlain)
	// Basic sanity bounds to avoid pathological inputs.
	if refreshTokenPlain == "" || len(refreshTokenPlain) > 4096 {
		return "", time.Time{}, ErrInvalidToken
	}

	now := time.Now().UTC()

	// Hash the refresh token in-memory (the plain token is never persisted).
	hash := token.HashBearerTokenHex(refreshTokenPlain)

	b, err := s.store.GetRefreshBinding(ctx, hash, now)
	if err != nil {
		if errors.Is(err, ErrBindingNotFound) {
			return "", time.Time{}, ErrInvalidToken
		}
		return "", time.Time{}, err
	}

	return s.tokens.Issue(b.UserID, b.DeviceID, now)
}

// Unlink removes the device and every refresh binding bound to it, so the
// device can no longer mint access tokens. Unlinking an unknown device is a
// no-op, not an error.
func (s *Service) Unlink(ctx context.Context, deviceID string) error {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return nil
	}

	existed, err := s.store.DeleteDevice(ctx, deviceID)
	if err != nil {
		return err
	}

	revoked, err := s.store.DeleteRefreshBindingsByDevice(ctx, deviceID)
	if err != nil {
		return err
	}

	if existed || revoked > 0 {
		s.log.Info("auth.unlink", "device_id", deviceID, "bindings_revoked", revoked)
	}
	return nil
}

// ValidateAccessToken verifies an access token by signature and expiry only.
func (s *Service) ValidateAccessToken(tokenStr string, now time.Time) (AccessClaims, error) {
	return s.tokens.Verify(tokenStr, now)
}
