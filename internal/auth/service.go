package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"accessd.org/internal/obs"
)

// LogoutScopeAll deletes every session belonging to the token subject.
const LogoutScopeAll = "all"

// defaultResetTTL bounds how long a password reset token stays usable.
const defaultResetTTL = 30 * time.Minute

// Service orchestrates login, registration, refresh, and logout by composing
// the hasher, codec, and stores. It is the only component with business-level
// error semantics.
type Service struct {
	users  UserRepository
	store  SessionStore
	codec  *TokenCodec
	mailer Mailer
	now    func() time.Time

	accessTTL  time.Duration
	refreshTTL time.Duration
	resetTTL   time.Duration
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if ttl > 0 {
			s.accessTTL = ttl
		}
	}
}

// WithRefreshTTL configures session token lifetime.
func WithRefreshTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
	}
}

// WithResetTTL configures password reset token lifetime.
func WithResetTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if ttl > 0 {
			s.resetTTL = ttl
		}
	}
}

// WithMailer wires the outbound mail collaborator.
func WithMailer(m Mailer) ServiceOption {
	return func(s *Service) {
		if m != nil {
			s.mailer = m
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs the auth service with optional configuration.
func NewService(users UserRepository, store SessionStore, codec *TokenCodec, opts ...ServiceOption) *Service {
	s := &Service{
		users:      users,
		store:      store,
		codec:      codec,
		now:        time.Now,
		accessTTL:  DefaultAccessTTL,
		refreshTTL: DefaultRefreshTTL,
		resetTTL:   defaultResetTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates a user with a hashed password and the default "user" role,
// then logs it in, returning both tokens. Fails with ErrUserAlreadyExists
// when the email is taken.
func (s *Service) Register(ctx context.Context, firstname, lastname, email, password string) (TokenPair, *User, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return TokenPair{}, nil, ErrInvalidCredentials
	}

	_, err := s.users.GetByEmail(ctx, email)
	switch {
	case err == nil:
		return TokenPair{}, nil, ErrUserAlreadyExists
	case !errors.Is(err, ErrNotFound):
		return TokenPair{}, nil, err
	}

	hash, err := HashPassword(password)
	if err != nil {
		return TokenPair{}, nil, fmt.Errorf("hash password: %w", err)
	}
	user := &User{
		FirstName:    strings.TrimSpace(firstname),
		LastName:     strings.TrimSpace(lastname),
		Email:        email,
		PasswordHash: hash,
		Roles:        []Role{{Name: DefaultRoleName}},
	}
	if err := s.users.Create(ctx, user); err != nil {
		return TokenPair{}, nil, err
	}

	return s.Login(ctx, email, password)
}

// Login verifies credentials, then mints an access token carrying the user's
// current role names and persists a new session row. Tokens are always
// issued as a pair.
func (s *Service) Login(ctx context.Context, email, password string) (TokenPair, *User, error) {
	email = normalizeEmail(email)
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TokenPair{}, nil, ErrUserNotFound
		}
		return TokenPair{}, nil, err
	}
	if !VerifyPassword(user.PasswordHash, password) {
		return TokenPair{}, nil, ErrInvalidCredentials
	}

	pair, err := s.mintPair(ctx, user)
	if err != nil {
		return TokenPair{}, nil, err
	}
	return pair, user, nil
}

// Refresh rotates a session token on use: the presented value is atomically
// consumed, and a fresh pair is issued for the same user. A value with no
// matching row, including one already consumed, fails ErrInvalidRefresh.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, *User, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return TokenPair{}, nil, ErrInvalidRefresh
	}

	tok, err := s.store.Consume(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TokenPair{}, nil, ErrInvalidRefresh
		}
		return TokenPair{}, nil, err
	}
	// The row may outlive its expiry until the sweeper catches it. Consume
	// already removed it, so rejecting here costs nothing.
	if tok.Expired(s.now().UTC()) {
		return TokenPair{}, nil, ErrInvalidRefresh
	}

	user, err := s.users.GetByID(ctx, tok.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TokenPair{}, nil, ErrUserNotFound
		}
		return TokenPair{}, nil, err
	}

	pair, err := s.mintPair(ctx, user)
	if err != nil {
		return TokenPair{}, nil, err
	}
	return pair, user, nil
}

// Logout requires a decodable access token. Scope "all" deletes every
// session of the subject; otherwise only the presented refresh value is
// removed, and only if it belongs to the subject. Zero deleted rows is
// reported as ErrLogoutFailed: the token was already gone, which is a valid
// terminal outcome, not an infrastructure fault.
func (s *Service) Logout(ctx context.Context, accessToken, refreshToken, scope string) (int64, error) {
	claims, err := s.codec.Decode(accessToken)
	if err != nil {
		return 0, err
	}

	if scope == LogoutScopeAll {
		n, err := s.store.DeleteAllForUser(ctx, claims.Subject)
		if err != nil {
			return 0, err
		}
		if n == 0 {
			return 0, ErrLogoutFailed
		}
		return n, nil
	}

	tok, err := s.store.GetByToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return 0, ErrLogoutFailed
		}
		return 0, err
	}
	if tok.UserID != claims.Subject {
		return 0, ErrLogoutFailed
	}
	deleted, err := s.store.DeleteByToken(ctx, refreshToken)
	if err != nil {
		return 0, err
	}
	if !deleted {
		// The sweeper or a concurrent logout won the race. First deleter wins.
		return 0, ErrLogoutFailed
	}
	return 1, nil
}

// ResetPasswordRequest mints a short-lived reset token for the account and
// hands it to the mailer. Mail delivery failure is logged, not fatal.
func (s *Service) ResetPasswordRequest(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrUserNotFound
		}
		return err
	}

	token, _, err := s.codec.Encode(user.ID, nil, s.resetTTL)
	if err != nil {
		return err
	}
	if s.mailer == nil {
		return nil
	}
	if err := s.mailer.SendPasswordResetEmail(ctx, user.Email, token); err != nil {
		obs.LogRequest(map[string]any{
			"level": "error",
			"msg":   "password reset mail delivery failed",
			"error": err.Error(),
		})
	}
	return nil
}

// ResetPassword decodes the reset token to recover the subject, then
// re-hashes and persists the new password.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	claims, err := s.codec.Decode(token)
	if err != nil {
		return err
	}
	user, err := s.users.GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrUserNotFound
		}
		return err
	}

	hash, err := HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.users.UpdatePassword(ctx, user.ID, hash); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrUserNotFound
		}
		return err
	}
	return nil
}

// Authenticate validates an access token and returns its claims. Used by the
// HTTP boundary's bearer middleware.
func (s *Service) Authenticate(token string) (*Claims, error) {
	return s.codec.Decode(token)
}

func (s *Service) mintPair(ctx context.Context, user *User) (TokenPair, error) {
	access, accessExp, err := s.codec.Encode(user.ID, user.RoleNames(), s.accessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	session, err := s.store.Create(ctx, user.ID, s.refreshTTL)
	if err != nil {
		return TokenPair{}, err
	}
	obs.TokenIssued()
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     session.Token,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: session.ExpiresAt,
	}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
