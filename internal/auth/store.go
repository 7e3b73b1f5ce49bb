package auth

import (
	"context"
	"time"
)

// DefaultRefreshTTL is the session token lifetime used when none is configured.
const DefaultRefreshTTL = 7 * 24 * time.Hour

// SessionStore persists session/refresh tokens keyed by token value. All
// mutation goes through single-row atomic operations; the store is the only
// mutable resource shared between request handlers and the sweeper.
type SessionStore interface {
	// Create generates a cryptographically random token value and inserts a
	// row expiring at now+ttl.
	Create(ctx context.Context, userID string, ttl time.Duration) (*SessionToken, error)

	// GetByToken looks a session up by exact token value. Returns ErrNotFound
	// when absent.
	GetByToken(ctx context.Context, value string) (*SessionToken, error)

	// Consume atomically deletes the row for the given token value and
	// returns it. Under a race on the same value at most one caller receives
	// the row; the rest get ErrNotFound. This is the rotation primitive.
	Consume(ctx context.Context, value string) (*SessionToken, error)

	// DeleteByToken removes a single row, reporting whether one was removed.
	DeleteByToken(ctx context.Context, value string) (bool, error)

	// DeleteAllForUser removes every session belonging to the user.
	DeleteAllForUser(ctx context.Context, userID string) (int64, error)

	// DeleteExpiredBefore bulk-deletes rows whose expiry is at or before the
	// cutoff. Used only by the sweeper.
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// UserRepository is the persistence port for users and their role
// assignments. Email uniqueness is enforced by the implementation.
type UserRepository interface {
	// Create inserts the user and its role assignments in one transaction,
	// so a failed role assignment never leaves a half-initialized user.
	Create(ctx context.Context, u *User) error

	// GetByID loads a user with roles. Returns ErrNotFound when absent.
	GetByID(ctx context.Context, id string) (*User, error)

	// GetByEmail loads a user with roles by unique email. Returns ErrNotFound
	// when absent.
	GetByEmail(ctx context.Context, email string) (*User, error)

	// UpdatePassword replaces the stored password hash.
	UpdatePassword(ctx context.Context, userID, passwordHash string) error
}

// Mailer delivers password reset mail. Delivery failures are logged by the
// caller, never fatal to the request.
type Mailer interface {
	SendPasswordResetEmail(ctx context.Context, email, code string) error
}
