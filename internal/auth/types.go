package auth

import "time"

// User represents an account in the multi-tenant user base. The password hash
// is opaque bytes, mutated only through password reset or change.
type User struct {
	ID           string    `json:"id"`
	FirstName    string    `json:"firstname"`
	LastName     string    `json:"lastname"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Roles        []Role    `json:"roles,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// FullName joins first and last name for display purposes.
func (u *User) FullName() string {
	if u.FirstName == "" {
		return u.LastName
	}
	if u.LastName == "" {
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}

// RoleNames returns the names of the user's assigned roles, in stored order.
func (u *User) RoleNames() []string {
	if len(u.Roles) == 0 {
		return nil
	}
	names := make([]string, 0, len(u.Roles))
	for _, r := range u.Roles {
		names = append(names, r.Name)
	}
	return names
}

// Role is immutable reference data, many-to-many with User.
type Role struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// DefaultRoleName is assigned to every user at registration.
const DefaultRoleName = "user"

// SessionToken is a persisted refresh credential. The token value is the
// primary key and is never reused; rotation deletes the old row and inserts
// a new one, never updates in place.
type SessionToken struct {
	Token     string    `json:"token"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the session is past its expiry at the given time.
func (s *SessionToken) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

// TokenPair carries the access and refresh tokens issued together. They are
// never issued independently.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}
