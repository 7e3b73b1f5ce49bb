package auth

import "errors"

var (
	// Business-rule failures. Expected outcomes returned to callers and
	// mapped to client-facing status codes at the boundary.
	ErrUserNotFound       = errors.New("auth: user not found")
	ErrUserAlreadyExists  = errors.New("auth: user already exists")
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrInvalidRefresh     = errors.New("auth: invalid refresh token")
	ErrLogoutFailed       = errors.New("auth: logout failed")

	// Token validation failures. Expired and forged tokens are distinct
	// outcomes; upstream handling differs.
	ErrTokenExpired = errors.New("auth: token expired")
	ErrTokenInvalid = errors.New("auth: token invalid")

	// Key lifecycle failures indicate a startup-ordering bug. Fatal during
	// initialization, never recoverable per-request.
	ErrKeysNotInitialized     = errors.New("auth: signing keys not initialized")
	ErrKeysAlreadyInitialized = errors.New("auth: signing keys already initialized")

	// ErrStoreUnavailable wraps persistence faults. Never downgraded to a
	// business rejection.
	ErrStoreUnavailable = errors.New("auth: store unavailable")

	// ErrNotFound is the store-level absence marker.
	ErrNotFound = errors.New("auth: not found")
)
