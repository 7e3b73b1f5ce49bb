package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultAccessTTL is the access token lifetime used when none is supplied.
const DefaultAccessTTL = 15 * time.Minute

// Claims is the access token claim set. Roles are a snapshot of the user's
// role names at issuance time; they may go stale until reissue.
type Claims struct {
	Roles []string `json:"rls,omitempty"`
	jwt.RegisteredClaims
}

// TokenCodec signs and verifies access tokens with the KeyManager's RSA
// keypair. A codec is safe for concurrent use once constructed.
type TokenCodec struct {
	keys     *KeyManager
	issuer   string
	audience string
	now      func() time.Time
}

// CodecOption configures TokenCodec behavior.
type CodecOption func(*TokenCodec)

// WithAudience sets the audience claim stamped into and required from tokens.
func WithAudience(aud string) CodecOption {
	return func(c *TokenCodec) {
		c.audience = strings.TrimSpace(aud)
	}
}

// WithCodecClock overrides the time source (useful for tests).
func WithCodecClock(fn func() time.Time) CodecOption {
	return func(c *TokenCodec) {
		if fn != nil {
			c.now = fn
		}
	}
}

// NewTokenCodec constructs a codec bound to the given key material and issuer.
func NewTokenCodec(keys *KeyManager, issuer string, opts ...CodecOption) *TokenCodec {
	c := &TokenCodec{
		keys:   keys,
		issuer: issuer,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Encode signs an access token for the subject with the given role snapshot.
// A zero ttl selects DefaultAccessTTL; a negative ttl produces an already
// expired token. Fails with ErrKeysNotInitialized if no private key exists.
func (c *TokenCodec) Encode(subject string, roles []string, ttl time.Duration) (string, time.Time, error) {
	if strings.TrimSpace(subject) == "" {
		return "", time.Time{}, errors.New("auth: subject is required")
	}
	key, err := c.keys.PrivateKey()
	if err != nil {
		return "", time.Time{}, err
	}
	if ttl == 0 {
		ttl = DefaultAccessTTL
	}

	now := c.now().UTC()
	exp := now.Add(ttl)
	claims := Claims{
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	if c.audience != "" {
		claims.Audience = jwt.ClaimStrings{c.audience}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Decode verifies signature and expiry and returns the claim set. The error
// is exactly one of ErrTokenExpired (signature valid, past expiry),
// ErrTokenInvalid (forged or malformed), or ErrKeysNotInitialized.
func (c *TokenCodec) Decode(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrTokenInvalid
	}
	key, err := c.keys.PublicKey()
	if err != nil {
		return nil, err
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(c.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return c.now().UTC() }),
	}
	if c.audience != "" {
		opts = append(opts, jwt.WithAudience(c.audience))
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		return key, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrTokenInvalid
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}
