package auth

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memSessionStore struct {
	mu         sync.Mutex
	seq        int
	tokens     map[string]SessionToken
	consumeErr error
}

func newMemSessionStore() *memSessionStore {
	return &memSessionStore{tokens: make(map[string]SessionToken)}
}

func (m *memSessionStore) Create(_ context.Context, userID string, ttl time.Duration) (*SessionToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ttl <= 0 {
		ttl = DefaultRefreshTTL
	}
	m.seq++
	now := time.Now().UTC()
	tok := SessionToken{
		Token:     fmt.Sprintf("session-%d", m.seq),
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	m.tokens[tok.Token] = tok
	return &tok, nil
}

func (m *memSessionStore) GetByToken(_ context.Context, value string) (*SessionToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.tokens[value]
	if !ok {
		return nil, ErrNotFound
	}
	return &tok, nil
}

func (m *memSessionStore) Consume(_ context.Context, value string) (*SessionToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.consumeErr != nil {
		return nil, m.consumeErr
	}
	tok, ok := m.tokens[value]
	if !ok {
		return nil, ErrNotFound
	}
	delete(m.tokens, value)
	return &tok, nil
}

func (m *memSessionStore) DeleteByToken(_ context.Context, value string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tokens[value]; !ok {
		return false, nil
	}
	delete(m.tokens, value)
	return true, nil
}

func (m *memSessionStore) DeleteAllForUser(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, tok := range m.tokens {
		if tok.UserID == userID {
			delete(m.tokens, k)
			n++
		}
	}
	return n, nil
}

func (m *memSessionStore) DeleteExpiredBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, tok := range m.tokens {
		if !tok.ExpiresAt.After(cutoff) {
			delete(m.tokens, k)
			n++
		}
	}
	return n, nil
}

func (m *memSessionStore) put(tok SessionToken) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[tok.Token] = tok
}

func (m *memSessionStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tokens)
}

type memUserRepo struct {
	mu      sync.Mutex
	seq     int
	byID    map[string]*User
	byEmail map[string]*User
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{byID: make(map[string]*User), byEmail: make(map[string]*User)}
}

func (m *memUserRepo) Create(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byEmail[u.Email]; ok {
		return ErrUserAlreadyExists
	}
	if u.ID == "" {
		m.seq++
		u.ID = fmt.Sprintf("user-%d", m.seq)
	}
	cp := *u
	m.byID[cp.ID] = &cp
	m.byEmail[cp.Email] = &cp
	return nil
}

func (m *memUserRepo) GetByID(_ context.Context, id string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memUserRepo) GetByEmail(_ context.Context, email string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byEmail[email]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memUserRepo) UpdatePassword(_ context.Context, userID, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[userID]
	if !ok {
		return ErrNotFound
	}
	u.PasswordHash = passwordHash
	return nil
}

func newTestService(t *testing.T, opts ...ServiceOption) (*Service, *memUserRepo, *memSessionStore) {
	t.Helper()
	users := newMemUserRepo()
	store := newMemSessionStore()
	codec := NewTokenCodec(testKeys(t), "test-issuer")
	return NewService(users, store, codec, opts...), users, store
}

func TestServiceRegister(t *testing.T) {
	svc, users, store := newTestService(t)
	ctx := context.Background()

	pair, user, err := svc.Register(ctx, "Ada", "Lovelace", "Ada@Example.com ", "pw-123456")
	require.NoError(t, err)
	require.NotNil(t, user)

	assert.Equal(t, "ada@example.com", user.Email)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.NotEqual(t, "pw-123456", user.PasswordHash)
	assert.True(t, VerifyPassword(user.PasswordHash, "pw-123456"))
	assert.Equal(t, []string{DefaultRoleName}, user.RoleNames())
	assert.Equal(t, 1, store.count())

	stored, err := users.GetByEmail(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, user.ID, stored.ID)

	claims, err := svc.Authenticate(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.Subject)
	assert.Equal(t, []string{DefaultRoleName}, claims.Roles)
}

func TestServiceRegisterDuplicate(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, _, err := svc.Register(ctx, "Ada", "Lovelace", "ada@example.com", "pw-123456")
	require.NoError(t, err)

	_, _, err = svc.Register(ctx, "Other", "Person", "ada@example.com", "pw-different")
	assert.ErrorIs(t, err, ErrUserAlreadyExists)
}

func TestServiceLogin(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, _, err := svc.Register(ctx, "Ada", "Lovelace", "ada@example.com", "pw-123456")
	require.NoError(t, err)

	pair, user, err := svc.Login(ctx, "ada@example.com", "pw-123456")
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	assert.Equal(t, "ada@example.com", user.Email)

	_, _, err = svc.Login(ctx, "ada@example.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, _, err = svc.Login(ctx, "nobody@example.com", "pw-123456")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestServiceRefreshRotates(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	pair, user, err := svc.Register(ctx, "Ada", "Lovelace", "ada@example.com", "pw-123456")
	require.NoError(t, err)

	next, nextUser, err := svc.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, nextUser.ID)
	assert.NotEqual(t, pair.RefreshToken, next.RefreshToken)

	// The presented value was consumed; replaying it must fail.
	_, _, err = svc.Refresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidRefresh)

	// The rotated value still works.
	_, _, err = svc.Refresh(ctx, next.RefreshToken)
	require.NoError(t, err)
}

func TestServiceRefreshConcurrentSingleWinner(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	pair, _, err := svc.Register(ctx, "Ada", "Lovelace", "ada@example.com", "pw-123456")
	require.NoError(t, err)

	const racers = 16
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	start := make(chan struct{})
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, _, err := svc.Refresh(ctx, pair.RefreshToken); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, wins, "exactly one refresh may win the race")
}

func TestServiceRefreshExpiredRow(t *testing.T) {
	svc, users, store := newTestService(t)
	ctx := context.Background()

	user := &User{Email: "ada@example.com", PasswordHash: "hash"}
	require.NoError(t, users.Create(ctx, user))

	// A row past expiry that the sweeper has not reclaimed yet.
	stale := SessionToken{
		Token:     "stale-token",
		UserID:    user.ID,
		CreatedAt: time.Now().Add(-9 * 24 * time.Hour),
		ExpiresAt: time.Now().Add(-2 * 24 * time.Hour),
	}
	store.put(stale)

	_, _, err := svc.Refresh(ctx, "stale-token")
	assert.ErrorIs(t, err, ErrInvalidRefresh)
	// Rejection also consumed the row.
	assert.Equal(t, 0, store.count())
}

func TestServiceRefreshStoreDown(t *testing.T) {
	svc, _, store := newTestService(t)
	ctx := context.Background()

	store.consumeErr = storeErr("consume session", fmt.Errorf("connection refused"))

	_, _, err := svc.Refresh(ctx, "whatever")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.NotErrorIs(t, err, ErrInvalidRefresh, "infra failure must not read as a rejected token")
}

func TestServiceLogoutSingle(t *testing.T) {
	svc, _, store := newTestService(t)
	ctx := context.Background()

	pair, _, err := svc.Register(ctx, "Ada", "Lovelace", "ada@example.com", "pw-123456")
	require.NoError(t, err)

	deleted, err := svc.Logout(ctx, pair.AccessToken, pair.RefreshToken, "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
	assert.Equal(t, 0, store.count())

	// Already gone.
	_, err = svc.Logout(ctx, pair.AccessToken, pair.RefreshToken, "")
	assert.ErrorIs(t, err, ErrLogoutFailed)
}

func TestServiceLogoutAll(t *testing.T) {
	svc, _, store := newTestService(t)
	ctx := context.Background()

	pair, _, err := svc.Register(ctx, "Ada", "Lovelace", "ada@example.com", "pw-123456")
	require.NoError(t, err)
	_, _, err = svc.Login(ctx, "ada@example.com", "pw-123456")
	require.NoError(t, err)
	_, _, err = svc.Login(ctx, "ada@example.com", "pw-123456")
	require.NoError(t, err)
	require.Equal(t, 3, store.count())

	deleted, err := svc.Logout(ctx, pair.AccessToken, "", LogoutScopeAll)
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)
	assert.Equal(t, 0, store.count())

	_, err = svc.Logout(ctx, pair.AccessToken, "", LogoutScopeAll)
	assert.ErrorIs(t, err, ErrLogoutFailed)
}

func TestServiceLogoutForeignSession(t *testing.T) {
	svc, _, store := newTestService(t)
	ctx := context.Background()

	pairA, _, err := svc.Register(ctx, "Ada", "Lovelace", "ada@example.com", "pw-123456")
	require.NoError(t, err)
	pairB, _, err := svc.Register(ctx, "Bob", "Builder", "bob@example.com", "pw-654321")
	require.NoError(t, err)

	// Ada's access token cannot remove Bob's session.
	_, err = svc.Logout(ctx, pairA.AccessToken, pairB.RefreshToken, "")
	assert.ErrorIs(t, err, ErrLogoutFailed)
	assert.Equal(t, 2, store.count())
}

func TestServiceLogoutBadAccessToken(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Logout(context.Background(), "garbage", "whatever", "")
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestServicePasswordReset(t *testing.T) {
	mailer := &captureMailer{}
	svc, _, _ := newTestService(t, WithMailer(mailer))
	ctx := context.Background()

	_, user, err := svc.Register(ctx, "Ada", "Lovelace", "ada@example.com", "old-password")
	require.NoError(t, err)

	require.NoError(t, svc.ResetPasswordRequest(ctx, "ada@example.com"))
	require.NotEmpty(t, mailer.code, "a reset token must have been mailed")

	claims, err := svc.Authenticate(mailer.code)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.Subject)

	require.NoError(t, svc.ResetPassword(ctx, mailer.code, "new-password"))

	_, _, err = svc.Login(ctx, "ada@example.com", "old-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, _, err = svc.Login(ctx, "ada@example.com", "new-password")
	assert.NoError(t, err)
}

func TestServicePasswordResetUnknownEmail(t *testing.T) {
	svc, _, _ := newTestService(t)

	err := svc.ResetPasswordRequest(context.Background(), "ghost@example.com")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

type captureMailer struct {
	email string
	code  string
}

func (m *captureMailer) SendPasswordResetEmail(_ context.Context, email, code string) error {
	m.email = email
	m.code = code
	return nil
}
