package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"accessd.org/internal/auth"
)

var (
	pkgKeysOnce sync.Once
	pkgKeys     *auth.KeyManager
)

func testKeyManager(t *testing.T) *auth.KeyManager {
	t.Helper()
	pkgKeysOnce.Do(func() {
		pkgKeys = auth.NewKeyManager()
		if err := pkgKeys.Generate(2048); err != nil {
			t.Fatalf("Generate: %v", err)
		}
	})
	return pkgKeys
}

type fakeSessions struct {
	mu     sync.Mutex
	seq    int
	tokens map[string]auth.SessionToken
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{tokens: make(map[string]auth.SessionToken)}
}

func (f *fakeSessions) Create(_ context.Context, userID string, ttl time.Duration) (*auth.SessionToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ttl <= 0 {
		ttl = auth.DefaultRefreshTTL
	}
	f.seq++
	now := time.Now().UTC()
	tok := auth.SessionToken{
		Token:     fmt.Sprintf("refresh-%d", f.seq),
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	f.tokens[tok.Token] = tok
	return &tok, nil
}

func (f *fakeSessions) GetByToken(_ context.Context, value string) (*auth.SessionToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tok, ok := f.tokens[value]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return &tok, nil
}

func (f *fakeSessions) Consume(_ context.Context, value string) (*auth.SessionToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tok, ok := f.tokens[value]
	if !ok {
		return nil, auth.ErrNotFound
	}
	delete(f.tokens, value)
	return &tok, nil
}

func (f *fakeSessions) DeleteByToken(_ context.Context, value string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tokens[value]; !ok {
		return false, nil
	}
	delete(f.tokens, value)
	return true, nil
}

func (f *fakeSessions) DeleteAllForUser(_ context.Context, userID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for k, tok := range f.tokens {
		if tok.UserID == userID {
			delete(f.tokens, k)
			n++
		}
	}
	return n, nil
}

func (f *fakeSessions) DeleteExpiredBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for k, tok := range f.tokens {
		if !tok.ExpiresAt.After(cutoff) {
			delete(f.tokens, k)
			n++
		}
	}
	return n, nil
}

type fakeUsers struct {
	mu      sync.Mutex
	seq     int
	byID    map[string]*auth.User
	byEmail map[string]*auth.User
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{byID: make(map[string]*auth.User), byEmail: make(map[string]*auth.User)}
}

func (f *fakeUsers) Create(_ context.Context, u *auth.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byEmail[u.Email]; ok {
		return auth.ErrUserAlreadyExists
	}
	if u.ID == "" {
		f.seq++
		u.ID = fmt.Sprintf("user-%d", f.seq)
	}
	cp := *u
	f.byID[cp.ID] = &cp
	f.byEmail[cp.Email] = &cp
	return nil
}

func (f *fakeUsers) GetByID(_ context.Context, id string) (*auth.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUsers) GetByEmail(_ context.Context, email string) (*auth.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byEmail[email]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUsers) UpdatePassword(_ context.Context, userID, passwordHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[userID]
	if !ok {
		return auth.ErrNotFound
	}
	u.PasswordHash = passwordHash
	return nil
}

type recordMailer struct {
	mu   sync.Mutex
	code string
}

func (m *recordMailer) SendPasswordResetEmail(_ context.Context, _, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.code = code
	return nil
}

func (m *recordMailer) lastCode() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.code
}

type apiFixture struct {
	api    *API
	srv    *httptest.Server
	mailer *recordMailer
}

func newTestAPI(t *testing.T) *apiFixture {
	t.Helper()
	keys := testKeyManager(t)
	mailer := &recordMailer{}
	svc := auth.NewService(
		newFakeUsers(),
		newFakeSessions(),
		auth.NewTokenCodec(keys, "accessd"),
		auth.WithMailer(mailer),
	)
	api := New(ReadyProbe{}, "test", svc, keys)
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)
	return &apiFixture{api: api, srv: srv, mailer: mailer}
}

func postJSON(t *testing.T, url string, body any, headers map[string]string) (int, map[string]any) {
	t.Helper()
	buf, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()
	return resp.StatusCode, decodeBody(t, resp.Body)
}

func getJSON(t *testing.T, url string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	return resp.StatusCode, decodeBody(t, resp.Body)
}

func decodeBody(t *testing.T, r io.Reader) map[string]any {
	t.Helper()
	raw, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	var out map[string]any
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal body %q: %v", raw, err)
	}
	return out
}

func registerUser(t *testing.T, srvURL, email, password string) map[string]any {
	t.Helper()
	code, body := postJSON(t, srvURL+"/v1/auth/register", map[string]string{
		"firstname": "Test",
		"lastname":  "User",
		"email":     email,
		"password":  password,
	}, nil)
	if code != http.StatusCreated {
		t.Fatalf("register returned %d: %v", code, body)
	}
	return body
}
