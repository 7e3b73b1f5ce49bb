package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"accessd.org/internal/auth"
)

func TestExtractBearerToken(t *testing.T) {
	cases := []struct {
		name    string
		header  string
		want    string
		wantErr bool
	}{
		{name: "plain", header: "Bearer abc.def.ghi", want: "abc.def.ghi"},
		{name: "lowercase scheme", header: "bearer abc", want: "abc"},
		{name: "padded", header: "  Bearer abc  ", want: "abc"},
		{name: "empty", header: "", wantErr: true},
		{name: "wrong scheme", header: "Basic dXNlcjpwdw==", wantErr: true},
		{name: "scheme only", header: "Bearer ", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := extractBearerToken(tc.header)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got token %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestIsPublicPath(t *testing.T) {
	for _, p := range []string{"/healthz", "/v1/auth/login", "/v1/auth/keys", "/metrics", "/"} {
		if !isPublicPath(p) {
			t.Fatalf("%s must be public", p)
		}
	}
	for _, p := range []string{"/v1/private", "/v1/auth/login/extra", "/admin"} {
		if isPublicPath(p) {
			t.Fatalf("%s must not be public", p)
		}
	}
}

func TestRequireRole(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	guarded := RequireRole("admin")(ok)

	// No identity in context.
	rec := httptest.NewRecorder()
	guarded.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous request returned %d", rec.Code)
	}

	// Identity without the role.
	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req = req.WithContext(auth.ContextWithUser(req.Context(), "user-1", []string{"user"}))
	guarded.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("role-less request returned %d", rec.Code)
	}
	if rec.Header().Get("WWW-Authenticate") == "" {
		t.Fatal("missing WWW-Authenticate challenge")
	}

	// Identity with the role.
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req = req.WithContext(auth.ContextWithUser(req.Context(), "user-1", []string{"user", "admin"}))
	guarded.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("authorized request returned %d", rec.Code)
	}
}

func TestWithAuthExpiredToken(t *testing.T) {
	fx := newTestAPI(t)

	keys := testKeyManager(t)
	codec := auth.NewTokenCodec(keys, "accessd")
	expired, _, err := codec.Encode("user-1", nil, -time.Minute)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	req, _ := http.NewRequest(http.MethodGet, fx.srv.URL+"/v1/private", nil)
	req.Header.Set("Authorization", "Bearer "+expired)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expired token returned %d", resp.StatusCode)
	}
	body := decodeBody(t, resp.Body)
	if body["error"] != "token expired" {
		t.Fatalf("unexpected error body: %v", body)
	}
}
