package httpapi

import (
	"net/http"
	"strings"
	"time"

	"accessd.org/internal/audit"
	"accessd.org/internal/auth"
	"accessd.org/internal/obs"
)

type registerRequest struct {
	FirstName string `json:"firstname"`
	LastName  string `json:"lastname"`
	Email     string `json:"email"`
	Password  string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope,omitempty"`
}

type resetRequestBody struct {
	Email string `json:"email"`
}

type resetBody struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

func pairResponse(pair auth.TokenPair) tokenResponse {
	return tokenResponse{
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		TokenType:        "Bearer",
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshExpiresAt: pair.RefreshExpiresAt,
	}
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "email and password are required")
		return
	}

	pair, user, err := a.svc.Register(r.Context(), req.FirstName, req.LastName, req.Email, req.Password)
	if err != nil {
		code, msg := businessStatus(err)
		writeError(w, r, code, msg)
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.user.registered", map[string]any{
		"user_id": user.ID,
		"email":   user.Email,
	})
	writeJSON(w, http.StatusCreated, pairResponse(pair))
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	a.login(w, r, req.Email, req.Password)
}

// handleToken is the form-style counterpart of login, for OAuth2-shaped
// password clients (username field carries the email).
func (a *API) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if err := r.ParseForm(); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid form body")
		return
	}
	a.login(w, r, r.PostFormValue("username"), r.PostFormValue("password"))
}

func (a *API) login(w http.ResponseWriter, r *http.Request, email, password string) {
	pair, user, err := a.svc.Login(r.Context(), email, password)
	if err != nil {
		switch {
		case err == auth.ErrUserNotFound:
			obs.LoginAttempt("not_found")
		case err == auth.ErrInvalidCredentials:
			obs.LoginAttempt("invalid")
		default:
			obs.LoginAttempt("error")
		}
		code, msg := businessStatus(err)
		writeError(w, r, code, msg)
		return
	}

	obs.LoginAttempt("ok")
	_ = audit.LogEvent(r.Context(), "auth.token.issued", map[string]any{
		"user_id":    user.ID,
		"roles":      user.RoleNames(),
		"expires_at": pair.AccessExpiresAt.Format(time.RFC3339),
	})
	writeJSON(w, http.StatusOK, pairResponse(pair))
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	pair, user, err := a.svc.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		code, msg := businessStatus(err)
		writeError(w, r, code, msg)
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.token.refreshed", map[string]any{
		"user_id": user.ID,
	})
	writeJSON(w, http.StatusOK, pairResponse(pair))
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	accessToken, err := extractBearerToken(r.Header.Get(authHeader))
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, err.Error())
		return
	}
	var req logoutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	deleted, err := a.svc.Logout(r.Context(), accessToken, req.RefreshToken, req.Scope)
	if err != nil {
		code, msg := businessStatus(err)
		writeError(w, r, code, msg)
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.logout", map[string]any{
		"scope":   req.Scope,
		"deleted": deleted,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "logged_out",
		"deleted": deleted,
	})
}

func (a *API) handleResetRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req resetRequestBody
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	if err := a.svc.ResetPasswordRequest(r.Context(), req.Email); err != nil {
		code, msg := businessStatus(err)
		writeError(w, r, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "reset_requested"})
}

func (a *API) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req resetBody
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "password is required")
		return
	}

	if err := a.svc.ResetPassword(r.Context(), req.Token, req.Password); err != nil {
		code, msg := businessStatus(err)
		writeError(w, r, code, msg)
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.password.reset", nil)
	writeJSON(w, http.StatusOK, map[string]any{"status": "password_reset"})
}

// handlePublicKey publishes the verification key for external callers. The
// private key never leaves the process.
func (a *API) handlePublicKey(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	pemBytes, err := a.keys.PublicKeyPEM()
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "keys not initialized")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"algorithm":      "RS256",
		"public_key_pem": string(pemBytes),
	})
}
