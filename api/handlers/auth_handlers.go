package handlers

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"chapel-auth/config"
	"chapel-auth/core/auth"
	"chapel-auth/core/rbac"
	"chapel-auth/core/store"
	"chapel-auth/core/utils"
)

const (
	defaultEventsLimit = 100
	maxEventsLimit     = 1000
)

type AuthHandler struct {
	cfg    *config.AppConfig
	authn  *auth.Authenticator
	policy *rbac.Policy
	logger *utils.Logger
}

func NewAuthHandler(cfg *config.AppConfig, authn *auth.Authenticator, policy *rbac.Policy, logger *utils.Logger) *AuthHandler {
	return &AuthHandler{cfg: cfg, authn: authn, policy: policy, logger: logger}
}

type loginResponse struct {
	Success     bool          `json:"success"`
	Message     string        `json:"message"`
	User        *auth.UserDTO `json:"user"`
	AccessToken string        `json:"accessToken"`
	ExpiresAt   time.Time     `json:"expiresAt"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var cred auth.Credentials
	if err := decodeJSON(w, r, &cred); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid input")
		return
	}
	meta := auth.RequestMetaFromContext(r.Context())
	res, err := h.authn.Login(r.Context(), cred, meta)
	if err != nil {
		h.writeAuthError(w, r, err)
		return
	}
	h.setSessionCookies(w, r, res.Tokens)
	h.logger.Printf("AUTH login %s from %s", res.User.Username, meta.IP)
	writeJSON(w, http.StatusOK, loginResponse{
		Success:     true,
		Message:     "Login successful",
		User:        res.User,
		AccessToken: res.Tokens.AccessToken,
		ExpiresAt:   res.Tokens.AccessExpiresAt,
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// Refresh takes the refresh token from its cookie, falling back to the body
// for non-browser clients.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	raw := refreshTokenFromRequest(w, r)
	if raw == "" {
		writeError(w, http.StatusUnauthorized, "Refresh token required")
		return
	}
	res, err := h.authn.Refresh(r.Context(), raw, auth.RequestMetaFromContext(r.Context()))
	if err != nil {
		if auth.IsTokenFailure(err) {
			clearTokenCookie(w, r, h.cfg, RefreshCookieName, refreshCookiePath)
			writeError(w, http.StatusUnauthorized, "Invalid or expired refresh token")
			return
		}
		h.writeAuthError(w, r, err)
		return
	}
	h.setSessionCookies(w, r, res.Tokens)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"user":        res.User,
		"accessToken": res.Tokens.AccessToken,
		"expiresAt":   res.Tokens.AccessExpiresAt,
	})
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFromContext(r.Context())
	raw := refreshTokenFromRequest(w, r)
	if err := h.authn.Logout(r.Context(), id, raw, auth.RequestMetaFromContext(r.Context())); err != nil {
		h.logger.Errorf("AUTH logout: %v", err)
	}
	clearTokenCookie(w, r, h.cfg, AccessCookieName, "/")
	clearTokenCookie(w, r, h.cfg, RefreshCookieName, refreshCookiePath)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Logged out successfully"})
}

func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFromContext(r.Context())
	user, err := h.authn.Verify(r.Context(), id)
	if err != nil {
		h.writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "user": user})
}

// Session is served behind the optional guard and never fails for anonymous
// callers.
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"authenticated": true,
		"user": &auth.UserDTO{
			ID:          id.UserID,
			Username:    id.Username,
			Role:        id.Role,
			Permissions: id.Permissions,
		},
		"expiresAt": id.ExpiresAt,
	})
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid input")
		return
	}
	id, _ := auth.IdentityFromContext(r.Context())
	err := h.authn.ChangePassword(r.Context(), id, req.CurrentPassword, req.NewPassword, auth.RequestMetaFromContext(r.Context()))
	if errors.Is(err, auth.ErrInvalidCredentials) {
		writeError(w, http.StatusUnauthorized, "Current password is incorrect")
		return
	}
	if err != nil {
		h.writeAuthError(w, r, err)
		return
	}
	clearTokenCookie(w, r, h.cfg, RefreshCookieName, refreshCookiePath)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Password changed successfully"})
}

func (h *AuthHandler) SecurityEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := defaultEventsLimit
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid input")
			return
		}
		limit = n
	}
	if limit > maxEventsLimit {
		limit = maxEventsLimit
	}
	events, err := h.authn.SecurityEvents(r.Context(), store.AuditFilter{
		Username: strings.TrimSpace(q.Get("username")),
		Kind:     store.EventKind(strings.TrimSpace(q.Get("kind"))),
		Limit:    limit,
	})
	if err != nil {
		h.writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "events": events})
}

func (h *AuthHandler) setSessionCookies(w http.ResponseWriter, r *http.Request, tokens *auth.TokenPair) {
	setTokenCookie(w, r, h.cfg, AccessCookieName, "/", tokens.AccessToken, tokens.AccessExpiresAt)
	setTokenCookie(w, r, h.cfg, RefreshCookieName, refreshCookiePath, tokens.RefreshToken, tokens.RefreshExpiresAt)
}

func refreshTokenFromRequest(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(RefreshCookieName); err == nil && strings.TrimSpace(c.Value) != "" {
		return strings.TrimSpace(c.Value)
	}
	if r.Body == nil || r.ContentLength == 0 {
		return ""
	}
	var body refreshRequest
	if err := decodeJSON(w, r, &body); err != nil {
		return ""
	}
	return strings.TrimSpace(body.RefreshToken)
}

// writeAuthError maps the auth error taxonomy onto HTTP. Store failures get a
// bare 500 and the detail only goes to the log.
func (h *AuthHandler) writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	var locked *auth.LockedError
	var cred *auth.CredentialError
	switch {
	case errors.Is(err, auth.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":   "Invalid input",
			"details": strings.TrimPrefix(err.Error(), auth.ErrInvalidInput.Error()+": "),
		})
	case errors.As(err, &locked):
		retry := int(math.Ceil(time.Until(locked.Until).Seconds()))
		if retry < 1 {
			retry = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retry))
		writeJSON(w, http.StatusLocked, map[string]any{
			"error":     "Account temporarily locked due to too many failed attempts",
			"lockUntil": locked.Until.UTC(),
		})
	case errors.As(err, &cred):
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"error":             "Invalid credentials",
			"attemptsRemaining": cred.AttemptsRemaining,
		})
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
	case auth.IsTokenFailure(err):
		writeError(w, http.StatusUnauthorized, "Invalid or expired token")
	default:
		h.logger.Errorf("AUTH %s %s: %v", r.Method, r.URL.Path, err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
