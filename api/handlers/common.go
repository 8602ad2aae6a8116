package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"chapel-auth/config"
)

const (
	AccessCookieName  = "accessToken"
	RefreshCookieName = "refreshToken"

	// The refresh cookie is only sent to the auth endpoints.
	refreshCookiePath = "/api/auth"
	maxBodyBytes      = 64 << 10
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	return dec.Decode(dst)
}

// isSecureRequest reports whether cookies must carry the Secure flag. Only a
// plain-HTTP dev deployment gets cookies without it.
func isSecureRequest(r *http.Request, cfg *config.AppConfig) bool {
	if r != nil && r.TLS != nil {
		return true
	}
	if cfg == nil {
		return true
	}
	return cfg.TLSEnabled || !cfg.IsDev()
}

func setTokenCookie(w http.ResponseWriter, r *http.Request, cfg *config.AppConfig, name, path, value string, expires time.Time) {
	maxAge := int(time.Until(expires).Seconds())
	if maxAge < 1 {
		maxAge = 1
	}
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		MaxAge:   maxAge,
		Expires:  expires.UTC(),
		HttpOnly: true,
		Secure:   isSecureRequest(r, cfg),
		SameSite: http.SameSiteStrictMode,
	})
}

func clearTokenCookie(w http.ResponseWriter, r *http.Request, cfg *config.AppConfig, name, path string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     path,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   isSecureRequest(r, cfg),
		SameSite: http.SameSiteStrictMode,
	})
}
