package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"chapel-auth/api/handlers"
	"chapel-auth/core/auth"
	"chapel-auth/core/rbac"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

const (
	loginLimiterTTL        = 10 * time.Minute
	loginLimiterMaxBuckets = 10000
	loginBodyPeekLimit     = 64 << 10
)

// loginLimiter keeps one token bucket per key. Idle keys fall out of the
// table after loginLimiterTTL and the table never grows past
// loginLimiterMaxBuckets.
type loginLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	retry   time.Duration
	buckets *expirable.LRU[string, *rate.Limiter]
}

func newLoginLimiter(perMinute int) *loginLimiter {
	if perMinute <= 0 {
		perMinute = 10
	}
	return &loginLimiter{
		limit:   rate.Limit(float64(perMinute) / 60.0),
		burst:   perMinute,
		retry:   time.Minute / time.Duration(perMinute),
		buckets: expirable.NewLRU[string, *rate.Limiter](loginLimiterMaxBuckets, nil, loginLimiterTTL),
	}
}

func (l *loginLimiter) allow(key string) bool {
	l.mu.Lock()
	lim, ok := l.buckets.Get(key)
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.buckets.Add(key, lim)
	}
	l.mu.Unlock()
	return lim.Allow()
}

func (s *Server) securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		if s.cfg.TLSEnabled {
			w.Header().Set("Strict-Transport-Security", "max-age=63072000; includeSubDomains")
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestMetaMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		meta := auth.RequestMeta{IP: s.clientIP(r), UserAgent: r.UserAgent()}
		next.ServeHTTP(w, r.WithContext(auth.WithRequestMeta(r.Context(), meta)))
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				s.logger.Errorf("PANIC %s %s: %v\n%s", r.Method, r.URL.Path, rec, debug.Stack())
				writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal server error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK, user: "-"}
		next.ServeHTTP(rec, r)
		s.logger.Printf("RESP %s %s user=%s status=%d dur=%s bytes=%d", r.Method, r.URL.Path, rec.user, rec.status, time.Since(start), rec.size)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	size   int
	user   string
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	n, err := r.ResponseWriter.Write(b)
	r.size += n
	return n, err
}

func noteUser(w http.ResponseWriter, username string) {
	if rec, ok := w.(*statusRecorder); ok {
		rec.user = username
	}
}

// withSession rejects requests without a valid access token.
func (s *Server) withSession(next http.HandlerFunc) http.HandlerFunc {
	return s.sessionGuard(true, next)
}

// optionalSession attaches an identity when a valid token is present and
// otherwise lets the request through anonymously.
func (s *Server) optionalSession(next http.HandlerFunc) http.HandlerFunc {
	return s.sessionGuard(false, next)
}

func (s *Server) sessionGuard(required bool, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, source := accessTokenFromRequest(r)
		if raw == "" {
			if !required {
				next(w, r)
				return
			}
			s.logger.Printf("AUTH fail (no token) %s %s", r.Method, r.URL.Path)
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "Access token required", "code": "NO_TOKEN"})
			return
		}
		id, err := s.authn.Tokens().ValidateAccess(raw)
		if err != nil {
			if !required {
				next(w, r)
				return
			}
			reason := "invalid token"
			if errors.Is(err, auth.ErrTokenExpired) {
				reason = "expired token"
			}
			s.logger.Printf("AUTH fail (%s) %s %s source=%s", reason, r.Method, r.URL.Path, source)
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "Invalid or expired token", "code": "INVALID_TOKEN"})
			return
		}
		noteUser(w, id.Username)
		next(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
	}
}

// accessTokenFromRequest prefers the cookie over the Authorization header.
func accessTokenFromRequest(r *http.Request) (string, string) {
	if c, err := r.Cookie(handlers.AccessCookieName); err == nil && strings.TrimSpace(c.Value) != "" {
		return strings.TrimSpace(c.Value), "cookie"
	}
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(authz) > 7 && strings.EqualFold(authz[:7], "bearer ") {
		return strings.TrimSpace(authz[7:]), "header"
	}
	return "", ""
}

// requirePermission checks the permission set carried by the access token.
func (s *Server) requirePermission(perm rbac.Permission) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			id, ok := auth.IdentityFromContext(r.Context())
			if !ok {
				s.logger.Printf("PERM fail (no identity) %s %s need=%s", r.Method, r.URL.Path, perm)
				writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "Authentication required"})
				return
			}
			if !id.HasPermission(string(perm)) {
				s.deny(w, r, id, &auth.AccessError{Kind: auth.ErrInsufficientPermission, Need: string(perm)})
				return
			}
			next(w, r)
		}
	}
}

// requireRole passes when the token's role equals role or is the
// administrative role.
func (s *Server) requireRole(role string) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			id, ok := auth.IdentityFromContext(r.Context())
			if !ok {
				s.logger.Printf("PERM fail (no identity) %s %s need_role=%s", r.Method, r.URL.Path, role)
				writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "Authentication required"})
				return
			}
			if !s.policy.SatisfiesRole(id.Role, role) {
				s.deny(w, r, id, &auth.AccessError{Kind: auth.ErrInsufficientRole, Need: role})
				return
			}
			next(w, r)
		}
	}
}

func (s *Server) deny(w http.ResponseWriter, r *http.Request, id *auth.Identity, denial *auth.AccessError) {
	s.logger.Printf("PERM fail %s %s user=%s role=%s need=%s", r.Method, r.URL.Path, id.Username, id.Role, denial.Need)
	need := denial.Need
	if errors.Is(denial, auth.ErrInsufficientRole) {
		need = "role:" + need
	}
	if s.authn != nil {
		s.authn.RecordDenial(r.Context(), id, need, auth.RequestMetaFromContext(r.Context()))
	}
	if errors.Is(denial, auth.ErrInsufficientRole) {
		writeJSON(w, http.StatusForbidden, map[string]any{
			"error":    "Insufficient role",
			"required": denial.Need,
			"current":  id.Role,
		})
		return
	}
	writeJSON(w, http.StatusForbidden, map[string]any{
		"error":    "Insufficient permissions",
		"required": denial.Need,
	})
}

// rateLimitMiddleware limits login attempts per client IP and per username.
func (s *Server) rateLimitMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, loginBodyPeekLimit))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid input"})
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		var cred auth.Credentials
		_ = json.Unmarshal(body, &cred)
		username := strings.ToLower(strings.TrimSpace(cred.Username))
		ip := strings.ToLower(auth.RequestMetaFromContext(r.Context()).IP)
		if ip == "" {
			ip = strings.ToLower(s.clientIP(r))
		}
		if !s.loginLimiter.allow("ip|"+ip) || (username != "" && !s.loginLimiter.allow("user|"+username)) {
			s.logger.Warnf("AUTH rate limited ip=%s user=%s", ip, username)
			w.Header().Set("Retry-After", strconv.Itoa(int(s.loginLimiter.retry.Seconds()+0.5)))
			writeJSON(w, http.StatusTooManyRequests, map[string]any{"error": "Too many login attempts, please try again later"})
			return
		}
		next(w, r)
	}
}

func (s *Server) clientIP(r *http.Request) string {
	ip, _, _ := net.SplitHostPort(r.RemoteAddr)
	if ip == "" {
		ip = r.RemoteAddr
	}
	ip = strings.TrimSpace(ip)
	if s == nil || s.cfg == nil || !isTrustedProxy(ip, s.cfg.TrustedProxies) {
		return ip
	}
	if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
		// Only the entries appended by our own proxies can be believed, so
		// walk from the right and stop at the first hop we do not trust.
		parts := strings.Split(xff, ",")
		leftmost := ""
		for i := len(parts) - 1; i >= 0; i-- {
			candidate := strings.TrimSpace(parts[i])
			if candidate == "" {
				continue
			}
			if net.ParseIP(candidate) == nil {
				return ip
			}
			if !isTrustedProxy(candidate, s.cfg.TrustedProxies) {
				return candidate
			}
			leftmost = candidate
		}
		if leftmost != "" {
			return leftmost
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	return ip
}

func isTrustedProxy(ip string, trusted []string) bool {
	parsed := net.ParseIP(strings.TrimSpace(ip))
	if parsed == nil {
		return false
	}
	for _, raw := range trusted {
		val := strings.TrimSpace(raw)
		if val == "" {
			continue
		}
		if strings.Contains(val, "/") {
			if _, block, err := net.ParseCIDR(val); err == nil && block.Contains(parsed) {
				return true
			}
			continue
		}
		if parsed.Equal(net.ParseIP(val)) {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
