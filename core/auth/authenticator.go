package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"chapel-auth/core/store"
	"chapel-auth/core/utils"
)

type AuthenticatorDeps struct {
	Users             store.UsersStore
	Audit             store.AuditStore
	Tokens            *TokenIssuer
	Logger            *utils.Logger
	Pepper            string
	Lockout           store.LockoutPolicy
	PasswordMinLength int
}

// Authenticator runs the login state machine and the token lifecycle around
// it. Audit failures are logged and never change the outcome of a request.
type Authenticator struct {
	users       store.UsersStore
	audit       store.AuditStore
	tokens      *TokenIssuer
	logger      *utils.Logger
	pepper      string
	lockout     store.LockoutPolicy
	passwordMin int
	now         func() time.Time
	stats       authCounters
}

type authCounters struct {
	loginSuccess  atomic.Uint64
	loginFailure  atomic.Uint64
	lockouts      atomic.Uint64
	lockedRejects atomic.Uint64
	refreshOK     atomic.Uint64
	refreshFailed atomic.Uint64
	refreshReused atomic.Uint64
	denials       atomic.Uint64
	auditErrors   atomic.Uint64
}

type AuthStats struct {
	LoginSuccess  uint64
	LoginFailure  uint64
	Lockouts      uint64
	LockedRejects uint64
	RefreshOK     uint64
	RefreshFailed uint64
	RefreshReused uint64
	Denials       uint64
	AuditErrors   uint64
}

func NewAuthenticator(deps AuthenticatorDeps) (*Authenticator, error) {
	if deps.Users == nil || deps.Audit == nil || deps.Tokens == nil {
		return nil, errors.New("authenticator requires users, audit and tokens")
	}
	if deps.Lockout.MaxAttempts <= 0 {
		return nil, errors.New("max login attempts must be positive")
	}
	return &Authenticator{
		users:       deps.Users,
		audit:       deps.Audit,
		tokens:      deps.Tokens,
		logger:      deps.Logger,
		pepper:      deps.Pepper,
		lockout:     deps.Lockout,
		passwordMin: deps.PasswordMinLength,
		now:         time.Now,
	}, nil
}

// SetClock replaces the time source of the authenticator and its issuer.
func (a *Authenticator) SetClock(now func() time.Time) {
	if now == nil {
		return
	}
	a.now = now
	a.tokens.SetClock(now)
}

func (a *Authenticator) Tokens() *TokenIssuer {
	return a.tokens
}

func (a *Authenticator) Login(ctx context.Context, creds Credentials, meta RequestMeta) (*LoginResult, error) {
	username := strings.TrimSpace(creds.Username)
	if err := utils.ValidateLoginShape(username, creds.Password); err != nil {
		return nil, invalidInput(err.Error())
	}

	user, err := a.users.FindByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	if user == nil || !user.Active {
		burnVerification(creds.Password, a.pepper)
		a.stats.loginFailure.Add(1)
		detail := "unknown user"
		if user != nil {
			detail = "inactive user"
		}
		a.record(ctx, store.EventLoginFailure, username, meta, detail)
		return nil, ErrInvalidCredentials
	}

	now := a.now().UTC()
	if user.IsLocked(now) {
		a.stats.lockedRejects.Add(1)
		a.record(ctx, store.EventLoginFailure, username, meta, "account locked")
		return nil, &LockedError{Until: *user.LockedUntil}
	}

	ok, err := a.verifyStored(creds.Password, user)
	if err != nil {
		a.logger.Errorf("AUTH password verify for %s: %v", username, err)
		ok = false
	}
	if !ok {
		return nil, a.rejectBadPassword(ctx, user, meta, now)
	}

	if err := a.users.ClearFailedAttempts(ctx, user.ID); err != nil {
		return nil, fmt.Errorf("clear failed attempts: %w", err)
	}
	if err := a.users.UpdateLastLogin(ctx, user.ID, now); err != nil {
		return nil, fmt.Errorf("update last login: %w", err)
	}
	user.FailedAttempts = 0
	user.LockedUntil = nil
	user.LastLoginAt = &now

	tokens, err := a.tokens.IssuePair(ctx, user, creds.RememberMe)
	if err != nil {
		return nil, fmt.Errorf("issue tokens: %w", err)
	}
	a.stats.loginSuccess.Add(1)
	detail := "login"
	if creds.RememberMe {
		detail = "login (remember me)"
	}
	a.record(ctx, store.EventLoginSuccess, username, meta, detail)
	return &LoginResult{User: SummaryDTO(user), Tokens: tokens}, nil
}

func (a *Authenticator) verifyStored(password string, user *store.User) (bool, error) {
	stored, err := ParsePasswordHash(user.PasswordHash, user.Salt)
	if err != nil {
		return false, err
	}
	return VerifyPassword(password, a.pepper, stored)
}

func (a *Authenticator) rejectBadPassword(ctx context.Context, user *store.User, meta RequestMeta, now time.Time) error {
	res, err := a.users.RecordFailedAttempt(ctx, user.ID, a.lockout, now)
	if err != nil {
		return fmt.Errorf("record failed attempt: %w", err)
	}
	a.stats.loginFailure.Add(1)
	remaining := a.lockout.MaxAttempts - res.Count
	if remaining < 0 {
		remaining = 0
	}
	a.record(ctx, store.EventLoginFailure, user.Username, meta, fmt.Sprintf("invalid password (attempt %d)", res.Count))
	if res.LockedUntil != nil {
		a.stats.lockouts.Add(1)
		a.record(ctx, store.EventLockout, user.Username, meta,
			fmt.Sprintf("locked until %s after %d failed attempts", res.LockedUntil.UTC().Format(time.RFC3339), res.Count))
	}
	return &CredentialError{AttemptsRemaining: remaining, LockedUntil: res.LockedUntil}
}

// Refresh exchanges a refresh token for a new pair. The user is re-read, so
// deactivation and role changes take effect here.
func (a *Authenticator) Refresh(ctx context.Context, raw string, meta RequestMeta) (*LoginResult, error) {
	claims, err := a.tokens.ParseRefresh(raw)
	if err != nil {
		a.stats.refreshFailed.Add(1)
		a.record(ctx, store.EventTokenRefresh, "", meta, refreshFailureDetail(err))
		return nil, err
	}
	rec, err := a.tokens.Rotate(ctx, claims)
	if errors.Is(err, ErrTokenReused) {
		a.stats.refreshReused.Add(1)
		revoked, revokeErr := a.tokens.RevokeUser(ctx, claims.UserID)
		if revokeErr != nil {
			a.logger.Errorf("AUTH revoke refresh family uid=%d: %v", claims.UserID, revokeErr)
		}
		a.logger.Warnf("AUTH refresh token reuse uid=%d jti=%s revoked=%d", claims.UserID, claims.ID, revoked)
		a.record(ctx, store.EventTokenRefresh, a.usernameFor(ctx, claims.UserID), meta, "reused")
		return nil, err
	}
	if err != nil {
		if IsTokenFailure(err) {
			a.stats.refreshFailed.Add(1)
			a.record(ctx, store.EventTokenRefresh, "", meta, refreshFailureDetail(err))
		}
		return nil, err
	}

	user, err := a.users.Get(ctx, rec.UserID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if user == nil || !user.Active {
		a.stats.refreshFailed.Add(1)
		name := ""
		if user != nil {
			name = user.Username
		}
		a.record(ctx, store.EventTokenRefresh, name, meta, "inactive or missing user")
		return nil, fmt.Errorf("%w: user unavailable", ErrTokenInvalid)
	}

	tokens, err := a.tokens.IssueRotated(ctx, user, claims)
	if err != nil {
		return nil, fmt.Errorf("issue tokens: %w", err)
	}
	a.stats.refreshOK.Add(1)
	a.record(ctx, store.EventTokenRefresh, user.Username, meta, "rotated")
	return &LoginResult{User: SummaryDTO(user), Tokens: tokens}, nil
}

func refreshFailureDetail(err error) string {
	switch {
	case errors.Is(err, ErrTokenExpired):
		return "expired"
	case errors.Is(err, ErrTokenReused):
		return "reused"
	default:
		return "invalid"
	}
}

func (a *Authenticator) usernameFor(ctx context.Context, userID int64) string {
	u, err := a.users.Get(ctx, userID)
	if err != nil || u == nil {
		return ""
	}
	return u.Username
}

// Logout revokes the presented refresh token, if any. Access tokens remain
// valid until they expire.
func (a *Authenticator) Logout(ctx context.Context, id *Identity, refreshToken string, meta RequestMeta) error {
	if refreshToken != "" {
		if err := a.tokens.Revoke(ctx, refreshToken); err != nil && !IsTokenFailure(err) {
			return fmt.Errorf("revoke refresh token: %w", err)
		}
	}
	name := ""
	if id != nil {
		name = id.Username
	}
	a.record(ctx, store.EventLogout, name, meta, "logout")
	return nil
}

// Verify answers with the token's snapshot of role and permissions, after
// checking that the account still exists and is active.
func (a *Authenticator) Verify(ctx context.Context, id *Identity) (*UserDTO, error) {
	if id == nil {
		return nil, ErrTokenInvalid
	}
	user, err := a.users.Get(ctx, id.UserID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if user == nil || !user.Active {
		return nil, fmt.Errorf("%w: user unavailable", ErrTokenInvalid)
	}
	return &UserDTO{
		ID:          id.UserID,
		Username:    id.Username,
		Role:        id.Role,
		Permissions: nonNil(id.Permissions),
		LastLogin:   user.LastLoginAt,
	}, nil
}

func (a *Authenticator) ChangePassword(ctx context.Context, id *Identity, current, next string, meta RequestMeta) error {
	if id == nil {
		return ErrTokenInvalid
	}
	if len(current) < utils.CurrentPasswordMinLength {
		return invalidInput("current password too short")
	}
	if err := utils.ValidatePasswordWithMin(next, a.passwordMin); err != nil {
		return invalidInput(err.Error())
	}
	if current == next {
		return invalidInput("new password must differ from the current one")
	}
	user, err := a.users.Get(ctx, id.UserID)
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}
	if user == nil || !user.Active {
		return fmt.Errorf("%w: user unavailable", ErrTokenInvalid)
	}
	ok, err := a.verifyStored(current, user)
	if err != nil || !ok {
		a.stats.loginFailure.Add(1)
		a.record(ctx, store.EventLoginFailure, user.Username, meta, "change-password: invalid current password")
		return ErrInvalidCredentials
	}
	ph, err := HashPassword(next, a.pepper)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := a.users.UpdatePassword(ctx, user.ID, ph.Hash, ph.Salt, a.now().UTC()); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	revoked, err := a.tokens.RevokeUser(ctx, user.ID)
	if err != nil {
		a.logger.Errorf("AUTH revoke refresh tokens after password change uid=%d: %v", user.ID, err)
	}
	a.logger.Printf("AUTH password changed for %s, revoked %d refresh tokens", user.Username, revoked)
	return nil
}

// RecordDenial is called by the request guards when a permission or role
// check fails.
func (a *Authenticator) RecordDenial(ctx context.Context, id *Identity, need string, meta RequestMeta) {
	a.stats.denials.Add(1)
	name, role, perms := "", "", "[]"
	if id != nil {
		name = id.Username
		role = id.Role
		perms = "[" + strings.Join(id.Permissions, ",") + "]"
	}
	a.record(ctx, store.EventPermissionDenied, name, meta, fmt.Sprintf("need=%s role=%s permissions=%s", need, role, perms))
}

func (a *Authenticator) ListUsers(ctx context.Context) ([]UserDTO, error) {
	users, err := a.users.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]UserDTO, 0, len(users))
	for i := range users {
		out = append(out, *ListingDTO(&users[i]))
	}
	return out, nil
}

func (a *Authenticator) SecurityEvents(ctx context.Context, f store.AuditFilter) ([]store.SecurityEvent, error) {
	events, err := a.audit.List(ctx, f)
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = []store.SecurityEvent{}
	}
	return events, nil
}

func (a *Authenticator) StatsSnapshot() AuthStats {
	return AuthStats{
		LoginSuccess:  a.stats.loginSuccess.Load(),
		LoginFailure:  a.stats.loginFailure.Load(),
		Lockouts:      a.stats.lockouts.Load(),
		LockedRejects: a.stats.lockedRejects.Load(),
		RefreshOK:     a.stats.refreshOK.Load(),
		RefreshFailed: a.stats.refreshFailed.Load(),
		RefreshReused: a.stats.refreshReused.Load(),
		Denials:       a.stats.denials.Load(),
		AuditErrors:   a.stats.auditErrors.Load(),
	}
}

func (a *Authenticator) record(ctx context.Context, kind store.EventKind, username string, meta RequestMeta, details string) {
	ev := store.SecurityEvent{
		Kind:      kind,
		Username:  username,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
		Details:   details,
		CreatedAt: a.now().UTC(),
	}
	if err := a.audit.Append(ctx, ev); err != nil {
		a.stats.auditErrors.Add(1)
		a.logger.Errorf("AUDIT append %s for %q failed: %v", kind, username, err)
	}
}
