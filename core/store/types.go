package store

import (
	"errors"
	"time"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrUsernameTaken  = errors.New("username already exists")
	ErrRefreshUnknown = errors.New("refresh token unknown")
	ErrRefreshReused  = errors.New("refresh token already used")
)

type User struct {
	ID                int64      `json:"id"`
	Username          string     `json:"username"`
	PasswordHash      string     `json:"-"`
	Salt              string     `json:"-"`
	Role              string     `json:"role"`
	Permissions       []string   `json:"permissions"`
	FailedAttempts    int        `json:"failed_attempts"`
	LockedUntil       *time.Time `json:"locked_until,omitempty"`
	LastLoginAt       *time.Time `json:"last_login_at,omitempty"`
	Active            bool       `json:"active"`
	PasswordChangedAt *time.Time `json:"password_changed_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// IsLocked reports whether a lock is set and still in the future at now.
func (u *User) IsLocked(now time.Time) bool {
	return u != nil && u.LockedUntil != nil && now.Before(*u.LockedUntil)
}

type LockoutPolicy struct {
	MaxAttempts int
	Duration    time.Duration
}

// FailedAttempt is the post-increment state returned by RecordFailedAttempt.
// LockedUntil is set whenever Count has reached the policy maximum.
type FailedAttempt struct {
	Count       int
	LockedUntil *time.Time
}

type EventKind string

const (
	EventLoginSuccess     EventKind = "login_success"
	EventLoginFailure     EventKind = "login_failure"
	EventLockout          EventKind = "lockout"
	EventLogout           EventKind = "logout"
	EventTokenRefresh     EventKind = "token_refresh"
	EventPermissionDenied EventKind = "permission_denied"
)

type SecurityEvent struct {
	ID        int64     `json:"id"`
	Kind      EventKind `json:"kind"`
	Username  string    `json:"username,omitempty"`
	IP        string    `json:"ip,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	Details   string    `json:"details,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type AuditFilter struct {
	Username string
	Kind     EventKind
	Limit    int
}

type RefreshRecord struct {
	ID        string
	UserID    int64
	ExpiresAt time.Time
	CreatedAt time.Time
}
