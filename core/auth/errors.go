package auth

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidInput           = errors.New("invalid input")
	ErrInvalidCredentials     = errors.New("invalid credentials")
	ErrAccountLocked          = errors.New("account locked")
	ErrTokenExpired           = errors.New("token expired")
	ErrTokenInvalid           = errors.New("token invalid")
	ErrTokenReused            = errors.New("token reused")
	ErrInsufficientPermission = errors.New("insufficient permission")
	ErrInsufficientRole       = errors.New("insufficient role")
)

// CredentialError is returned for a wrong password on an existing account.
// AttemptsRemaining is zero on the attempt that armed the lock.
type CredentialError struct {
	AttemptsRemaining int
	LockedUntil       *time.Time
}

func (e *CredentialError) Error() string {
	if e.LockedUntil != nil {
		return fmt.Sprintf("invalid credentials, account locked until %s", e.LockedUntil.UTC().Format(time.RFC3339))
	}
	return fmt.Sprintf("invalid credentials, %d attempts remaining", e.AttemptsRemaining)
}

func (e *CredentialError) Unwrap() error { return ErrInvalidCredentials }

type LockedError struct {
	Until time.Time
}

func (e *LockedError) Error() string {
	return "account locked until " + e.Until.UTC().Format(time.RFC3339)
}

func (e *LockedError) Unwrap() error { return ErrAccountLocked }

// AccessError names the capability a guard required.
type AccessError struct {
	Kind error
	Need string
}

func (e *AccessError) Error() string {
	return fmt.Sprintf("%v: requires %s", e.Kind, e.Need)
}

func (e *AccessError) Unwrap() error { return e.Kind }

func invalidInput(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, msg)
}

// IsTokenFailure reports whether err is one of the token errors that are
// reported to clients as a single 401.
func IsTokenFailure(err error) bool {
	return errors.Is(err, ErrTokenExpired) || errors.Is(err, ErrTokenInvalid) || errors.Is(err, ErrTokenReused)
}
