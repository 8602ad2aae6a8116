package utils

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

const (
	LoginUsernameMinLength   = 3
	CurrentPasswordMinLength = 6
	passwordMaxLength        = 128
	defaultPasswordMin       = 12
)

var (
	usernameRe   = regexp.MustCompile(`^[a-zA-Z0-9._-]{3,32}$`)
	upperRe      = regexp.MustCompile(`[A-Z]`)
	lowerRe      = regexp.MustCompile(`[a-z]`)
	digitRe      = regexp.MustCompile(`[0-9]`)
	specialRe    = regexp.MustCompile(`[!@#$%^&*_\-+=]`)
	whitespaceRe = regexp.MustCompile(`\s`)
)

func ValidateUsername(s string) error {
	if !usernameRe.MatchString(s) {
		return errors.New("invalid username")
	}
	return nil
}

// ValidateLoginShape only checks lengths. Any non-empty password is
// checked against the store, so a short guess still counts as a failure.
func ValidateLoginShape(username, password string) error {
	if len(strings.TrimSpace(username)) < LoginUsernameMinLength {
		return errors.New("username too short")
	}
	if password == "" {
		return errors.New("password required")
	}
	if len(username) > 64 || len(password) > passwordMaxLength {
		return errors.New("input too long")
	}
	return nil
}

func ValidatePasswordWithMin(s string, minLength int) error {
	if minLength <= 0 {
		minLength = defaultPasswordMin
	}
	if len(s) < minLength {
		return fmt.Errorf("password too short (min %d chars)", minLength)
	}
	if len(s) > passwordMaxLength {
		return errors.New("password too long (max 128 chars)")
	}
	if whitespaceRe.MatchString(s) {
		return errors.New("password must not contain spaces")
	}
	if !upperRe.MatchString(s) {
		return errors.New("password must include at least one uppercase letter")
	}
	if !lowerRe.MatchString(s) {
		return errors.New("password must include at least one lowercase letter")
	}
	if !digitRe.MatchString(s) {
		return errors.New("password must include at least one digit")
	}
	if !specialRe.MatchString(s) {
		return errors.New("password must include at least one special character (!@#$%^&*_-+=)")
	}
	return nil
}
