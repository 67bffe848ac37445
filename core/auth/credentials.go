package auth

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

var (
	ErrInvalidUsername = errors.New("invalid username")
	ErrWeakPassword    = errors.New("weak password")
)

const (
	defaultPasswordMinLength = 12
	passwordMaxLength        = 128
)

// usernames are stored lowercased; the first character must be alphanumeric
var usernameRe = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]{2,63}$`)

// CredentialPolicy governs the shape of usernames and passwords accepted for
// accounts. The zero value uses a 12 character minimum.
type CredentialPolicy struct {
	MinPasswordLength int
}

// NormalizeUsername trims and lowercases a login name.
func NormalizeUsername(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

func (p CredentialPolicy) CheckUsername(name string) error {
	if !usernameRe.MatchString(name) {
		return ErrInvalidUsername
	}
	return nil
}

// CheckPassword requires the configured length, no whitespace, at least
// three of four character classes, and that the password does not embed the
// username.
func (p CredentialPolicy) CheckPassword(password, username string) error {
	minLen := p.MinPasswordLength
	if minLen <= 0 {
		minLen = defaultPasswordMinLength
	}
	n := len([]rune(password))
	if n < minLen {
		return fmt.Errorf("%w: shorter than %d characters", ErrWeakPassword, minLen)
	}
	if n > passwordMaxLength {
		return fmt.Errorf("%w: longer than %d characters", ErrWeakPassword, passwordMaxLength)
	}
	var upper, lower, digit, other bool
	for _, r := range password {
		switch {
		case unicode.IsSpace(r):
			return fmt.Errorf("%w: contains whitespace", ErrWeakPassword)
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		default:
			other = true
		}
	}
	classes := 0
	for _, ok := range []bool{upper, lower, digit, other} {
		if ok {
			classes++
		}
	}
	if classes < 3 {
		return fmt.Errorf("%w: needs three of upper, lower, digit, symbol", ErrWeakPassword)
	}
	if u := NormalizeUsername(username); len(u) >= 3 && strings.Contains(strings.ToLower(password), u) {
		return fmt.Errorf("%w: contains the username", ErrWeakPassword)
	}
	return nil
}
