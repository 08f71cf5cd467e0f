package services

import (
	"errors"
	"fmt"
)

var (
	// ErrRateLimited is returned when a client exceeds the reset request quota.
	ErrRateLimited = errors.New("too many password reset requests")

	// ErrTokenInvalid covers unknown, malformed, and expired reset tokens.
	ErrTokenInvalid = errors.New("invalid or expired token")

	// ErrTokenAlreadyUsed is returned for a reset token that was consumed before.
	ErrTokenAlreadyUsed = errors.New("token already used")

	ErrInvalidInput       = errors.New("invalid input")
	ErrForbidden          = errors.New("forbidden")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountInactive    = errors.New("account is inactive")
)

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
