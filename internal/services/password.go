package services

import (
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

const (
	minPasswordLength = 8
	maxPasswordLength = 128
	// bcrypt rejects longer inputs.
	maxPasswordBytes = 72
)

// PasswordHasher hashes and verifies passwords.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hash, password string) error
}

// BcryptHasher is the bcrypt PasswordHasher used for signup, login and reset.
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher returns a hasher with cost, or bcrypt.DefaultCost when cost
// is outside bcrypt's accepted range.
func NewBcryptHasher(cost int) BcryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return BcryptHasher{cost: cost}
}

func (h BcryptHasher) Hash(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

func (h BcryptHasher) Compare(hash, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

// ValidatePassword enforces 8-128 characters, at most 72 bytes, with at least
// one ASCII letter and one digit.
func ValidatePassword(password string) error {
	if password == "" {
		return invalidInput("password is required")
	}
	n := len([]rune(password))
	if n < minPasswordLength {
		return invalidInput("password must be at least %d characters long", minPasswordLength)
	}
	if n > maxPasswordLength {
		return invalidInput("password must be less than %d characters", maxPasswordLength)
	}
	if len(password) > maxPasswordBytes {
		return invalidInput("password must be at most %d bytes", maxPasswordBytes)
	}

	var hasLetter, hasDigit bool
	for _, r := range password {
		switch {
		case r < unicode.MaxASCII && unicode.IsLetter(r):
			hasLetter = true
		case r < unicode.MaxASCII && unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasLetter {
		return invalidInput("password must contain at least one letter")
	}
	if !hasDigit {
		return invalidInput("password must contain at least one number")
	}
	return nil
}
