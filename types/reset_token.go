package types

import "time"

// ResetToken is one password-reset attempt. It is valid while UsedAt is nil
// and ExpiresAt lies in the future; once consumed or expired it stays invalid.
type ResetToken struct {
	ID        int64      `json:"id" db:"id"`
	UserID    string     `json:"user_id" db:"user_id"`
	Token     string     `json:"-" db:"token"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	ExpiresAt time.Time  `json:"expires_at" db:"expires_at"`
	UsedAt    *time.Time `json:"used_at,omitempty" db:"used_at"`
	IPAddress string     `json:"ip_address,omitempty" db:"ip_address"`
}

// Expired reports whether the token's expiry is at or before now.
func (t ResetToken) Expired(now time.Time) bool {
	return !t.ExpiresAt.After(now)
}

// Used reports whether the token has been consumed.
func (t ResetToken) Used() bool {
	return t.UsedAt != nil
}

// Valid reports whether the token can still be used to reset a password.
func (t ResetToken) Valid(now time.Time) bool {
	return !t.Used() && !t.Expired(now)
}
