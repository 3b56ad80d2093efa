package models

import "time"

// PasswordResetToken is the single outstanding reset token for an email.
// Only the SHA-256 hash of the token is stored.
type PasswordResetToken struct {
	Email     string
	TokenHash string
	CreatedAt time.Time
}

// IsExpired reports whether the token is older than ttl at now
func (t *PasswordResetToken) IsExpired(now time.Time, ttl time.Duration) bool {
	return now.Sub(t.CreatedAt) > ttl
}
