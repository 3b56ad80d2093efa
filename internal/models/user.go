package models

import (
	"time"
)

// User is the subset of the user record the security core consumes.
// Profile management lives outside this service.
type User struct {
	ID                  string
	Email               string
	PasswordHash        string
	Name                string
	Role                string // e.g., "user", "admin"
	IsTemporaryPassword bool
	TermsAcceptedAt     *time.Time
	LastActiveAt        *time.Time
	PasswordChangedAt   *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// IsAdmin reports whether the user may access the admin surface
func (u *User) IsAdmin() bool {
	return u.Role == "admin"
}

// TermsDocument is the currently published terms-of-service version
type TermsDocument struct {
	ID          string
	Version     string
	PublishedAt time.Time
}

// HasAcceptedTerms reports whether the user accepted the given document after it was published.
// A nil document means there is nothing to accept.
func (u *User) HasAcceptedTerms(doc *TermsDocument) bool {
	if doc == nil {
		return true
	}
	if u.TermsAcceptedAt == nil {
		return false
	}
	return !u.TermsAcceptedAt.Before(doc.PublishedAt)
}
