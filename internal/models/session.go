package models

import "time"

// Session end reasons
const (
	SessionEndLogout  = "logout"
	SessionEndExpired = "expired"
	SessionEndRevoked = "revoked"
)

// UserSession tracks one authenticated session.
// For a given (UserID, SessionID) pair at most one row is active.
type UserSession struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"`
	SessionID      string     `json:"-"`
	IPAddress      string     `json:"ip_address"`
	UserAgent      string     `json:"user_agent"`
	LoginAt        time.Time  `json:"login_at"`
	LastActivityAt time.Time  `json:"last_activity_at"`
	LogoutAt       *time.Time `json:"logout_at,omitempty"`
	EndReason      *string    `json:"end_reason,omitempty"`
	IsActive       bool       `json:"is_active"`
}

// IdleFor returns how long the session has gone without activity
func (s *UserSession) IdleFor(now time.Time) time.Duration {
	return now.Sub(s.LastActivityAt)
}
