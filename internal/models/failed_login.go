package models

import "time"

// FailedLoginAttempt is an immutable record of one rejected credential check
type FailedLoginAttempt struct {
	ID        string    `json:"id"`
	UserID    *string   `json:"user_id,omitempty"`
	IPAddress string    `json:"ip_address"`
	Email     string    `json:"email"`
	UserAgent string    `json:"user_agent"`
	CreatedAt time.Time `json:"created_at"`
}
