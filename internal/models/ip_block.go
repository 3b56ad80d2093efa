package models

import "time"

// Block reasons
const (
	IPBlockReasonAutomaticFormat = "Automatic block after %d failed login attempts"
)

// IPBlock records a block on a source IP.
// At most one row per ip_address has IsActive set at any time.
type IPBlock struct {
	ID          string     `json:"id"`
	IPAddress   string     `json:"ip_address"`
	Reason      string     `json:"reason"`
	BlockedAt   time.Time  `json:"blocked_at"`
	UnblockedAt *time.Time `json:"unblocked_at,omitempty"`
	UnblockedBy *string    `json:"unblocked_by,omitempty"`
	IsActive    bool       `json:"is_active"`
}

// IPBlockFilter narrows admin listings of blocks
type IPBlockFilter struct {
	IPAddresses []string
	ActiveOnly  bool
	Limit       int
	Offset      int
}
