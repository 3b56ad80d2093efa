package models

// SecurityStats is a read-only aggregation for the admin dashboard
type SecurityStats struct {
	ActiveBlocks           int64 `json:"active_blocks"`
	TotalBlocks            int64 `json:"total_blocks"`
	BlocksLast24h          int64 `json:"blocks_last_24h"`
	FailedAttemptsLastHour int64 `json:"failed_attempts_last_hour"`
	FailedAttemptsLast24h  int64 `json:"failed_attempts_last_24h"`
	ActiveSessions         int64 `json:"active_sessions"`
	SessionsStartedLast24h int64 `json:"sessions_started_last_24h"`
}
