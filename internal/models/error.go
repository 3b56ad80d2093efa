package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Security core errors
	ErrAlreadyInactive       = errors.New("ip block is already inactive")
	ErrSessionExpired        = errors.New("session expired due to inactivity")
	ErrSessionInvalid        = errors.New("session is not active")
	ErrTokenInvalidOrExpired = errors.New("reset token is invalid or expired")
	ErrStorageFailure        = errors.New("storage failure")
)
