// Package common defines shared constants and sentinel errors used across
// Lockbox client components. Callers should use errors.Is to match these
// values.
package common

import "errors"

var (
	// Authentication errors.
	ErrAuthenticationRejected = errors.New("authentication rejected")
	ErrSessionExpired         = errors.New("login session expired")

	// Sync errors.
	ErrStampMismatch = errors.New("security stamp has changed")

	// Storage errors.
	ErrSecureStorageUnavailable = errors.New("secure storage unavailable")
	ErrMigrationFailure         = errors.New("state migration failed")

	// Server throttling. The wrapped message is surfaced verbatim so the UI
	// can show the server's backoff text.
	ErrRateLimited = errors.New("rate limited")

	// Token lifecycle errors.
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")

	// Generic repository/service errors.
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrUnavailable  = errors.New("server unavailable")
)
