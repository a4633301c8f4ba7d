package session

import "errors"

var (
	// ErrOwnershipViolation is returned when a caller touches a session owned by someone else
	ErrOwnershipViolation = errors.New("session belongs to a different owner")

	// ErrSessionNotFound is returned by read-only lookups for unknown or expired sessions
	ErrSessionNotFound = errors.New("session not found")

	// ErrInvalidSessionID is returned for malformed session ids
	ErrInvalidSessionID = errors.New("invalid session id")

	// ErrInvalidOwner is returned when no owner identity is supplied
	ErrInvalidOwner = errors.New("owner id cannot be empty")

	// ErrSweeperRunning is returned when starting a sweeper twice
	ErrSweeperRunning = errors.New("session sweeper is already running")

	// ErrSweeperStopped is returned when stopping a sweeper that is not running
	ErrSweeperStopped = errors.New("session sweeper is not running")
)
