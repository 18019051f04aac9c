package store

import "errors"

var (
	ErrTicketNotFound     = errors.New("ticket not found")
	ErrInvalidState       = errors.New("invalid ticket state")
	ErrCounterMismatch    = errors.New("counter mismatch")
	ErrCounterNotFound    = errors.New("counter not found")
	ErrCounterUnavailable = errors.New("counter unavailable")
	ErrInvalidReason      = errors.New("invalid cancellation reason")
	ErrUserNotFound       = errors.New("user not found")
	ErrEmailTaken         = errors.New("email already in use")
	ErrEmailNotVerified   = errors.New("email not verified")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrTokenNotFound      = errors.New("token not found")
	ErrSessionNotFound    = errors.New("session not found")
	ErrSessionExpired     = errors.New("session already expired")
)
