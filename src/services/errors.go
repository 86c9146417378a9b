package services

import "errors"

var (
	// ErrTenantNotFound is returned when no active tenant owns a token.
	ErrTenantNotFound = errors.New("tenant not found")
	// ErrDeadLetterNotFound is returned when a dead letter id is unknown.
	ErrDeadLetterNotFound = errors.New("dead letter not found")
	// ErrInvalidCredentials is returned on failed admin authentication.
	ErrInvalidCredentials = errors.New("invalid credentials")
)
