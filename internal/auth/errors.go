package auth

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthorized     = errors.New("auth: unauthorized")
	ErrForbidden        = errors.New("auth: forbidden")
	ErrConflict         = errors.New("auth: conflict")
	ErrNotFound         = errors.New("auth: not found")
	ErrInvalidInput     = errors.New("auth: invalid input")
	ErrInvalidReference = errors.New("auth: invalid reference")

	// ErrInvalidToken indicates the bearer token failed verification. It wraps
	// ErrUnauthorized so callers can classify it the same way.
	ErrInvalidToken = fmt.Errorf("%w: invalid token", ErrUnauthorized)
)
