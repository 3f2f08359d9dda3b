package auth

import "errors"

var (
	// ErrInvalidSession means the session token is unknown or expired. It is
	// kept distinct from ErrUnauthorized so callers can answer 400 rather
	// than 401.
	ErrInvalidSession = errors.New("auth: invalid session")
	ErrUnauthorized   = errors.New("auth: unauthorized")
	ErrMalformed      = errors.New("auth: malformed authorization")
	ErrUnsupported    = errors.New("auth: unsupported authentication method")
)
