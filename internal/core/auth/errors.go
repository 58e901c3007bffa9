package auth

import "github.com/cockroachdb/errors"

// Authentication errors.
// Missing, malformed and unknown keys all map to UNAUTHENTICATED so a caller
// cannot probe which keys exist. Revoked keys map to PERMISSION_DENIED.
var (
	ErrMissingKey       = errors.New("API key required in x-api-key metadata")
	ErrInvalidKeyFormat = errors.New("invalid API key format")
	ErrUnknownKey       = errors.New("unknown secret ID")
	ErrInvalidKey       = errors.New("invalid API key")
	ErrKeyRevoked       = errors.New("API key has been revoked")
	ErrBackend          = errors.New("key store unavailable")
)
