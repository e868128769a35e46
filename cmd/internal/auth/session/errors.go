package session

import "errors"

var (
	// ErrInvalidToken is returned when an access token fails verification or validation.
	ErrInvalidToken = errors.New("invalid token")

	// ErrWrongTokenType is returned (wrapped in ErrInvalidToken) for a valid JWT whose "type" is not "access".
	ErrWrongTokenType = errors.New("token is not an access token")

	// ErrInvalidSubject is returned (wrapped in ErrInvalidToken) when "sub" is not a positive integer id.
	ErrInvalidSubject = errors.New("token subject is not a user id")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)
