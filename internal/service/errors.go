package service

import "errors"

// Sentinel errors. The HTTP layer maps them to status codes with errors.Is.
var (
	// ErrInvalidToken means the bearer token is missing, malformed, expired
	// or lacks a user or role id.
	ErrInvalidToken = errors.New("could not validate credentials")
	// ErrInvalidCredentials means a login used an unknown username or a
	// wrong password. The two cases are not distinguished.
	ErrInvalidCredentials = errors.New("incorrect username or password")
	// ErrInactiveUser means the account exists but is disabled.
	ErrInactiveUser = errors.New("user is inactive")
	// ErrForbidden means the role lacks a required permission bit.
	ErrForbidden = errors.New("insufficient permissions")
	// ErrConfiguration means an endpoint requirement names a module or
	// permission that does not exist.
	ErrConfiguration = errors.New("permission configuration error")
	// ErrValidation means a request was rejected before anything was
	// written.
	ErrValidation = errors.New("validation failed")
)
