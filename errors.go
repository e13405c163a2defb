package qurl

import "errors"

var (
	// ErrNotFound is returned when an entry does not exist, has expired or
	// has exhausted its download budget. Callers deliberately cannot tell
	// these apart.
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput is returned when input validation fails
	ErrInvalidInput = errors.New("invalid input")
	// ErrPasswordRequired is returned when an entry is password gated and
	// no credential was supplied
	ErrPasswordRequired = errors.New("password required")
	// ErrUnauthorized is returned when a supplied password does not match
	ErrUnauthorized = errors.New("unauthorized")
	// ErrDecryptFailed is returned when a secret cannot be decrypted with
	// the supplied key
	ErrDecryptFailed = errors.New("decryption failed")
	// ErrStorage wraps I/O failures in the underlying store
	ErrStorage = errors.New("storage error")
)
