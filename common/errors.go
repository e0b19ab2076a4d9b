// Package common provides shared constants, types, and utilities
// used across MacProx.
package common

import "errors"

// Sentinel errors for tunnel operations.
// These can be checked with errors.Is() for proper error handling.
var (
	// Connection errors.
	ErrAlreadyConnected = errors.New("connection already active")
	ErrDisconnecting    = errors.New("disconnect in progress")
	ErrCancelled        = errors.New("operation cancelled")

	// Lifecycle errors, one per failure class of a connect attempt.
	ErrValidation     = errors.New("invalid connection request")
	ErrHelperCreation = errors.New("failed to create askpass helper")
	ErrSpawn          = errors.New("failed to start tunnel")
	ErrEarlyExit      = errors.New("tunnel exited during startup")
	ErrNotReady       = errors.New("tunnel not ready")
	ErrTeardown       = errors.New("tunnel teardown failed")

	// Credential errors.
	ErrCredentialsNotFound = errors.New("credentials not found")
	ErrCredentialStorage   = errors.New("failed to store credentials")
	ErrEncryption          = errors.New("encryption error")
	ErrDecryption          = errors.New("decryption error")

	// Configuration errors.
	ErrConfigLoad = errors.New("failed to load configuration")
	ErrConfigSave = errors.New("failed to save configuration")

	// History errors.
	ErrHistory = errors.New("history store error")

	// Platform errors.
	ErrUnsupported = errors.New("not supported on this platform")
)

// WrapError wraps an error with additional context.
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return &wrappedError{
		msg: message,
		err: err,
	}
}

type wrappedError struct {
	msg string
	err error
}

func (e *wrappedError) Error() string {
	return e.msg + ": " + e.err.Error()
}

func (e *wrappedError) Unwrap() error {
	return e.err
}
