package errors

import (
	"errors"
	"fmt"
)

// Key lifecycle errors.
var (
	// ErrNotInitialized is returned when no identity has been established.
	ErrNotInitialized = errors.New("key manager not initialized")

	// ErrKeyNotFound is returned when a session key is required but absent.
	ErrKeyNotFound = errors.New("session key not found")

	// ErrUnwrap is returned when a wrapped session key cannot be imported.
	ErrUnwrap = errors.New("unwrap session key failed")

	// ErrInvalidConversation is returned for empty or malformed conversation ids.
	ErrInvalidConversation = errors.New("invalid conversation id")

	// ErrPublicKeyNotFound is returned when no public key is known for a user.
	ErrPublicKeyNotFound = errors.New("public key not found")
)

// Cipher errors.
var (
	// ErrDecryption is returned when an envelope cannot be authenticated.
	ErrDecryption = errors.New("decryption failed")

	// ErrNonceSize is a fatal configuration error: the AEAD does not use 96-bit nonces.
	ErrNonceSize = errors.New("aead nonce size is not 96 bits")
)

// Sync errors.
var (
	// ErrTransport is the category of every TransportError.
	ErrTransport = errors.New("transport failure")

	// ErrMergeConflictAmbiguous marks a duplicate message id with divergent content.
	ErrMergeConflictAmbiguous = errors.New("merge conflict ambiguous")
)

// TransportError describes a failed remote call.
type TransportError struct {
	Op     string // e.g. "GET /api/conversations"
	Status int    // HTTP status, 0 when the request never completed
	Err    error
}

func (e *TransportError) Error() string {
	switch {
	case e.Err != nil && e.Status != 0:
		return fmt.Sprintf("transport %s: status %d: %v", e.Op, e.Status, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("transport %s: status %d", e.Op, e.Status)
	}
}

// Unwrap exposes the underlying cause.
func (e *TransportError) Unwrap() error { return e.Err }

// Is makes every TransportError match ErrTransport.
func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// NewTransportError wraps err as a TransportError for op.
func NewTransportError(op string, status int, err error) *TransportError {
	return &TransportError{Op: op, Status: status, Err: err}
}
