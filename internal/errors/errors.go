// Package errors defines the error taxonomy for the pqlink session protocol.
// Messages carry enough context for debugging without leaking key material.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for cryptographic operations
var (
	// ErrInvalidKeySize indicates that a key has an incorrect size
	ErrInvalidKeySize = errors.New("crypto: invalid key size")

	// ErrInvalidCiphertext indicates that a KEM ciphertext is malformed
	ErrInvalidCiphertext = errors.New("crypto: invalid ciphertext")

	// ErrInvalidNonce indicates the stream cipher nonce size is incorrect
	ErrInvalidNonce = errors.New("crypto: invalid nonce size")

	// ErrKeyGenerationFailed indicates that key generation failed
	ErrKeyGenerationFailed = errors.New("crypto: key generation failed")

	// ErrSigningFailed indicates that signature generation failed
	ErrSigningFailed = errors.New("crypto: signing failed")

	// ErrVerificationFailed indicates a signature did not verify
	ErrVerificationFailed = errors.New("crypto: signature verification failed")

	// ErrEncapsulationFailed indicates that KEM encapsulation failed
	ErrEncapsulationFailed = errors.New("crypto: encapsulation failed")

	// ErrDecapsulationFailed indicates that KEM decapsulation failed
	ErrDecapsulationFailed = errors.New("crypto: decapsulation failed")

	// ErrInvalidPublicKey indicates that a public key is invalid
	ErrInvalidPublicKey = errors.New("crypto: invalid public key")

	// ErrInvalidPrivateKey indicates that a private key is invalid
	ErrInvalidPrivateKey = errors.New("crypto: invalid private key")

	// ErrUnsupportedStreamSuite indicates a stream cipher suite is not available
	ErrUnsupportedStreamSuite = errors.New("crypto: unsupported stream suite")

	// ErrSelfTestFailed indicates the power-on self test failed
	ErrSelfTestFailed = errors.New("crypto: self test failed")
)

// Sentinel errors for message parsing
var (
	// ErrMalformed indicates a wire message is malformed or has a wrong-size payload
	ErrMalformed = errors.New("protocol: malformed message")

	// ErrMessageTooLarge indicates a line exceeds the maximum size
	ErrMessageTooLarge = errors.New("protocol: message too large")

	// ErrInvalidMessage indicates a message cannot be encoded
	ErrInvalidMessage = errors.New("protocol: invalid message")
)

// Sentinel errors for the handshake state machine
var (
	// ErrUnexpectedMessage indicates a recognized message arrived in the wrong state
	ErrUnexpectedMessage = errors.New("protocol: unexpected message for state")

	// ErrMessageDisabled indicates a message kind the session's message set excludes
	ErrMessageDisabled = errors.New("protocol: message kind disabled")

	// ErrInvalidState indicates an operation is invalid in the current state
	ErrInvalidState = errors.New("protocol: invalid state")

	// ErrAlreadySet indicates a write-once session field was set twice
	ErrAlreadySet = errors.New("session: value already set")

	// ErrSessionClosed indicates the session has been torn down
	ErrSessionClosed = errors.New("session: closed")

	// ErrInvalidConfig indicates an invalid session configuration
	ErrInvalidConfig = errors.New("session: invalid configuration")
)

// Sentinel errors for transport operations
var (
	// ErrConnectionClosed indicates the peer closed the connection
	ErrConnectionClosed = errors.New("transport: connection closed")

	// ErrTimeout indicates an operation timed out
	ErrTimeout = errors.New("transport: operation timed out")

	// ErrRateLimited indicates a connection was refused by rate limiting
	ErrRateLimited = errors.New("transport: rate limited")
)

// ParseKind classifies a ParseError.
type ParseKind uint8

const (
	// Malformed covers bad tags, bad hex, and wrong payload sizes
	Malformed ParseKind = iota
	// Oversized covers lines beyond the framing limit
	Oversized
)

func (k ParseKind) String() string {
	switch k {
	case Malformed:
		return "malformed"
	case Oversized:
		return "oversized"
	default:
		return "unknown"
	}
}

// ParseError reports a message that could not be decoded.
type ParseError struct {
	Kind   ParseKind
	Detail string // what was wrong, never the payload itself
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %s: %v", e.Kind, e.Detail, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// NewMalformedError creates a Malformed ParseError wrapping ErrMalformed.
func NewMalformedError(format string, args ...interface{}) *ParseError {
	return &ParseError{Kind: Malformed, Detail: fmt.Sprintf(format, args...), Err: ErrMalformed}
}

// NewOversizedError creates an Oversized ParseError wrapping ErrMessageTooLarge.
func NewOversizedError(size, limit int) *ParseError {
	return &ParseError{
		Kind:   Oversized,
		Detail: fmt.Sprintf("%d bytes exceeds %d", size, limit),
		Err:    ErrMessageTooLarge,
	}
}

// SequenceError reports a recognized message received outside its valid state.
type SequenceError struct {
	State   string // state the session was in
	Message string // message type received
	Err     error
}

func (e *SequenceError) Error() string {
	return fmt.Sprintf("sequence: %s in state %s: %v", e.Message, e.State, e.Err)
}

func (e *SequenceError) Unwrap() error {
	return e.Err
}

// NewSequenceError creates a new SequenceError
func NewSequenceError(state, message string, err error) *SequenceError {
	return &SequenceError{State: state, Message: message, Err: err}
}

// CryptoError wraps a cryptographic error with additional context
type CryptoError struct {
	Op  string // Operation that failed
	Err error  // Underlying error
}

func (e *CryptoError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *CryptoError) Unwrap() error {
	return e.Err
}

// NewCryptoError creates a new CryptoError
func NewCryptoError(op string, err error) *CryptoError {
	return &CryptoError{Op: op, Err: err}
}

// TransportError wraps a read or write failure on the underlying stream.
type TransportError struct {
	Op  string // "read", "write", "dial", "accept"
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// NewTransportError creates a new TransportError
func NewTransportError(op string, err error) *TransportError {
	return &TransportError{Op: op, Err: err}
}

// IsFatal reports whether err must end the session. Parse errors are the only
// recoverable class; everything else, including unclassified errors, is fatal.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var pe *ParseError
	return !errors.As(err, &pe)
}

// Is reports whether any error in err's chain matches target.
// This is a convenience wrapper around errors.Is.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
// This is a convenience wrapper around errors.As.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
