package tunnel

import (
	"strings"

	qerrors "github.com/pzverkov/pqlink/internal/errors"
	"github.com/pzverkov/pqlink/pkg/protocol"
)

// State is a handshake state. The numeric order is the order in which either
// role moves through the handshake, so a forward transition always increases
// the value.
type State int32

const (
	// StateIdle is the initiator's state before Start.
	StateIdle State = iota

	// StateAwaitingAuthRequest is the responder's initial state when
	// authentication is enabled.
	StateAwaitingAuthRequest

	// StateAwaitingAuthReply means the initiator sent AuthRequest.
	StateAwaitingAuthReply

	// StateAuthSent means the responder sent a signed AuthReply and now
	// waits for KemRequest.
	StateAuthSent

	// StateAuthVerified means the initiator verified the responder's
	// signature.
	StateAuthVerified

	// StateAwaitingKemInit means the initiator sent KemRequest.
	StateAwaitingKemInit

	// StateKemSent means the responder sent its ephemeral KEM public key.
	StateKemSent

	// StateAwaitingReady means the initiator sent KemCipher.
	StateAwaitingReady

	// StateSecretEstablished means both sides hold the shared secret.
	StateSecretEstablished

	// StateRejected is terminal: the responder failed authentication.
	StateRejected

	// StateClosed is terminal.
	StateClosed
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateAwaitingAuthRequest:
		return "AwaitingAuthRequest"
	case StateAwaitingAuthReply:
		return "AwaitingAuthReply"
	case StateAuthSent:
		return "AuthSent"
	case StateAuthVerified:
		return "AuthVerified"
	case StateAwaitingKemInit:
		return "AwaitingKemInit"
	case StateKemSent:
		return "KemSent"
	case StateAwaitingReady:
		return "AwaitingReady"
	case StateSecretEstablished:
		return "SecretEstablished"
	case StateRejected:
		return "Rejected"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateRejected || s == StateClosed
}

// Role indicates whether this endpoint is the initiator or responder.
type Role int

const (
	RoleInitiator Role = iota
	RoleResponder
)

func (r Role) String() string {
	if r == RoleResponder {
		return "responder"
	}
	return "initiator"
}

// MessageSet selects which message kinds a session accepts.
type MessageSet uint8

const (
	// MessagesAuth enables AuthRequest and AuthReply.
	MessagesAuth MessageSet = 1 << iota
	// MessagesKEM enables KemRequest, KemInit, KemCipher and Ready.
	MessagesKEM
	// MessagesConfidential enables ConfidentialData. Requires MessagesKEM.
	MessagesConfidential

	// MessagesAll enables the full protocol.
	MessagesAll = MessagesAuth | MessagesKEM | MessagesConfidential
)

// Has reports whether every kind in other is enabled.
func (m MessageSet) Has(other MessageSet) bool {
	return m&other == other
}

// Validate checks the set is usable.
func (m MessageSet) Validate() error {
	if m&MessagesAll == 0 || m&^MessagesAll != 0 {
		return qerrors.ErrInvalidConfig
	}
	if m.Has(MessagesConfidential) && !m.Has(MessagesKEM) {
		return qerrors.ErrInvalidConfig
	}
	return nil
}

// Allows reports whether a message of type t may be processed. Ack and
// Unknown are always allowed.
func (m MessageSet) Allows(t protocol.MessageType) bool {
	switch t {
	case protocol.MessageTypeAuthRequest, protocol.MessageTypeAuthReply:
		return m.Has(MessagesAuth)
	case protocol.MessageTypeKemRequest, protocol.MessageTypeKemInit,
		protocol.MessageTypeKemCipher, protocol.MessageTypeReady:
		return m.Has(MessagesKEM)
	case protocol.MessageTypeConfidentialData:
		return m.Has(MessagesConfidential)
	default:
		return true
	}
}

func (m MessageSet) String() string {
	var parts []string
	if m.Has(MessagesAuth) {
		parts = append(parts, "auth")
	}
	if m.Has(MessagesKEM) {
		parts = append(parts, "kem")
	}
	if m.Has(MessagesConfidential) {
		parts = append(parts, "confidential")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "+")
}

// ParseMessageSet parses a '+' or ',' separated list such as "auth+kem".
// "all" selects MessagesAll.
func ParseMessageSet(s string) (MessageSet, error) {
	var m MessageSet
	for _, f := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool { return r == '+' || r == ',' }) {
		switch strings.TrimSpace(f) {
		case "all":
			m |= MessagesAll
		case "auth":
			m |= MessagesAuth
		case "kem":
			m |= MessagesKEM
		case "confidential", "data":
			m |= MessagesConfidential
		default:
			return 0, qerrors.ErrInvalidConfig
		}
	}
	if err := m.Validate(); err != nil {
		return 0, err
	}
	return m, nil
}

// initialState is where a fresh session of role starts.
func initialState(role Role, messages MessageSet) State {
	if role == RoleInitiator {
		return StateIdle
	}
	if messages.Has(MessagesAuth) {
		return StateAwaitingAuthRequest
	}
	return StateAuthSent
}

// readyState is the state in which the handshake is complete for the set.
func readyState(role Role, messages MessageSet) State {
	switch {
	case messages.Has(MessagesKEM):
		return StateSecretEstablished
	case role == RoleResponder:
		return StateAuthSent
	default:
		return StateAuthVerified
	}
}
