package tunnel

import (
	"fmt"

	"github.com/pzverkov/pqlink/internal/constants"
	qerrors "github.com/pzverkov/pqlink/internal/errors"
	"github.com/pzverkov/pqlink/pkg/crypto"
	"github.com/pzverkov/pqlink/pkg/protocol"
)

// Initiator drives the initiator side of the handshake for one session.
// It is not safe for concurrent use.
type Initiator struct {
	session  *Session
	provider crypto.Provider
	sendAck  bool
}

// NewInitiator creates an initiator that authenticates the responder
// against peerPublicKey. The key may be nil when authentication is disabled.
func NewInitiator(session *Session, peerPublicKey []byte, p crypto.Provider) (*Initiator, error) {
	if session == nil || p == nil || session.Role() != RoleInitiator {
		return nil, qerrors.ErrInvalidConfig
	}
	if session.Messages().Has(MessagesAuth) {
		if len(peerPublicKey) != p.Sizes().SigningPublicKey {
			return nil, qerrors.ErrInvalidPublicKey
		}
		session.setPeerPublicKey(peerPublicKey)
	}
	return &Initiator{session: session, provider: p}, nil
}

// SetSendAck makes Handle reply Ack to a verified AuthReply.
func (i *Initiator) SetSendAck(v bool) { i.sendAck = v }

// Session returns the initiator's session.
func (i *Initiator) Session() *Session { return i.session }

// Start opens the handshake. With authentication enabled it returns
// AuthRequest; otherwise it requests a KEM key directly.
func (i *Initiator) Start() (protocol.Message, error) {
	s := i.session
	if s.State() != StateIdle {
		return nil, fmt.Errorf("start in state %s: %w", s.State(), qerrors.ErrInvalidState)
	}
	if !s.messages.Has(MessagesAuth) {
		return i.RequestKEM()
	}
	if err := s.advance(StateAwaitingAuthReply); err != nil {
		return nil, err
	}
	return protocol.AuthRequest{}, nil
}

// RequestKEM returns KemRequest. It is valid once the responder is verified,
// or from Idle when authentication is disabled.
func (i *Initiator) RequestKEM() (protocol.Message, error) {
	s := i.session
	if !s.messages.Has(MessagesKEM) {
		return nil, qerrors.ErrMessageDisabled
	}
	state := s.State()
	ok := state == StateAuthVerified || (state == StateIdle && !s.messages.Has(MessagesAuth))
	if !ok {
		return nil, fmt.Errorf("kem request in state %s: %w", state, qerrors.ErrInvalidState)
	}
	if err := s.advance(StateAwaitingKemInit); err != nil {
		return nil, err
	}
	return protocol.KemRequest{}, nil
}

// Handle processes one received message and returns the reply to send, if
// any. A failed signature check moves the session to StateRejected; any
// other error that is not a *ParseError means the session has been closed.
func (i *Initiator) Handle(m protocol.Message) (Result, error) {
	m = value(m)
	s := i.session
	if res, done, err := preamble(s, m); done {
		return res, err
	}

	switch m := m.(type) {
	case protocol.AuthReply:
		if s.State() != StateAwaitingAuthReply {
			return Result{}, unexpected(s, m)
		}
		return i.handleAuthReply(m)

	case protocol.KemInit:
		if s.State() != StateAwaitingKemInit {
			return Result{}, unexpected(s, m)
		}
		return i.handleKemInit(m)

	case protocol.Ready:
		if s.State() != StateAwaitingReady {
			return Result{}, unexpected(s, m)
		}
		if err := s.advance(StateSecretEstablished); err != nil {
			return Result{}, abort(s, err)
		}
		return Result{}, nil

	case protocol.ConfidentialData:
		if s.State() != StateSecretEstablished {
			return Result{}, unexpected(s, m)
		}
		pt, err := applyKeystream(i.provider, s, m.Nonce, m.Ciphertext)
		if err != nil {
			return Result{}, abort(s, err)
		}
		return Result{Plaintext: pt}, nil

	default:
		return Result{}, unexpected(s, m)
	}
}

func (i *Initiator) handleAuthReply(m protocol.AuthReply) (Result, error) {
	s := i.session
	done := cryptoOp(s, "verify")
	ok := i.provider.Verify(s.PeerPublicKey(), m.SignedPlaintext(), m.Signature)
	if !ok {
		done(qerrors.ErrVerificationFailed)
		err := qerrors.NewCryptoError("verify", qerrors.ErrVerificationFailed)
		if s.observer != nil {
			s.observer.OnAuthFailure()
		}
		s.reject(err)
		return Result{}, err
	}
	done(nil)
	s.setPeerTimestamp(m.Timestamp)
	if err := s.advance(StateAuthVerified); err != nil {
		return Result{}, abort(s, err)
	}
	if i.sendAck {
		return Result{Reply: protocol.Ack{}}, nil
	}
	return Result{}, nil
}

func (i *Initiator) handleKemInit(m protocol.KemInit) (Result, error) {
	s := i.session
	done := cryptoOp(s, "encapsulate")
	ct, ss, err := i.provider.KEMEncapsulate(m.PublicKey)
	done(err)
	if err != nil {
		return Result{}, abort(s, qerrors.NewCryptoError("encapsulate", err))
	}
	err = s.SetSharedSecret(ss)
	crypto.Zeroize(ss)
	if err != nil {
		return Result{}, abort(s, err)
	}
	if err := s.advance(StateAwaitingReady); err != nil {
		return Result{}, abort(s, err)
	}
	return Result{Reply: protocol.KemCipher{Ciphertext: ct}}, nil
}

// Seal encrypts plaintext under a fresh random nonce.
func (i *Initiator) Seal(plaintext []byte) (protocol.ConfidentialData, error) {
	s := i.session
	if !s.messages.Has(MessagesConfidential) {
		return protocol.ConfidentialData{}, qerrors.ErrMessageDisabled
	}
	if s.State() != StateSecretEstablished {
		return protocol.ConfidentialData{}, fmt.Errorf("seal in state %s: %w", s.State(), qerrors.ErrInvalidState)
	}
	if len(plaintext) == 0 {
		return protocol.ConfidentialData{}, qerrors.ErrInvalidMessage
	}
	if len(plaintext) > constants.MaxPayloadSize {
		return protocol.ConfidentialData{}, qerrors.ErrMessageTooLarge
	}
	nonce, err := crypto.SecureRandomBytes(i.provider.Sizes().Nonce)
	if err != nil {
		return protocol.ConfidentialData{}, qerrors.NewCryptoError("nonce", err)
	}
	ct, err := applyKeystream(i.provider, s, nonce, plaintext)
	if err != nil {
		return protocol.ConfidentialData{}, err
	}
	return protocol.ConfidentialData{Nonce: nonce, Ciphertext: ct}, nil
}
