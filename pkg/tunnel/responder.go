package tunnel

import (
	"github.com/benbjohnson/clock"

	qerrors "github.com/pzverkov/pqlink/internal/errors"
	"github.com/pzverkov/pqlink/pkg/crypto"
	"github.com/pzverkov/pqlink/pkg/identity"
	"github.com/pzverkov/pqlink/pkg/protocol"
)

// Responder drives the responder side of the handshake for one session.
// It is not safe for concurrent use.
type Responder struct {
	session  *Session
	identity *identity.Identity
	provider crypto.Provider
	clock    clock.Clock
}

// NewResponder creates a responder that signs with id. A nil clk uses the
// wall clock.
func NewResponder(session *Session, id *identity.Identity, p crypto.Provider, clk clock.Clock) (*Responder, error) {
	if session == nil || p == nil || session.Role() != RoleResponder {
		return nil, qerrors.ErrInvalidConfig
	}
	if session.Messages().Has(MessagesAuth) && (id == nil || len(id.SecretKey) != p.Sizes().SigningSecretKey) {
		return nil, qerrors.ErrInvalidPrivateKey
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Responder{session: session, identity: id, provider: p, clock: clk}, nil
}

// Session returns the responder's session.
func (r *Responder) Session() *Session { return r.session }

// Handle processes one received message and returns the reply to send, if
// any. A returned error that is not a *ParseError means the session has been
// closed.
func (r *Responder) Handle(m protocol.Message) (Result, error) {
	m = value(m)
	s := r.session
	if res, done, err := preamble(s, m); done {
		return res, err
	}

	switch m := m.(type) {
	case protocol.AuthRequest:
		if s.State() != StateAwaitingAuthRequest {
			return Result{}, unexpected(s, m)
		}
		return r.handleAuthRequest()

	case protocol.KemRequest:
		if s.State() != StateAuthSent {
			return Result{}, unexpected(s, m)
		}
		return r.handleKemRequest()

	case protocol.KemCipher:
		if s.State() != StateKemSent {
			return Result{}, unexpected(s, m)
		}
		return r.handleKemCipher(m)

	case protocol.ConfidentialData:
		if s.State() != StateSecretEstablished {
			return Result{}, unexpected(s, m)
		}
		return r.handleConfidentialData(m)

	default:
		return Result{}, unexpected(s, m)
	}
}

func (r *Responder) handleAuthRequest() (Result, error) {
	ts := r.clock.Now().Unix()
	done := cryptoOp(r.session, "sign")
	sig, err := r.provider.Sign(r.identity.SecretKey, protocol.SignedPlaintext(ts))
	done(err)
	if err != nil {
		return Result{}, abort(r.session, qerrors.NewCryptoError("sign", err))
	}
	if err := r.session.advance(StateAuthSent); err != nil {
		return Result{}, abort(r.session, err)
	}
	return Result{Reply: protocol.AuthReply{Timestamp: ts, Signature: sig}}, nil
}

func (r *Responder) handleKemRequest() (Result, error) {
	pk, sk, err := r.provider.KEMKeygen()
	if err != nil {
		return Result{}, abort(r.session, qerrors.NewCryptoError("kem keygen", err))
	}
	err = r.session.SetKEMKeyPair(pk, sk)
	crypto.Zeroize(sk)
	if err != nil {
		return Result{}, abort(r.session, err)
	}
	if err := r.session.advance(StateKemSent); err != nil {
		return Result{}, abort(r.session, err)
	}
	return Result{Reply: protocol.KemInit{PublicKey: pk}}, nil
}

func (r *Responder) handleKemCipher(m protocol.KemCipher) (Result, error) {
	s := r.session
	var ss []byte
	done := cryptoOp(s, "decapsulate")
	err := s.withKEMSecret(func(sk []byte) error {
		var err error
		ss, err = r.provider.KEMDecapsulate(sk, m.Ciphertext)
		return err
	})
	done(err)
	if err != nil {
		return Result{}, abort(s, qerrors.NewCryptoError("decapsulate", err))
	}
	err = s.SetSharedSecret(ss)
	crypto.Zeroize(ss)
	if err != nil {
		return Result{}, abort(s, err)
	}
	s.DiscardKEMSecret()
	if err := s.advance(StateSecretEstablished); err != nil {
		return Result{}, abort(s, err)
	}
	return Result{Reply: protocol.Ready{}}, nil
}

func (r *Responder) handleConfidentialData(m protocol.ConfidentialData) (Result, error) {
	pt, err := applyKeystream(r.provider, r.session, m.Nonce, m.Ciphertext)
	if err != nil {
		return Result{}, abort(r.session, err)
	}
	return Result{Reply: protocol.Ack{}, Plaintext: pt}, nil
}
