// handshake.go holds what the responder and initiator state machines share.
//
// Handshake Protocol:
//
//	Initiator                              Responder
//	    |                                      |
//	    | -------- AuthRequest --------------> |
//	    | <------- AuthReply ----------------- |
//	    |   - unix timestamp                   |
//	    |   - ML-DSA-44 signature              |
//	    |                                      |
//	    | -------- Ack (optional) -----------> |
//	    | -------- KemRequest ---------------> |
//	    | <------- KemInit ------------------- |
//	    |   - ephemeral ML-KEM-512 public key  |
//	    |                                      |
//	    | -------- KemCipher ----------------> |
//	    | <------- Ready --------------------- |
//	    |                                      |
//	    |     === Secret Established ===       |
//
// A recognized message outside its state, or one disabled by the session's
// message set, aborts the session: secrets are wiped, the state becomes
// Closed, and no reply is sent.
package tunnel

import (
	"context"

	qerrors "github.com/pzverkov/pqlink/internal/errors"
	"github.com/pzverkov/pqlink/pkg/crypto"
	"github.com/pzverkov/pqlink/pkg/protocol"
)

// Result is the outcome of handling one message.
type Result struct {
	// Reply is the message to send back, or nil.
	Reply protocol.Message

	// Plaintext is the decrypted payload of a ConfidentialData message.
	Plaintext []byte

	// Unknown is set when an unrecognized line was received.
	Unknown *protocol.Unknown

	// Acked is set when the handled message was an Ack.
	Acked bool
}

// value strips the pointer from pointer message variants so the state
// machines only switch on values.
func value(m protocol.Message) protocol.Message {
	switch m := m.(type) {
	case *protocol.AuthRequest:
		return *m
	case *protocol.AuthReply:
		return *m
	case *protocol.KemRequest:
		return *m
	case *protocol.KemInit:
		return *m
	case *protocol.KemCipher:
		return *m
	case *protocol.Ready:
		return *m
	case *protocol.Ack:
		return *m
	case *protocol.ConfidentialData:
		return *m
	case *protocol.Unknown:
		return *m
	}
	return m
}

// preamble handles what every state accepts. done is true when the message
// needs no further processing.
func preamble(s *Session, m protocol.Message) (res Result, done bool, err error) {
	if m == nil {
		return Result{}, true, qerrors.ErrInvalidMessage
	}
	if s.State().Terminal() {
		return Result{}, true, qerrors.ErrSessionClosed
	}
	switch m := m.(type) {
	case protocol.Ack:
		return Result{Acked: true}, true, nil
	case protocol.Unknown:
		if s.observer != nil {
			s.observer.OnUnknownMessage(m.Raw)
		}
		return Result{Unknown: &m}, true, nil
	}
	if !s.messages.Allows(m.Type()) {
		return Result{}, true, abort(s, qerrors.NewSequenceError(s.State().String(), m.Type().String(), qerrors.ErrMessageDisabled))
	}
	return Result{}, false, nil
}

// unexpected aborts the session for a message received in the wrong state.
func unexpected(s *Session, m protocol.Message) error {
	return abort(s, qerrors.NewSequenceError(s.State().String(), m.Type().String(), qerrors.ErrUnexpectedMessage))
}

// abort closes the session with err and returns err.
func abort(s *Session, err error) error {
	if s.observer != nil {
		var se *qerrors.SequenceError
		var ce *qerrors.CryptoError
		switch {
		case qerrors.As(err, &se):
			s.observer.OnSequenceError(err)
		case qerrors.As(err, &ce):
			s.observer.OnCryptoError(ce.Op, err)
		}
	}
	s.Close(err)
	return err
}

// cryptoOp reports the start of a primitive to the observer and returns the
// function that reports its outcome.
func cryptoOp(s *Session, op string) func(error) {
	if s.observer == nil {
		return func(error) {}
	}
	ctx := s.traceCtx
	if ctx == nil {
		ctx = context.Background()
	}
	_, done := s.observer.OnCryptoOp(ctx, op)
	return done
}

// applyKeystream XORs data with the keystream for nonce under the session's
// shared secret.
func applyKeystream(p crypto.Provider, s *Session, nonce, data []byte) ([]byte, error) {
	var ks []byte
	err := s.withSharedSecret(func(secret []byte) error {
		var err error
		ks, err = p.StreamCipher(secret, nonce, len(data))
		return err
	})
	if err != nil {
		if qerrors.Is(err, qerrors.ErrSessionClosed) {
			return nil, err
		}
		return nil, qerrors.NewCryptoError("keystream", err)
	}
	out := make([]byte, len(data))
	crypto.XOR(out, data, ks)
	crypto.Zeroize(ks)
	return out, nil
}
