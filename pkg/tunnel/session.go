// Package tunnel implements the pqlink handshake and connection handling.
//
// The tunnel provides:
//   - Responder authentication with ML-DSA-44 signatures over a timestamp
//   - Ephemeral ML-KEM-512 key establishment
//   - Keystream-encrypted confidential data in strict request/ack lockstep
//   - Per-IP connection limits and a global handshake rate limit
package tunnel

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	qerrors "github.com/pzverkov/pqlink/internal/errors"
	"github.com/pzverkov/pqlink/pkg/crypto"
)

// Session holds the per-connection handshake state and secrets. The shared
// secret and the ephemeral KEM keypair are each write-once.
type Session struct {
	id       string
	role     Role
	messages MessageSet
	clock    clock.Clock

	state atomic.Int32

	mu sync.Mutex

	kemPublicKey []byte
	kemSecretKey []byte
	kemSet       bool

	sharedSecret []byte
	secretSet    bool

	peerPublicKey    []byte
	peerTimestamp    int64
	hasPeerTimestamp bool

	createdAt     time.Time
	establishedAt time.Time

	err error

	observer Observer
	// traceCtx carries the handshake span while a Conn drives the handshake.
	traceCtx context.Context
}

// NewSession creates a session for role accepting the kinds in messages.
func NewSession(role Role, messages MessageSet) (*Session, error) {
	return newSession(role, messages, clock.New())
}

func newSession(role Role, messages MessageSet, clk clock.Clock) (*Session, error) {
	if err := messages.Validate(); err != nil {
		return nil, err
	}
	id, err := uuid.NewRandom()
	if err != nil {
		return nil, err
	}

	s := &Session{
		id:        id.String(),
		role:      role,
		messages:  messages,
		clock:     clk,
		createdAt: clk.Now(),
	}
	s.state.Store(int32(initialState(role, messages)))
	return s, nil
}

// ID returns the session's UUID.
func (s *Session) ID() string { return s.id }

// Role returns the endpoint role.
func (s *Session) Role() Role { return s.role }

// Messages returns the enabled message set.
func (s *Session) Messages() MessageSet { return s.messages }

// State returns the current state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Established reports whether the handshake is complete for the session's
// message set.
func (s *Session) Established() bool {
	return s.State() == readyState(s.role, s.messages)
}

// CreatedAt returns when the session was created.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// EstablishedAt returns when the handshake completed, or the zero time.
func (s *Session) EstablishedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.establishedAt
}

// SetObserver sets an observer for session lifecycle and metrics.
// Should be called during initialization before the handshake starts.
func (s *Session) SetObserver(observer Observer) {
	s.observer = observer
}

// advance moves the session forward to next. Moving backwards, or out of a
// terminal state, returns ErrInvalidState.
func (s *Session) advance(next State) error {
	for {
		cur := s.State()
		if cur.Terminal() || next <= cur {
			return qerrors.ErrInvalidState
		}
		if s.state.CompareAndSwap(int32(cur), int32(next)) {
			if next == readyState(s.role, s.messages) {
				s.mu.Lock()
				s.establishedAt = s.clock.Now()
				s.mu.Unlock()
			}
			if s.observer != nil {
				s.observer.OnStateChange(cur.String(), next.String())
			}
			return nil
		}
	}
}

// SetKEMKeyPair stores the ephemeral KEM keypair. It may be set once.
func (s *Session) SetKEMKeyPair(publicKey, secretKey []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.kemSet {
		return qerrors.ErrAlreadySet
	}
	if s.State().Terminal() {
		return qerrors.ErrSessionClosed
	}
	s.kemPublicKey = append([]byte(nil), publicKey...)
	s.kemSecretKey = append([]byte(nil), secretKey...)
	s.kemSet = true
	return nil
}

// KEMPublicKey returns a copy of the ephemeral KEM public key, or nil.
func (s *Session) KEMPublicKey() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clone(s.kemPublicKey)
}

// withKEMSecret runs fn on the ephemeral KEM secret key while holding the
// session lock, so a concurrent Wipe cannot zero it mid-use.
func (s *Session) withKEMSecret(fn func(secretKey []byte) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.kemSecretKey == nil {
		return qerrors.ErrSessionClosed
	}
	return fn(s.kemSecretKey)
}

// DiscardKEMSecret zeroizes the ephemeral KEM secret key. The public key is
// kept; the keypair stays marked as set.
func (s *Session) DiscardKEMSecret() {
	s.mu.Lock()
	defer s.mu.Unlock()
	crypto.Zeroize(s.kemSecretKey)
	s.kemSecretKey = nil
}

// SetSharedSecret stores the KEM shared secret. It may be set once.
func (s *Session) SetSharedSecret(secret []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.secretSet {
		return qerrors.ErrAlreadySet
	}
	if s.State().Terminal() {
		return qerrors.ErrSessionClosed
	}
	s.sharedSecret = append([]byte(nil), secret...)
	s.secretSet = true
	return nil
}

// SharedSecret returns a copy of the shared secret, or nil before
// establishment and after a wipe. The caller owns the copy and should
// zeroize it when done.
func (s *Session) SharedSecret() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clone(s.sharedSecret)
}

// withSharedSecret runs fn on the shared secret while holding the session
// lock. It fails with ErrSessionClosed once the secret has been wiped.
func (s *Session) withSharedSecret(fn func(secret []byte) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sharedSecret == nil {
		return qerrors.ErrSessionClosed
	}
	return fn(s.sharedSecret)
}

// PeerPublicKey returns the peer's static signing key (initiator only).
func (s *Session) PeerPublicKey() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clone(s.peerPublicKey)
}

func (s *Session) setPeerPublicKey(pk []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peerPublicKey = append([]byte(nil), pk...)
}

// PeerTimestamp returns the timestamp from the verified AuthReply.
func (s *Session) PeerTimestamp() (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peerTimestamp, s.hasPeerTimestamp
}

func (s *Session) setPeerTimestamp(ts int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peerTimestamp = ts
	s.hasPeerTimestamp = true
}

// Err returns the reason the session was closed, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Wipe zeroizes the shared secret and the ephemeral KEM secret key. The
// write-once flags are kept, so wiped values cannot be set again.
func (s *Session) Wipe() {
	s.mu.Lock()
	defer s.mu.Unlock()
	crypto.ZeroizeMultiple(s.sharedSecret, s.kemSecretKey)
	s.sharedSecret = nil
	s.kemSecretKey = nil
}

// Close wipes the session and moves it to StateClosed unless it is already
// terminal. The first non-nil reason is kept and returned by Err.
func (s *Session) Close(reason error) {
	s.terminate(StateClosed, reason)
}

// reject wipes the session and moves it to StateRejected.
func (s *Session) reject(reason error) {
	s.terminate(StateRejected, reason)
}

func (s *Session) terminate(to State, reason error) {
	s.Wipe()

	s.mu.Lock()
	if s.err == nil && reason != nil {
		s.err = reason
	}
	s.mu.Unlock()

	for {
		cur := s.State()
		if cur.Terminal() {
			return
		}
		if s.state.CompareAndSwap(int32(cur), int32(to)) {
			if s.observer != nil {
				s.observer.OnStateChange(cur.String(), to.String())
			}
			return
		}
	}
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}
