package tunnel

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/pzverkov/pqlink/internal/constants"
	qerrors "github.com/pzverkov/pqlink/internal/errors"
	"github.com/pzverkov/pqlink/pkg/crypto"
	"github.com/pzverkov/pqlink/pkg/identity"
	"github.com/pzverkov/pqlink/pkg/protocol"
)

const testTimestamp = 1700000000

var (
	testIdentityOnce sync.Once
	testIdentity     *identity.Identity
)

// sharedIdentity returns one signing identity for the whole package; key
// generation dominates test time otherwise.
func sharedIdentity(t testing.TB) *identity.Identity {
	t.Helper()
	testIdentityOnce.Do(func() {
		id, err := identity.Generate(crypto.DefaultProvider())
		if err != nil {
			t.Fatalf("identity.Generate failed: %v", err)
		}
		testIdentity = id
	})
	return testIdentity
}

type pair struct {
	provider  *crypto.CirclProvider
	clock     *clock.Mock
	id        *identity.Identity
	responder *Responder
	initiator *Initiator
}

func newPair(t *testing.T, messages MessageSet) *pair {
	t.Helper()
	p := crypto.DefaultProvider()
	mock := clock.NewMock()
	mock.Set(time.Unix(testTimestamp, 0))
	id := sharedIdentity(t)

	rs, err := newSession(RoleResponder, messages, mock)
	if err != nil {
		t.Fatalf("responder session: %v", err)
	}
	r, err := NewResponder(rs, id, p, mock)
	if err != nil {
		t.Fatalf("NewResponder failed: %v", err)
	}
	is, err := newSession(RoleInitiator, messages, mock)
	if err != nil {
		t.Fatalf("initiator session: %v", err)
	}
	i, err := NewInitiator(is, id.PublicKey, p)
	if err != nil {
		t.Fatalf("NewInitiator failed: %v", err)
	}
	return &pair{provider: p, clock: mock, id: id, responder: r, initiator: i}
}

// deliver hands m to the responder and expects a reply.
func (p *pair) toResponder(t *testing.T, m protocol.Message) protocol.Message {
	t.Helper()
	res, err := p.responder.Handle(m)
	if err != nil {
		t.Fatalf("responder.Handle(%T) failed: %v", m, err)
	}
	return res.Reply
}

func (p *pair) toInitiator(t *testing.T, m protocol.Message) protocol.Message {
	t.Helper()
	res, err := p.initiator.Handle(m)
	if err != nil {
		t.Fatalf("initiator.Handle(%T) failed: %v", m, err)
	}
	return res.Reply
}

// establish runs the full handshake for MessagesAll.
func (p *pair) establish(t *testing.T) {
	t.Helper()
	req, err := p.initiator.Start()
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	reply := p.toResponder(t, req)
	if p.toInitiator(t, reply) != nil {
		t.Fatal("unexpected reply to AuthReply without SendAck")
	}
	kemReq, err := p.initiator.RequestKEM()
	if err != nil {
		t.Fatalf("RequestKEM failed: %v", err)
	}
	kemInit := p.toResponder(t, kemReq)
	kemCipher := p.toInitiator(t, kemInit)
	ready := p.toResponder(t, kemCipher)
	if p.toInitiator(t, ready) != nil {
		t.Fatal("unexpected reply to Ready")
	}
}

func TestFullHandshake(t *testing.T) {
	p := newPair(t, MessagesAll)
	rs, is := p.responder.Session(), p.initiator.Session()

	req, err := p.initiator.Start()
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if _, ok := req.(protocol.AuthRequest); !ok {
		t.Fatalf("Start returned %T, want AuthRequest", req)
	}
	if is.State() != StateAwaitingAuthReply {
		t.Errorf("initiator state = %v", is.State())
	}

	reply := p.toResponder(t, req)
	ar, ok := reply.(protocol.AuthReply)
	if !ok {
		t.Fatalf("reply to AuthRequest is %T", reply)
	}
	if ar.Timestamp != testTimestamp {
		t.Errorf("AuthReply timestamp = %d, want the injected clock's %d", ar.Timestamp, testTimestamp)
	}
	if !p.provider.Verify(p.id.PublicKey, []byte("AuthReply:1700000000"), ar.Signature) {
		t.Error("AuthReply signature does not cover \"AuthReply:<ts>\"")
	}
	if rs.State() != StateAuthSent {
		t.Errorf("responder state = %v, want AuthSent", rs.State())
	}

	p.toInitiator(t, reply)
	if is.State() != StateAuthVerified {
		t.Errorf("initiator state = %v, want AuthVerified", is.State())
	}
	if ts, ok := is.PeerTimestamp(); !ok || ts != testTimestamp {
		t.Errorf("PeerTimestamp = %d, %v", ts, ok)
	}

	kemReq, err := p.initiator.RequestKEM()
	if err != nil {
		t.Fatalf("RequestKEM failed: %v", err)
	}
	kemInit, ok := p.toResponder(t, kemReq).(protocol.KemInit)
	if !ok {
		t.Fatal("reply to KemRequest is not KemInit")
	}
	if len(kemInit.PublicKey) != constants.MLKEMPublicKeySize || !bytes.Equal(kemInit.PublicKey, rs.KEMPublicKey()) {
		t.Error("KemInit does not carry the session's ephemeral public key")
	}
	if rs.State() != StateKemSent {
		t.Errorf("responder state = %v, want KemSent", rs.State())
	}

	kemCipher, ok := p.toInitiator(t, kemInit).(protocol.KemCipher)
	if !ok {
		t.Fatal("reply to KemInit is not KemCipher")
	}
	if is.State() != StateAwaitingReady {
		t.Errorf("initiator state = %v, want AwaitingReady", is.State())
	}

	if _, ok := p.toResponder(t, kemCipher).(protocol.Ready); !ok {
		t.Fatal("reply to KemCipher is not Ready")
	}
	if rs.kemSecretKey != nil {
		t.Error("responder kept the KEM secret after decapsulation")
	}
	p.toInitiator(t, protocol.Ready{})

	if !rs.Established() || !is.Established() {
		t.Fatalf("not established: responder %v, initiator %v", rs.State(), is.State())
	}
	if !bytes.Equal(rs.SharedSecret(), is.SharedSecret()) || len(rs.SharedSecret()) != constants.MLKEMSharedSecretSize {
		t.Fatal("shared secrets differ")
	}
}

func TestConfidentialDataRoundTrip(t *testing.T) {
	for _, suite := range crypto.SupportedStreamSuites() {
		t.Run(suite.String(), func(t *testing.T) {
			p := newPair(t, MessagesAll)
			prov, err := crypto.NewProvider(suite)
			if err != nil {
				t.Fatalf("NewProvider failed: %v", err)
			}
			p.provider = prov
			p.responder.provider = prov
			p.initiator.provider = prov
			p.establish(t)

			msg := []byte("Hello from the initiator")
			cd, err := p.initiator.Seal(msg)
			if err != nil {
				t.Fatalf("Seal failed: %v", err)
			}
			if len(cd.Nonce) != suite.NonceSize() {
				t.Errorf("nonce size = %d, want %d", len(cd.Nonce), suite.NonceSize())
			}
			if bytes.Equal(cd.Ciphertext, msg) {
				t.Error("ciphertext equals plaintext")
			}

			res, err := p.responder.Handle(cd)
			if err != nil {
				t.Fatalf("Handle(ConfidentialData) failed: %v", err)
			}
			if !bytes.Equal(res.Plaintext, msg) {
				t.Errorf("plaintext = %q", res.Plaintext)
			}
			if _, ok := res.Reply.(protocol.Ack); !ok {
				t.Errorf("reply = %T, want Ack", res.Reply)
			}
			if p.responder.Session().State() != StateSecretEstablished {
				t.Error("ConfidentialData changed responder state")
			}

			again, _ := p.initiator.Seal(msg)
			if bytes.Equal(again.Nonce, cd.Nonce) {
				t.Error("Seal reused a nonce")
			}
		})
	}
}

func TestSendAckAfterVerification(t *testing.T) {
	p := newPair(t, MessagesAll)
	p.initiator.SetSendAck(true)

	req, _ := p.initiator.Start()
	reply := p.toResponder(t, req)
	if _, ok := p.toInitiator(t, reply).(protocol.Ack); !ok {
		t.Fatal("initiator did not reply Ack with SendAck set")
	}

	res, err := p.responder.Handle(protocol.Ack{})
	if err != nil || res.Reply != nil || !res.Acked {
		t.Errorf("responder Ack handling: %+v, %v", res, err)
	}
	if p.responder.Session().State() != StateAuthSent {
		t.Errorf("Ack moved responder to %v", p.responder.Session().State())
	}
}

func TestAckIsNoOpEverywhere(t *testing.T) {
	p := newPair(t, MessagesAll)
	for i := 0; i < 3; i++ {
		if res, err := p.responder.Handle(protocol.Ack{}); err != nil || res.Reply != nil {
			t.Fatalf("responder Ack: %+v, %v", res, err)
		}
		if res, err := p.initiator.Handle(protocol.Ack{}); err != nil || res.Reply != nil {
			t.Fatalf("initiator Ack: %+v, %v", res, err)
		}
	}
	if p.responder.Session().State() != StateAwaitingAuthRequest || p.initiator.Session().State() != StateIdle {
		t.Error("Ack changed state")
	}
}

func TestUnknownIsSurfacedNotFatal(t *testing.T) {
	p := newPair(t, MessagesAll)
	res, err := p.responder.Handle(protocol.Unknown{Raw: "Hello:world"})
	if err != nil {
		t.Fatalf("Unknown returned error: %v", err)
	}
	if res.Unknown == nil || res.Unknown.Raw != "Hello:world" {
		t.Errorf("Unknown not surfaced: %+v", res)
	}
	if res.Reply != nil {
		t.Errorf("Unknown produced reply %T", res.Reply)
	}
	if p.responder.Session().State() != StateAwaitingAuthRequest {
		t.Error("Unknown changed state")
	}
}

func TestSequenceErrorsAbort(t *testing.T) {
	tests := []struct {
		name  string
		setup func(p *pair, t *testing.T)
		send  protocol.Message
	}{
		{"KemRequest before auth", func(*pair, *testing.T) {}, protocol.KemRequest{}},
		{"KemCipher before KemRequest", func(p *pair, t *testing.T) {
			req, _ := p.initiator.Start()
			p.toResponder(t, req)
		}, protocol.KemCipher{Ciphertext: make([]byte, constants.MLKEMCiphertextSize)}},
		{"second AuthRequest", func(p *pair, t *testing.T) {
			p.toResponder(t, protocol.AuthRequest{})
		}, protocol.AuthRequest{}},
		{"ConfidentialData before secret", func(p *pair, t *testing.T) {
			p.toResponder(t, protocol.AuthRequest{})
		}, protocol.ConfidentialData{Nonce: make([]byte, 16), Ciphertext: []byte{1}}},
		{"initiator-only message", func(*pair, *testing.T) {}, protocol.Ready{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newPair(t, MessagesAll)
			tt.setup(p, t)
			rs := p.responder.Session()

			res, err := p.responder.Handle(tt.send)
			var se *qerrors.SequenceError
			if !errors.As(err, &se) || !errors.Is(err, qerrors.ErrUnexpectedMessage) {
				t.Fatalf("err = %v, want SequenceError(ErrUnexpectedMessage)", err)
			}
			if res.Reply != nil {
				t.Errorf("aborted session replied %T", res.Reply)
			}
			if rs.State() != StateClosed {
				t.Errorf("state = %v, want Closed", rs.State())
			}
			if rs.SharedSecret() != nil || rs.kemSecretKey != nil {
				t.Error("secrets survive abort")
			}
			if !errors.Is(rs.Err(), qerrors.ErrUnexpectedMessage) {
				t.Errorf("Err = %v", rs.Err())
			}

			if _, err := p.responder.Handle(protocol.AuthRequest{}); !errors.Is(err, qerrors.ErrSessionClosed) {
				t.Errorf("Handle after abort: err = %v", err)
			}
		})
	}
}

func TestInitiatorSequenceErrors(t *testing.T) {
	p := newPair(t, MessagesAll)
	_, _ = p.initiator.Start()

	_, err := p.initiator.Handle(protocol.KemInit{PublicKey: make([]byte, constants.MLKEMPublicKeySize)})
	if !errors.Is(err, qerrors.ErrUnexpectedMessage) {
		t.Fatalf("KemInit while awaiting AuthReply: err = %v", err)
	}
	if p.initiator.Session().State() != StateClosed {
		t.Errorf("state = %v, want Closed", p.initiator.Session().State())
	}
}

func TestTamperedAuthReplyRejected(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(ar *protocol.AuthReply)
	}{
		{"timestamp", func(ar *protocol.AuthReply) { ar.Timestamp++ }},
		{"signature", func(ar *protocol.AuthReply) { ar.Signature[10] ^= 0x01 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newPair(t, MessagesAll)
			req, _ := p.initiator.Start()
			ar := p.toResponder(t, req).(protocol.AuthReply)
			ar.Signature = append([]byte(nil), ar.Signature...)
			tt.mutate(&ar)

			_, err := p.initiator.Handle(ar)
			if !errors.Is(err, qerrors.ErrVerificationFailed) {
				t.Fatalf("err = %v, want ErrVerificationFailed", err)
			}
			var ce *qerrors.CryptoError
			if !errors.As(err, &ce) {
				t.Errorf("err is %T, want *CryptoError", err)
			}
			is := p.initiator.Session()
			if is.State() != StateRejected {
				t.Errorf("state = %v, want Rejected", is.State())
			}
			if _, ok := is.PeerTimestamp(); ok {
				t.Error("timestamp recorded for a rejected reply")
			}
			if _, err := p.initiator.RequestKEM(); err == nil {
				t.Error("RequestKEM allowed after rejection")
			}
		})
	}
}

func TestZeroPaddedAuthReplyAccepted(t *testing.T) {
	p := newPair(t, MessagesAll)
	if _, err := p.initiator.Start(); err != nil {
		t.Fatal(err)
	}
	sig, err := p.provider.Sign(p.id.SecretKey, []byte("AuthReply:0001700000000"))
	if err != nil {
		t.Fatal(err)
	}
	line := "AuthReply:0001700000000|signature:" + protocol.EncodeHex(sig)
	m, err := protocol.NewCodec(p.provider.Sizes()).Decode([]byte(line))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if _, err := p.initiator.Handle(m); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	is := p.initiator.Session()
	if is.State() != StateAuthVerified {
		t.Errorf("state = %v, want AuthVerified", is.State())
	}
	if ts, ok := is.PeerTimestamp(); !ok || ts != testTimestamp {
		t.Errorf("PeerTimestamp = %d, %v", ts, ok)
	}
}

func TestWrongPeerKeyRejected(t *testing.T) {
	p := newPair(t, MessagesAll)
	other, err := identity.Generate(p.provider)
	if err != nil {
		t.Fatal(err)
	}
	is, _ := newSession(RoleInitiator, MessagesAll, p.clock)
	i, err := NewInitiator(is, other.PublicKey, p.provider)
	if err != nil {
		t.Fatal(err)
	}

	req, _ := i.Start()
	reply := p.toResponder(t, req)
	if _, err := i.Handle(reply); !errors.Is(err, qerrors.ErrVerificationFailed) {
		t.Errorf("err = %v, want ErrVerificationFailed", err)
	}
}

func TestMessageSetGating(t *testing.T) {
	t.Run("auth only", func(t *testing.T) {
		p := newPair(t, MessagesAuth)
		req, _ := p.initiator.Start()
		p.toInitiator(t, p.toResponder(t, req))
		if !p.responder.Session().Established() || !p.initiator.Session().Established() {
			t.Fatal("auth-only handshake did not complete")
		}
		if _, err := p.initiator.RequestKEM(); !errors.Is(err, qerrors.ErrMessageDisabled) {
			t.Errorf("RequestKEM: err = %v", err)
		}

		_, err := p.responder.Handle(protocol.KemRequest{})
		if !errors.Is(err, qerrors.ErrMessageDisabled) {
			t.Errorf("KemRequest with KEM disabled: err = %v", err)
		}
		if p.responder.Session().State() != StateClosed {
			t.Error("disabled message did not abort")
		}
	})

	t.Run("kem only", func(t *testing.T) {
		p := newPair(t, MessagesKEM)
		if p.responder.Session().State() != StateAuthSent {
			t.Fatalf("responder starts in %v", p.responder.Session().State())
		}
		first, err := p.initiator.Start()
		if err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		if _, ok := first.(protocol.KemRequest); !ok {
			t.Fatalf("Start returned %T, want KemRequest", first)
		}
		kemInit := p.toResponder(t, first)
		ready := p.toResponder(t, p.toInitiator(t, kemInit))
		p.toInitiator(t, ready)
		if !p.initiator.Session().Established() || !p.responder.Session().Established() {
			t.Fatal("kem-only handshake did not complete")
		}
		if _, err := p.initiator.Seal([]byte("x")); !errors.Is(err, qerrors.ErrMessageDisabled) {
			t.Errorf("Seal with confidential disabled: err = %v", err)
		}
	})

	t.Run("auth request disabled", func(t *testing.T) {
		p := newPair(t, MessagesKEM|MessagesConfidential)
		_, err := p.responder.Handle(protocol.AuthRequest{})
		if !errors.Is(err, qerrors.ErrMessageDisabled) {
			t.Errorf("AuthRequest with auth disabled: err = %v", err)
		}
	})
}

func TestPointerMessages(t *testing.T) {
	p := newPair(t, MessagesAll)
	res, err := p.responder.Handle(&protocol.AuthRequest{})
	if err != nil {
		t.Fatalf("Handle(*AuthRequest) failed: %v", err)
	}
	ar := res.Reply.(protocol.AuthReply)
	if _, err := p.initiator.Start(); err != nil {
		t.Fatal(err)
	}
	if _, err := p.initiator.Handle(&ar); err != nil {
		t.Errorf("Handle(*AuthReply) failed: %v", err)
	}
}

func TestStartAndSealMisuse(t *testing.T) {
	p := newPair(t, MessagesAll)
	if _, err := p.initiator.RequestKEM(); !errors.Is(err, qerrors.ErrInvalidState) {
		t.Errorf("RequestKEM before auth: err = %v", err)
	}
	if _, err := p.initiator.Seal([]byte("x")); !errors.Is(err, qerrors.ErrInvalidState) {
		t.Errorf("Seal before establishment: err = %v", err)
	}
	if _, err := p.initiator.Start(); err != nil {
		t.Fatal(err)
	}
	if _, err := p.initiator.Start(); !errors.Is(err, qerrors.ErrInvalidState) {
		t.Errorf("second Start: err = %v", err)
	}
	if p.initiator.Session().State().Terminal() {
		t.Error("local misuse closed the session")
	}

	q := newPair(t, MessagesAll)
	q.establish(t)
	if _, err := q.initiator.Seal(nil); !errors.Is(err, qerrors.ErrInvalidMessage) {
		t.Errorf("Seal(nil): err = %v", err)
	}
	if _, err := q.initiator.Seal(make([]byte, constants.MaxPayloadSize+1)); !errors.Is(err, qerrors.ErrMessageTooLarge) {
		t.Errorf("Seal(oversized): err = %v", err)
	}
}

func TestConstructorValidation(t *testing.T) {
	p := crypto.DefaultProvider()
	rs, _ := NewSession(RoleResponder, MessagesAll)
	is, _ := NewSession(RoleInitiator, MessagesAll)

	if _, err := NewResponder(is, sharedIdentity(t), p, nil); !errors.Is(err, qerrors.ErrInvalidConfig) {
		t.Errorf("NewResponder with initiator session: err = %v", err)
	}
	if _, err := NewResponder(rs, nil, p, nil); !errors.Is(err, qerrors.ErrInvalidPrivateKey) {
		t.Errorf("NewResponder without identity: err = %v", err)
	}
	if _, err := NewInitiator(is, []byte{1, 2, 3}, p); !errors.Is(err, qerrors.ErrInvalidPublicKey) {
		t.Errorf("NewInitiator with short key: err = %v", err)
	}

	kemOnly, _ := NewSession(RoleInitiator, MessagesKEM)
	if _, err := NewInitiator(kemOnly, nil, p); err != nil {
		t.Errorf("NewInitiator without key for kem-only set: %v", err)
	}
}

// recordingObserver counts hook calls.
type recordingObserver struct {
	mu          sync.Mutex
	states      []string
	starts      int
	ends        int
	failures    []error
	handshakes  int
	seals       int
	opens       int
	authFails   int
	primitives  []string
	cryptoOps   []string
	parseErrs   int
	sequenceErr int
	unknown     []string
}

func (o *recordingObserver) OnSessionStart() { o.mu.Lock(); o.starts++; o.mu.Unlock() }
func (o *recordingObserver) OnSessionEnd()   { o.mu.Lock(); o.ends++; o.mu.Unlock() }
func (o *recordingObserver) OnSessionFailed(err error) {
	o.mu.Lock()
	o.failures = append(o.failures, err)
	o.mu.Unlock()
}
func (o *recordingObserver) OnHandshakeStart(ctx context.Context) (context.Context, func(error)) {
	o.mu.Lock()
	o.handshakes++
	o.mu.Unlock()
	return ctx, func(error) {}
}
func (o *recordingObserver) OnStateChange(from, to string) {
	o.mu.Lock()
	o.states = append(o.states, from+"->"+to)
	o.mu.Unlock()
}
func (o *recordingObserver) OnSeal(ctx context.Context, n int) (context.Context, func(error)) {
	o.mu.Lock()
	o.seals++
	o.mu.Unlock()
	return ctx, func(error) {}
}
func (o *recordingObserver) OnOpen(ctx context.Context, n int) (context.Context, func(error)) {
	o.mu.Lock()
	o.opens++
	o.mu.Unlock()
	return ctx, func(error) {}
}
func (o *recordingObserver) OnCryptoOp(ctx context.Context, op string) (context.Context, func(error)) {
	return ctx, func(err error) {
		name := op
		if err != nil {
			name += " failed"
		}
		o.mu.Lock()
		o.primitives = append(o.primitives, name)
		o.mu.Unlock()
	}
}
func (o *recordingObserver) OnAuthFailure() { o.mu.Lock(); o.authFails++; o.mu.Unlock() }
func (o *recordingObserver) OnCryptoError(op string, err error) {
	o.mu.Lock()
	o.cryptoOps = append(o.cryptoOps, op)
	o.mu.Unlock()
}
func (o *recordingObserver) OnParseError(error)    { o.mu.Lock(); o.parseErrs++; o.mu.Unlock() }
func (o *recordingObserver) OnSequenceError(error) { o.mu.Lock(); o.sequenceErr++; o.mu.Unlock() }
func (o *recordingObserver) OnUnknownMessage(raw string) {
	o.mu.Lock()
	o.unknown = append(o.unknown, raw)
	o.mu.Unlock()
}

func TestObserverHooks(t *testing.T) {
	p := newPair(t, MessagesAll)
	obs := &recordingObserver{}
	p.responder.Session().SetObserver(obs)

	_, _ = p.responder.Handle(protocol.Unknown{Raw: "noise"})
	p.toResponder(t, protocol.AuthRequest{})
	_, _ = p.responder.Handle(protocol.AuthRequest{})

	obs.mu.Lock()
	defer obs.mu.Unlock()
	want := []string{"AwaitingAuthRequest->AuthSent", "AuthSent->Closed"}
	if len(obs.states) != len(want) || obs.states[0] != want[0] || obs.states[1] != want[1] {
		t.Errorf("state changes = %v, want %v", obs.states, want)
	}
	if obs.sequenceErr != 1 {
		t.Errorf("sequence errors = %d", obs.sequenceErr)
	}
	if len(obs.unknown) != 1 || obs.unknown[0] != "noise" {
		t.Errorf("unknown = %v", obs.unknown)
	}
}

func TestDecapsulationFailureAborts(t *testing.T) {
	p := newPair(t, MessagesAll)
	obs := &recordingObserver{}
	p.responder.Session().SetObserver(obs)
	p.toResponder(t, protocol.AuthRequest{})
	p.toResponder(t, protocol.KemRequest{})

	// Corrupt the stored secret so decapsulation cannot unpack it.
	p.responder.Session().mu.Lock()
	p.responder.Session().kemSecretKey = []byte{1, 2, 3}
	p.responder.Session().mu.Unlock()

	_, err := p.responder.Handle(protocol.KemCipher{Ciphertext: make([]byte, constants.MLKEMCiphertextSize)})
	var ce *qerrors.CryptoError
	if !errors.As(err, &ce) || ce.Op != "decapsulate" {
		t.Fatalf("err = %v, want decapsulate CryptoError", err)
	}
	if p.responder.Session().State() != StateClosed {
		t.Errorf("state = %v", p.responder.Session().State())
	}
	obs.mu.Lock()
	defer obs.mu.Unlock()
	if len(obs.cryptoOps) != 1 || obs.cryptoOps[0] != "decapsulate" {
		t.Errorf("crypto ops = %v", obs.cryptoOps)
	}
	if len(obs.primitives) != 2 || obs.primitives[1] != "decapsulate failed" {
		t.Errorf("primitives = %v", obs.primitives)
	}
}

func TestCryptoOpHooks(t *testing.T) {
	p := newPair(t, MessagesAll)
	robs, iobs := &recordingObserver{}, &recordingObserver{}
	p.responder.Session().SetObserver(robs)
	p.initiator.Session().SetObserver(iobs)
	p.establish(t)

	check := func(side string, obs *recordingObserver, want ...string) {
		t.Helper()
		obs.mu.Lock()
		defer obs.mu.Unlock()
		if strings.Join(obs.primitives, ",") != strings.Join(want, ",") {
			t.Errorf("%s primitives = %v, want %v", side, obs.primitives, want)
		}
	}
	check("responder", robs, "sign", "decapsulate")
	check("initiator", iobs, "verify", "encapsulate")

	q := newPair(t, MessagesAll)
	qobs := &recordingObserver{}
	q.initiator.Session().SetObserver(qobs)
	req, _ := q.initiator.Start()
	ar := q.toResponder(t, req).(protocol.AuthReply)
	ar.Timestamp++
	_, _ = q.initiator.Handle(ar)
	check("rejecting initiator", qobs, "verify failed")
}
