package tunnel

import (
	"bytes"
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	qerrors "github.com/pzverkov/pqlink/internal/errors"
	"github.com/pzverkov/pqlink/pkg/metrics"
	"github.com/pzverkov/pqlink/pkg/protocol"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	mock := clock.NewMock()
	mock.Set(time.Unix(testTimestamp, 0))
	cfg := DefaultConfig()
	cfg.Clock = mock
	cfg.ReadTimeout = 2 * time.Second
	cfg.WriteTimeout = 2 * time.Second
	cfg.Logger = metrics.NullLogger()
	return cfg
}

type serverResult struct {
	conn     *Conn
	received [][]byte
	err      error
}

// runServer serves one pipe end, collecting up to n payloads.
func runServer(t *testing.T, raw net.Conn, cfg Config, n int) <-chan serverResult {
	t.Helper()
	done := make(chan serverResult, 1)
	go func() {
		var res serverResult
		defer func() { done <- res }()

		c, err := Server(raw, sharedIdentity(t), cfg)
		if err != nil {
			res.err = err
			return
		}
		res.conn = c
		if err := c.Handshake(); err != nil {
			res.err = err
			return
		}
		for i := 0; i < n; i++ {
			data, err := c.Receive()
			if err != nil {
				res.err = err
				return
			}
			res.received = append(res.received, data)
		}
	}()
	return done
}

func TestPipeHandshakeAndData(t *testing.T) {
	for _, sendAck := range []bool{true, false} {
		name := "without ack"
		if sendAck {
			name = "with ack"
		}
		t.Run(name, func(t *testing.T) {
			srv, cli := net.Pipe()
			cfg := testConfig(t)
			cfg.SendAck = sendAck

			done := runServer(t, srv, cfg, 2)

			c, err := Client(cli, sharedIdentity(t).PublicKey, cfg)
			if err != nil {
				t.Fatalf("Client failed: %v", err)
			}
			defer c.Close()
			if err := c.Handshake(); err != nil {
				t.Fatalf("client Handshake failed: %v", err)
			}
			if err := c.Handshake(); err != nil {
				t.Errorf("second Handshake should be a no-op: %v", err)
			}
			for _, msg := range []string{"hello", "world"} {
				if err := c.Send([]byte(msg)); err != nil {
					t.Fatalf("Send(%q) failed: %v", msg, err)
				}
			}

			res := <-done
			if res.err != nil {
				t.Fatalf("server failed: %v", res.err)
			}
			defer res.conn.Close()
			if len(res.received) != 2 || string(res.received[0]) != "hello" || string(res.received[1]) != "world" {
				t.Errorf("server received %q", res.received)
			}
			if !bytes.Equal(res.conn.Session().SharedSecret(), c.Session().SharedSecret()) {
				t.Error("shared secrets differ")
			}
			if err := res.conn.Send([]byte("x")); !errors.Is(err, qerrors.ErrInvalidState) {
				t.Errorf("responder Send: err = %v", err)
			}
		})
	}
}

// TestCloseDuringTraffic closes both ends while data is in flight. Run with
// -race: the keystream must never read a secret that Close is wiping.
func TestCloseDuringTraffic(t *testing.T) {
	for round := 0; round < 5; round++ {
		srv, cli := net.Pipe()
		cfg := testConfig(t)

		s, err := Server(srv, sharedIdentity(t), cfg)
		if err != nil {
			t.Fatal(err)
		}
		c, err := Client(cli, sharedIdentity(t).PublicKey, cfg)
		if err != nil {
			t.Fatal(err)
		}

		handshook := make(chan error, 1)
		go func() { handshook <- s.Handshake() }()
		if err := c.Handshake(); err != nil {
			t.Fatalf("Handshake failed: %v", err)
		}
		if err := <-handshook; err != nil {
			t.Fatalf("server Handshake failed: %v", err)
		}

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			for {
				if _, err := s.Receive(); err != nil {
					return
				}
			}
		}()
		go func() {
			defer wg.Done()
			for {
				if err := c.Send([]byte("in flight")); err != nil {
					return
				}
			}
		}()

		time.Sleep(time.Duration(round) * time.Millisecond)
		_ = s.Close()
		_ = c.Close()
		wg.Wait()

		if s.Session().SharedSecret() != nil || c.Session().SharedSecret() != nil {
			t.Fatal("secret survives Close")
		}
	}
}

func TestConnCloseWipes(t *testing.T) {
	srv, cli := net.Pipe()
	cfg := testConfig(t)
	done := runServer(t, srv, cfg, 1)

	c, err := Client(cli, sharedIdentity(t).PublicKey, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Handshake(); err != nil {
		t.Fatalf("Handshake failed: %v", err)
	}
	secret := c.Session().sharedSecret

	if err := c.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	_ = c.Close()

	if c.Session().State() != StateClosed || c.Session().SharedSecret() != nil {
		t.Error("Close did not wipe the session")
	}
	if !bytes.Equal(secret, make([]byte, len(secret))) {
		t.Error("shared secret not zeroized")
	}
	if err := c.Send([]byte("late")); !errors.Is(err, qerrors.ErrSessionClosed) {
		t.Errorf("Send after Close: err = %v", err)
	}

	res := <-done
	if !errors.Is(res.err, qerrors.ErrConnectionClosed) {
		t.Errorf("server err = %v, want ErrConnectionClosed", res.err)
	}
	if res.conn.Session().SharedSecret() != nil {
		t.Error("server session not wiped after disconnect")
	}
}

// rawPeer drives the other end of a pipe line by line.
type rawPeer struct {
	t    *testing.T
	conn net.Conn
	r    *protocol.Reader
}

func newRawPeer(t *testing.T, conn net.Conn) *rawPeer {
	return &rawPeer{t: t, conn: conn, r: protocol.NewReader(conn, 2*time.Second)}
}

func (p *rawPeer) send(line string) {
	p.t.Helper()
	_ = p.conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if _, err := p.conn.Write([]byte(line + "\n")); err != nil {
		p.t.Fatalf("write %q: %v", line, err)
	}
}

func (p *rawPeer) read() (string, error) {
	line, err := p.r.ReadLine()
	return strings.TrimRight(string(line), "\r\n"), err
}

func TestMalformedLinesSkipped(t *testing.T) {
	srv, cli := net.Pipe()
	cfg := testConfig(t)
	obs := &recordingObserver{}
	cfg.Observer = obs
	done := runServer(t, srv, cfg, 0)

	peer := newRawPeer(t, cli)
	peer.send("KemInit:ZZ")
	peer.send("Hello there")
	peer.send("AuthReply:12|signature:00")
	peer.send("AuthRequest")

	line, err := peer.read()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if !strings.HasPrefix(line, "AuthReply:1700000000|signature:") {
		t.Errorf("reply = %.40q", line)
	}
	_ = cli.Close()

	res := <-done
	if !errors.Is(res.err, qerrors.ErrConnectionClosed) {
		t.Errorf("server err = %v", res.err)
	}

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if obs.parseErrs != 2 {
		t.Errorf("parse errors = %d, want 2", obs.parseErrs)
	}
	if len(obs.unknown) != 1 || obs.unknown[0] != "Hello there" {
		t.Errorf("unknown = %v", obs.unknown)
	}
	if obs.starts != 1 || len(obs.failures) != 1 {
		t.Errorf("starts = %d, failures = %d", obs.starts, len(obs.failures))
	}
}

func TestPeerHangupEndsSession(t *testing.T) {
	srv, cli := net.Pipe()
	cfg := testConfig(t)
	obs := &recordingObserver{}
	cfg.Observer = obs
	done := runServer(t, srv, cfg, 1)

	c, err := Client(cli, sharedIdentity(t).PublicKey, testConfig(t))
	if err != nil {
		t.Fatalf("Client failed: %v", err)
	}
	if err := c.Handshake(); err != nil {
		t.Fatalf("client Handshake failed: %v", err)
	}
	_ = c.Close()

	res := <-done
	if !errors.Is(res.err, qerrors.ErrConnectionClosed) {
		t.Fatalf("server err = %v, want ErrConnectionClosed", res.err)
	}

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if obs.ends != 1 || len(obs.failures) != 0 {
		t.Errorf("ends = %d, failures = %v; a hangup after the handshake is a normal end", obs.ends, obs.failures)
	}
}

func TestStrictParsing(t *testing.T) {
	srv, cli := net.Pipe()
	cfg := testConfig(t)
	cfg.StrictParsing = true
	done := runServer(t, srv, cfg, 0)

	peer := newRawPeer(t, cli)
	peer.send("KemInit:ZZ")

	if _, err := peer.read(); !errors.Is(err, qerrors.ErrConnectionClosed) {
		t.Errorf("peer read = %v, want connection closed", err)
	}
	res := <-done
	if !errors.Is(res.err, qerrors.ErrMalformed) {
		t.Errorf("server err = %v, want ErrMalformed", res.err)
	}
	if res.conn.Session().State() != StateClosed {
		t.Errorf("state = %v", res.conn.Session().State())
	}
}

func TestSequenceErrorSendsNoReply(t *testing.T) {
	srv, cli := net.Pipe()
	done := runServer(t, srv, testConfig(t), 0)

	peer := newRawPeer(t, cli)
	peer.send("KemRequest")

	if line, err := peer.read(); !errors.Is(err, qerrors.ErrConnectionClosed) {
		t.Errorf("peer got %q, %v; want the connection closed without a reply", line, err)
	}
	res := <-done
	var se *qerrors.SequenceError
	if !errors.As(res.err, &se) {
		t.Errorf("server err = %v, want SequenceError", res.err)
	}
}

func TestSilentPeerTimesOut(t *testing.T) {
	srv, cli := net.Pipe()
	defer cli.Close()
	cfg := testConfig(t)
	cfg.ReadTimeout = 50 * time.Millisecond

	start := time.Now()
	res := <-runServer(t, srv, cfg, 0)
	if !errors.Is(res.err, qerrors.ErrTimeout) {
		t.Fatalf("server err = %v, want ErrTimeout", res.err)
	}
	if time.Since(start) > 2*time.Second {
		t.Errorf("timeout took %v", time.Since(start))
	}
	if !errors.Is(res.conn.Session().Err(), qerrors.ErrTimeout) {
		t.Errorf("session Err = %v", res.conn.Session().Err())
	}
}

func TestClientRejectsImpostor(t *testing.T) {
	srv, cli := net.Pipe()
	cfg := testConfig(t)
	done := runServer(t, srv, cfg, 0)

	other := append([]byte(nil), sharedIdentity(t).PublicKey...)
	other[0] ^= 0xFF
	c, err := Client(cli, other, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Handshake(); !errors.Is(err, qerrors.ErrVerificationFailed) {
		t.Fatalf("Handshake err = %v, want ErrVerificationFailed", err)
	}
	if c.Session().State() != StateRejected {
		t.Errorf("state = %v, want Rejected", c.Session().State())
	}
	<-done
}

func TestAuthOnlyOverPipe(t *testing.T) {
	srv, cli := net.Pipe()
	cfg := testConfig(t)
	cfg.Messages = MessagesAuth
	cfg.SendAck = false
	done := runServer(t, srv, cfg, 0)

	c, err := Client(cli, sharedIdentity(t).PublicKey, cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if err := c.Handshake(); err != nil {
		t.Fatalf("Handshake failed: %v", err)
	}
	if c.Session().SharedSecret() != nil {
		t.Error("auth-only session holds a secret")
	}
	res := <-done
	if res.err != nil {
		t.Fatalf("server failed: %v", res.err)
	}
	res.conn.Close()
}

func TestListenerServe(t *testing.T) {
	cfg := testConfig(t)
	l, err := Listen("tcp", "127.0.0.1:0", sharedIdentity(t), cfg)
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}

	var mu sync.Mutex
	var got []string
	received := make(chan struct{}, 4)

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() {
		served <- l.Serve(ctx, func(ctx context.Context, c *Conn) error {
			for {
				data, err := c.Receive()
				if err != nil {
					return err
				}
				mu.Lock()
				got = append(got, string(data))
				mu.Unlock()
				received <- struct{}{}
			}
		})
	}()

	c, err := Dial(context.Background(), "tcp", l.Addr().String(), sharedIdentity(t).PublicKey, cfg)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	if !c.Session().Established() {
		t.Fatal("Dial returned before the handshake completed")
	}
	if err := c.Send([]byte("over tcp")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	<-received

	cancel()
	select {
	case err := <-served:
		if err != nil {
			t.Errorf("Serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}

	mu.Lock()
	if len(got) != 1 || got[0] != "over tcp" {
		t.Errorf("handler got %q", got)
	}
	mu.Unlock()

	if err := c.Send([]byte("after shutdown")); err == nil {
		t.Error("Send succeeded after the listener closed the connection")
	}
	_ = c.Close()
}

func TestListenerAccept(t *testing.T) {
	cfg := testConfig(t)
	l, err := Listen("tcp", "127.0.0.1:0", sharedIdentity(t), cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	accepted := make(chan *Conn, 1)
	go func() {
		c, err := l.Accept()
		if err != nil {
			accepted <- nil
			return
		}
		accepted <- c
	}()

	c, err := Dial(context.Background(), "tcp", l.Addr().String(), sharedIdentity(t).PublicKey, cfg)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer c.Close()

	sc := <-accepted
	if sc == nil {
		t.Fatal("Accept failed")
	}
	defer sc.Close()
	if !sc.Session().Established() {
		t.Error("Accept returned an unestablished connection")
	}
}

type rateLimitRecorder struct {
	mu         sync.Mutex
	connection []string
	handshake  []string
}

func (r *rateLimitRecorder) OnConnectionRateLimit(ip string) {
	r.mu.Lock()
	r.connection = append(r.connection, ip)
	r.mu.Unlock()
}

func (r *rateLimitRecorder) OnHandshakeRateLimit(ip string) {
	r.mu.Lock()
	r.handshake = append(r.handshake, ip)
	r.mu.Unlock()
}

func TestListenerPerIPLimit(t *testing.T) {
	cfg := testConfig(t)
	cfg.RateLimit.MaxConnectionsPerIP = 1
	rec := &rateLimitRecorder{}
	cfg.RateLimitObserver = rec

	l, err := Listen("tcp", "127.0.0.1:0", sharedIdentity(t), cfg)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = l.Serve(ctx, func(ctx context.Context, c *Conn) error {
			_, err := c.Receive()
			return err
		})
	}()

	first, err := Dial(context.Background(), "tcp", l.Addr().String(), sharedIdentity(t).PublicKey, cfg)
	if err != nil {
		t.Fatalf("first Dial failed: %v", err)
	}
	defer first.Close()

	if _, err := Dial(context.Background(), "tcp", l.Addr().String(), sharedIdentity(t).PublicKey, cfg); err == nil {
		t.Fatal("second Dial from the same IP succeeded")
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.connection) != 1 || rec.connection[0] != "127.0.0.1" {
		t.Errorf("connection rate limits = %v", rec.connection)
	}
}

func TestConfigValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}

	bad := DefaultConfig()
	bad.Messages = MessagesConfidential
	if err := bad.Validate(); !errors.Is(err, qerrors.ErrInvalidConfig) {
		t.Errorf("confidential without kem: err = %v", err)
	}

	bad = DefaultConfig()
	bad.Suite = 0x7777
	if err := bad.Validate(); !errors.Is(err, qerrors.ErrUnsupportedStreamSuite) {
		t.Errorf("unknown suite: err = %v", err)
	}

	bad = DefaultConfig()
	bad.ReadTimeout = -1
	if err := bad.Validate(); !errors.Is(err, qerrors.ErrInvalidConfig) {
		t.Errorf("negative timeout: err = %v", err)
	}

	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	if _, err := Client(a, []byte{1}, DefaultConfig()); !errors.Is(err, qerrors.ErrInvalidPublicKey) {
		t.Errorf("Client with short key: err = %v", err)
	}
}
