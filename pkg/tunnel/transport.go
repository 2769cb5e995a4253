// This file (transport.go) runs the handshake state machines over a net.Conn:
//   - One message per line, read with an inactivity timeout
//   - Malformed lines are discarded unless StrictParsing is set
//   - Confidential data in strict request/ack lockstep
package tunnel

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"

	"github.com/pzverkov/pqlink/internal/constants"
	qerrors "github.com/pzverkov/pqlink/internal/errors"
	"github.com/pzverkov/pqlink/pkg/identity"
	"github.com/pzverkov/pqlink/pkg/metrics"
	"github.com/pzverkov/pqlink/pkg/protocol"
)

// handler is implemented by Responder and Initiator.
type handler interface {
	Handle(m protocol.Message) (Result, error)
}

// Conn is one pqlink connection. Operations on a Conn are serialized.
type Conn struct {
	conn      net.Conn
	session   *Session
	initiator *Initiator
	handler   handler

	codec  *protocol.Codec
	reader *protocol.Reader
	writer *protocol.Writer

	config   Config
	logger   *metrics.Logger
	observer Observer

	mu        sync.Mutex
	closeOnce sync.Once
	closeErr  error
	ended     atomic.Bool
}

// Server wraps conn as the responder, signing with id.
func Server(conn net.Conn, id *identity.Identity, config Config) (*Conn, error) {
	config, err := config.withDefaults()
	if err != nil {
		return nil, err
	}
	session, err := newSession(RoleResponder, config.Messages, config.Clock)
	if err != nil {
		return nil, err
	}
	r, err := NewResponder(session, id, config.Provider, config.Clock)
	if err != nil {
		return nil, err
	}
	c := newConn(conn, session, config)
	c.handler = r
	return c, nil
}

// Client wraps conn as the initiator, authenticating the responder against
// peerPublicKey.
func Client(conn net.Conn, peerPublicKey []byte, config Config) (*Conn, error) {
	config, err := config.withDefaults()
	if err != nil {
		return nil, err
	}
	session, err := newSession(RoleInitiator, config.Messages, config.Clock)
	if err != nil {
		return nil, err
	}
	i, err := NewInitiator(session, peerPublicKey, config.Provider)
	if err != nil {
		return nil, err
	}
	i.SetSendAck(config.SendAck)
	c := newConn(conn, session, config)
	c.initiator = i
	c.handler = i
	return c, nil
}

func newConn(conn net.Conn, session *Session, config Config) *Conn {
	c := &Conn{
		conn:    conn,
		session: session,
		codec:   protocol.NewCodec(config.Provider.Sizes()),
		reader:  protocol.NewReader(conn, config.ReadTimeout),
		writer:  protocol.NewWriter(conn, config.WriteTimeout),
		config:  config,
	}

	fields := metrics.Fields{
		"session_id": session.ID(),
		"role":       session.Role().String(),
	}
	if addr := conn.RemoteAddr(); addr != nil {
		fields["remote"] = addr.String()
	}
	c.logger = config.Logger.Named("tunnel").With(fields)

	if observer := observerFromConfig(config, session); observer != nil {
		session.SetObserver(observer)
		c.observer = observer
		observer.OnSessionStart()
	}
	return c
}

// Dial connects to address and completes the handshake. ctx bounds
// connection establishment only.
func Dial(ctx context.Context, network, address string, peerPublicKey []byte, config Config) (*Conn, error) {
	var d net.Dialer
	if _, ok := ctx.Deadline(); !ok {
		d.Timeout = constants.DefaultDialTimeoutSeconds * time.Second
	}
	conn, err := d.DialContext(ctx, network, address)
	if err != nil {
		return nil, qerrors.NewTransportError("dial", err)
	}

	c, err := Client(conn, peerPublicKey, config)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := c.Handshake(); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

// Session returns the connection's session.
func (c *Conn) Session() *Session { return c.session }

// LocalAddr returns the local network address.
func (c *Conn) LocalAddr() net.Addr { return c.conn.LocalAddr() }

// RemoteAddr returns the remote network address.
func (c *Conn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// Handshake runs the handshake to completion. It is a no-op once the
// session is established.
func (c *Conn) Handshake() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session.Established() {
		return nil
	}
	if c.session.State().Terminal() {
		return qerrors.ErrSessionClosed
	}

	var done func(error)
	if c.observer != nil {
		var ctx context.Context
		ctx, done = c.observer.OnHandshakeStart(context.Background())
		c.session.traceCtx = ctx
	}
	err := c.handshake()
	c.session.traceCtx = nil
	if done != nil {
		done(err)
	}
	if err != nil {
		c.logger.Warn("handshake failed", metrics.Fields{"error": err.Error(), "state": c.session.State().String()})
		return err
	}

	fields := metrics.Fields{
		"messages": c.session.Messages().String(),
		"took":     c.session.EstablishedAt().Sub(c.session.CreatedAt()).String(),
	}
	if ts, ok := c.session.PeerTimestamp(); ok {
		fields["peer_skew_s"] = c.config.Clock.Now().Unix() - ts
	}
	c.logger.Info("handshake complete", fields)
	return nil
}

func (c *Conn) handshake() error {
	if c.initiator != nil {
		first, err := c.initiator.Start()
		if err != nil {
			return c.fail(err)
		}
		if err := c.write(first); err != nil {
			return c.fail(err)
		}
	}

	for !c.session.Established() {
		if _, err := c.step(); err != nil {
			return err
		}
		if c.initiator != nil && c.session.State() == StateAuthVerified && c.session.Messages().Has(MessagesKEM) {
			req, err := c.initiator.RequestKEM()
			if err != nil {
				return c.fail(err)
			}
			if err := c.write(req); err != nil {
				return c.fail(err)
			}
		}
	}
	return nil
}

// step reads one message, handles it and writes the reply. Malformed lines
// are skipped unless StrictParsing is set. A returned error is fatal and the
// connection has been torn down.
func (c *Conn) step() (Result, error) {
	for {
		line, err := c.reader.ReadLine()
		var msg protocol.Message
		if err == nil {
			msg, err = c.codec.Decode(line)
		}
		if err != nil {
			if qerrors.IsFatal(err) {
				return Result{}, c.fail(err)
			}
			if c.observer != nil {
				c.observer.OnParseError(err)
			}
			c.logger.Debug("discarding malformed line", metrics.Fields{"error": err.Error()})
			if c.config.StrictParsing {
				return Result{}, c.fail(err)
			}
			continue
		}

		res, err := c.handler.Handle(msg)
		if err != nil {
			return Result{}, c.fail(err)
		}
		if res.Unknown != nil {
			c.logger.Debug("unknown message", metrics.Fields{"raw": truncate(res.Unknown.Raw, 64)})
		}
		if res.Reply != nil {
			if err := c.write(res.Reply); err != nil {
				return Result{}, c.fail(err)
			}
		}
		return res, nil
	}
}

func (c *Conn) write(m protocol.Message) error {
	line, err := c.codec.Encode(m)
	if err != nil {
		return err
	}
	return c.writer.WriteLine(line)
}

// fail tears the connection down after a fatal error and returns err. A peer
// that hangs up after the handshake ends the session normally.
func (c *Conn) fail(err error) error {
	hangup := c.session.Established() && qerrors.Is(err, qerrors.ErrConnectionClosed)
	c.session.Close(err)
	if c.observer != nil && c.ended.CompareAndSwap(false, true) {
		if hangup {
			c.observer.OnSessionEnd()
		} else {
			c.observer.OnSessionFailed(err)
		}
	}
	if hangup {
		c.logger.Debug("peer closed the connection")
	}
	_ = c.closeTransport()
	return err
}

// Send encrypts data as one ConfidentialData message and waits for the
// responder's Ack. Only the initiator sends.
func (c *Conn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.initiator == nil {
		return qerrors.ErrInvalidState
	}
	if c.session.State().Terminal() {
		return qerrors.ErrSessionClosed
	}

	var done func(error)
	if c.observer != nil {
		_, done = c.observer.OnSeal(context.Background(), len(data))
	}
	err := c.send(data)
	if done != nil {
		done(err)
	}
	return err
}

func (c *Conn) send(data []byte) error {
	msg, err := c.initiator.Seal(data)
	if err != nil {
		return err
	}
	if err := c.write(msg); err != nil {
		return c.fail(err)
	}
	for {
		res, err := c.step()
		if err != nil {
			return err
		}
		if res.Acked {
			return nil
		}
	}
}

// Receive returns the next decrypted ConfidentialData payload. On the
// responder the Ack is sent before Receive returns.
func (c *Conn) Receive() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session.State().Terminal() {
		return nil, qerrors.ErrSessionClosed
	}
	if !c.session.Established() {
		return nil, qerrors.ErrInvalidState
	}

	for {
		res, err := c.step()
		if err != nil {
			return nil, err
		}
		if res.Plaintext != nil {
			if c.observer != nil {
				_, done := c.observer.OnOpen(context.Background(), len(res.Plaintext))
				done(nil)
			}
			return res.Plaintext, nil
		}
	}
}

// Close closes the connection and wipes the session. It is safe to call
// more than once and from another goroutine; a blocked Receive returns.
func (c *Conn) Close() error {
	err := c.closeTransport()
	c.session.Close(nil)
	if c.observer != nil && c.ended.CompareAndSwap(false, true) {
		c.observer.OnSessionEnd()
	}
	return err
}

func (c *Conn) closeTransport() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// closeAll closes every conn, combining the errors.
func closeAll(conns []*Conn) error {
	var err error
	for _, c := range conns {
		err = multierr.Append(err, c.Close())
	}
	return err
}

var (
	_ handler = (*Responder)(nil)
	_ handler = (*Initiator)(nil)
)
