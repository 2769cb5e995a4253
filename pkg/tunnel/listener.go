package tunnel

import (
	"context"
	"errors"
	"net"
	"sync"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	qerrors "github.com/pzverkov/pqlink/internal/errors"
	"github.com/pzverkov/pqlink/pkg/identity"
	"github.com/pzverkov/pqlink/pkg/metrics"
)

// Handler serves one established connection. The connection is closed when
// the handler returns.
type Handler func(ctx context.Context, c *Conn) error

// Listener accepts pqlink connections as the responder.
type Listener struct {
	listener net.Listener
	identity *identity.Identity
	config   Config
	logger   *metrics.Logger

	ipLimiter        *IPRateLimiter
	handshakeLimiter *HandshakeLimiter

	mu     sync.Mutex
	conns  map[*Conn]struct{}
	closed bool
}

// errServeStopped ends the accept loop when the listener is closed.
var errServeStopped = errors.New("serve stopped")

// Listen creates a listener on address that answers as id.
func Listen(network, address string, id *identity.Identity, config Config) (*Listener, error) {
	ln, err := net.Listen(network, address)
	if err != nil {
		return nil, qerrors.NewTransportError("listen", err)
	}
	l, err := NewListener(ln, id, config)
	if err != nil {
		_ = ln.Close()
		return nil, err
	}
	return l, nil
}

// NewListener wraps an existing net.Listener.
func NewListener(ln net.Listener, id *identity.Identity, config Config) (*Listener, error) {
	config, err := config.withDefaults()
	if err != nil {
		return nil, err
	}
	if config.Messages.Has(MessagesAuth) && id == nil {
		return nil, qerrors.ErrInvalidPrivateKey
	}

	l := &Listener{
		listener: ln,
		identity: id,
		config:   config,
		logger:   config.Logger.Named("listener"),
		conns:    make(map[*Conn]struct{}),
	}
	if config.RateLimit.MaxConnectionsPerIP > 0 {
		l.ipLimiter = NewIPRateLimiter(config.RateLimit.MaxConnectionsPerIP)
	}
	if config.RateLimit.HandshakeRateLimit > 0 {
		l.handshakeLimiter = NewHandshakeLimiterWithClock(config.RateLimit.HandshakeRateLimit, config.RateLimit.HandshakeBurst, config.Clock)
	}
	return l, nil
}

// Addr returns the listener's network address.
func (l *Listener) Addr() net.Addr {
	return l.listener.Addr()
}

// Accept waits for a connection and completes the responder handshake.
// Rate-limited and failed handshakes return an error; the caller may keep
// accepting.
func (l *Listener) Accept() (*Conn, error) {
	c, err := l.accept()
	if err != nil {
		return nil, err
	}
	if err := c.Handshake(); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

// accept waits for a connection and applies the rate limits. The returned
// Conn has not run its handshake.
func (l *Listener) accept() (*Conn, error) {
	raw, err := l.listener.Accept()
	if err != nil {
		if errors.Is(err, net.ErrClosed) {
			return nil, qerrors.NewTransportError("accept", qerrors.ErrConnectionClosed)
		}
		return nil, qerrors.NewTransportError("accept", err)
	}

	remoteIP := extractRemoteIP(raw)

	raw, err = l.checkIPRateLimit(raw, remoteIP)
	if err != nil {
		return nil, err
	}

	if l.handshakeLimiter != nil && !l.handshakeLimiter.AllowHandshake() {
		if l.config.RateLimitObserver != nil {
			l.config.RateLimitObserver.OnHandshakeRateLimit(remoteIP)
		}
		l.logger.Warn("handshake rate limited", metrics.Fields{"remote_ip": remoteIP})
		_ = raw.Close()
		return nil, qerrors.NewTransportError("accept", qerrors.ErrRateLimited)
	}

	c, err := Server(raw, l.identity, l.config)
	if err != nil {
		_ = raw.Close()
		return nil, err
	}
	return c, nil
}

// track registers c so Close can reach it. It reports false once the
// listener is closed.
func (l *Listener) track(c *Conn) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	l.conns[c] = struct{}{}
	return true
}

func (l *Listener) checkIPRateLimit(conn net.Conn, remoteIP string) (net.Conn, error) {
	if l.ipLimiter == nil {
		return conn, nil
	}
	if !l.ipLimiter.AllowConnection(remoteIP) {
		if l.config.RateLimitObserver != nil {
			l.config.RateLimitObserver.OnConnectionRateLimit(remoteIP)
		}
		l.logger.Warn("connection rate limited", metrics.Fields{"remote_ip": remoteIP})
		_ = conn.Close()
		return nil, qerrors.NewTransportError("accept", qerrors.ErrRateLimited)
	}
	return &rateLimitedConn{
		Conn:    conn,
		limiter: l.ipLimiter,
		ip:      remoteIP,
	}, nil
}

func (l *Listener) release(c *Conn) {
	l.mu.Lock()
	delete(l.conns, c)
	l.mu.Unlock()
}

// Serve accepts connections until ctx is cancelled or the listener is
// closed. Each connection runs its handshake and then handler on its own
// goroutine. Serve closes the listener and every open connection before it
// returns.
func (l *Listener) Serve(ctx context.Context, handler Handler) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-ctx.Done()
		return l.Close()
	})

	g.Go(func() error {
		for {
			c, err := l.accept()
			if err != nil {
				if ctx.Err() != nil || l.isClosed() {
					return errServeStopped
				}
				if qerrors.Is(err, qerrors.ErrRateLimited) {
					continue
				}
				var ne net.Error
				if errors.As(err, &ne) && ne.Timeout() {
					continue
				}
				return err
			}
			if !l.track(c) {
				_ = c.Close()
				return errServeStopped
			}
			g.Go(func() error {
				l.serveConn(ctx, c, handler)
				return nil
			})
		}
	})

	err := g.Wait()
	if errors.Is(err, errServeStopped) {
		return nil
	}
	return err
}

func (l *Listener) serveConn(ctx context.Context, c *Conn, handler Handler) {
	defer func() {
		l.release(c)
		_ = c.Close()
	}()

	if err := c.Handshake(); err != nil {
		return
	}
	if handler == nil {
		return
	}
	if err := handler(ctx, c); err != nil && !qerrors.Is(err, qerrors.ErrConnectionClosed) {
		l.logger.Debug("handler returned", metrics.Fields{"session_id": c.Session().ID(), "error": err.Error()})
	}
}

func (l *Listener) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// Close stops accepting and closes every connection still open. Further
// calls return nil.
func (l *Listener) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	conns := make([]*Conn, 0, len(l.conns))
	for c := range l.conns {
		conns = append(conns, c)
	}
	l.conns = make(map[*Conn]struct{})
	l.mu.Unlock()

	return multierr.Append(l.listener.Close(), closeAll(conns))
}
