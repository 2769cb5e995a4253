package tunnel

import (
	"net"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// IPRateLimiter tracks and limits the number of concurrent connections per IP.
type IPRateLimiter struct {
	mu          sync.Mutex
	connections map[string]int
	maxPerIP    int
}

// NewIPRateLimiter creates a new IPRateLimiter.
func NewIPRateLimiter(maxPerIP int) *IPRateLimiter {
	return &IPRateLimiter{
		connections: make(map[string]int),
		maxPerIP:    maxPerIP,
	}
}

// AllowConnection checks if the IP is allowed to establish a new connection.
// If allowed, it increments the connection count.
func (l *IPRateLimiter) AllowConnection(ip string) bool {
	if l.maxPerIP <= 0 {
		return true // No limit
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.connections[ip] >= l.maxPerIP {
		return false
	}
	l.connections[ip]++
	return true
}

// ReleaseConnection decrements the connection count for the IP.
func (l *IPRateLimiter) ReleaseConnection(ip string) {
	if l.maxPerIP <= 0 {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.connections[ip] > 0 {
		l.connections[ip]--
		if l.connections[ip] == 0 {
			delete(l.connections, ip)
		}
	}
}

// Active returns the number of tracked connections for ip.
func (l *IPRateLimiter) Active(ip string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connections[ip]
}

// HandshakeLimiter limits the rate of handshakes using a token bucket algorithm.
type HandshakeLimiter struct {
	mu         sync.Mutex
	clock      clock.Clock
	rate       float64 // Tokens per second
	burst      int     // Max bucket size
	tokens     float64 // Current tokens
	lastRefill time.Time
}

// NewHandshakeLimiter creates a new HandshakeLimiter on the wall clock.
func NewHandshakeLimiter(rate float64, burst int) *HandshakeLimiter {
	return NewHandshakeLimiterWithClock(rate, burst, clock.New())
}

// NewHandshakeLimiterWithClock creates a HandshakeLimiter that refills by clk.
func NewHandshakeLimiterWithClock(rate float64, burst int, clk clock.Clock) *HandshakeLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &HandshakeLimiter{
		clock:      clk,
		rate:       rate,
		burst:      burst,
		tokens:     float64(burst),
		lastRefill: clk.Now(),
	}
}

// AllowHandshake checks if a handshake is allowed (consumes 1 token).
func (l *HandshakeLimiter) AllowHandshake() bool {
	if l.rate <= 0 {
		return true // No limit
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	elapsed := now.Sub(l.lastRefill).Seconds()

	l.tokens += elapsed * l.rate
	if l.tokens > float64(l.burst) {
		l.tokens = float64(l.burst)
	}
	l.lastRefill = now

	if l.tokens >= 1.0 {
		l.tokens -= 1.0
		return true
	}
	return false
}

// rateLimitedConn wraps a net.Conn to release the IP rate limit on close.
type rateLimitedConn struct {
	net.Conn
	limiter   *IPRateLimiter
	ip        string
	closeOnce sync.Once
}

func (c *rateLimitedConn) Close() error {
	err := c.Conn.Close()
	c.closeOnce.Do(func() {
		if c.limiter != nil {
			c.limiter.ReleaseConnection(c.ip)
		}
	})
	return err
}

func extractRemoteIP(conn net.Conn) string {
	addr := conn.RemoteAddr()
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
