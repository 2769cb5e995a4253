package tunnel

import (
	"time"

	"github.com/benbjohnson/clock"

	"github.com/pzverkov/pqlink/internal/constants"
	qerrors "github.com/pzverkov/pqlink/internal/errors"
	"github.com/pzverkov/pqlink/pkg/crypto"
	"github.com/pzverkov/pqlink/pkg/metrics"
)

// Config holds configuration for handshakes and connections.
type Config struct {
	// Messages selects the enabled message kinds. Both peers must agree.
	Messages MessageSet

	// Suite selects the keystream cipher. It is configured, never negotiated.
	Suite constants.StreamSuite

	// Provider overrides the crypto provider built from Suite.
	Provider crypto.Provider

	// ReadTimeout bounds silence between received bytes.
	ReadTimeout time.Duration

	// WriteTimeout bounds each line write.
	WriteTimeout time.Duration

	// SendAck makes the initiator acknowledge a verified AuthReply before
	// requesting a KEM key.
	SendAck bool

	// StrictParsing makes a malformed line fatal instead of discarding it.
	StrictParsing bool

	// Clock supplies AuthReply timestamps and rate limiter time.
	Clock clock.Clock

	// Logger receives connection diagnostics. Nil disables logging.
	Logger *metrics.Logger

	// Observer is a shared observer for all sessions (ignored if ObserverFactory is set).
	Observer Observer

	// ObserverFactory builds a per-session observer (takes precedence over Observer).
	ObserverFactory ObserverFactory

	RateLimit RateLimitConfig

	// RateLimitObserver receives notifications when rate limits are hit.
	RateLimitObserver RateLimitObserver
}

// RateLimitConfig holds configuration for rate limiting.
type RateLimitConfig struct {
	// MaxConnectionsPerIP is the maximum number of concurrent connections allowed from a single IP.
	// 0 means no limit.
	MaxConnectionsPerIP int

	// HandshakeRateLimit is the maximum number of handshakes per second allowed globally.
	// 0 means no limit.
	HandshakeRateLimit float64

	// HandshakeBurst is the maximum burst of handshakes allowed.
	// If 0, defaults to 1 when HandshakeRateLimit is set.
	HandshakeBurst int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Messages:     MessagesAll,
		Suite:        crypto.PreferredStreamSuite(),
		ReadTimeout:  constants.DefaultReadTimeoutSeconds * time.Second,
		WriteTimeout: constants.DefaultWriteTimeoutSeconds * time.Second,
		SendAck:      true,
		Clock:        clock.New(),
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if err := c.Messages.Validate(); err != nil {
		return err
	}
	if c.Provider == nil && !crypto.IsStreamSuiteSupported(c.Suite) {
		return qerrors.ErrUnsupportedStreamSuite
	}
	if c.ReadTimeout < 0 || c.WriteTimeout < 0 {
		return qerrors.ErrInvalidConfig
	}
	if c.RateLimit.MaxConnectionsPerIP < 0 || c.RateLimit.HandshakeRateLimit < 0 || c.RateLimit.HandshakeBurst < 0 {
		return qerrors.ErrInvalidConfig
	}
	return nil
}

// withDefaults fills zero fields and resolves the provider.
func (c Config) withDefaults() (Config, error) {
	if c.Messages == 0 {
		c.Messages = MessagesAll
	}
	if c.Suite == 0 {
		c.Suite = crypto.PreferredStreamSuite()
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	if c.Logger == nil {
		c.Logger = metrics.NullLogger()
	}
	if err := c.Validate(); err != nil {
		return c, err
	}
	if c.Provider == nil {
		p, err := crypto.NewProvider(c.Suite)
		if err != nil {
			return c, err
		}
		c.Provider = p
	}
	return c, nil
}
