package tunnel

import "context"

// Observer provides hooks for session lifecycle, metrics, and tracing.
// Implementations should be lightweight; callbacks run on the connection's
// goroutine. States are passed by name so implementations need not import
// this package.
type Observer interface {
	OnSessionStart()
	OnSessionEnd()
	OnSessionFailed(err error)
	OnHandshakeStart(ctx context.Context) (context.Context, func(error))
	OnStateChange(from, to string)
	OnSeal(ctx context.Context, plaintextLen int) (context.Context, func(error))
	OnOpen(ctx context.Context, ciphertextLen int) (context.Context, func(error))
	// OnCryptoOp wraps one signature or KEM primitive: "sign", "verify",
	// "encapsulate" or "decapsulate".
	OnCryptoOp(ctx context.Context, op string) (context.Context, func(error))
	OnAuthFailure()
	OnCryptoError(op string, err error)
	OnParseError(err error)
	OnSequenceError(err error)
	OnUnknownMessage(raw string)
}

// ObserverFactory builds a per-session observer.
type ObserverFactory func(session *Session) Observer

// RateLimitObserver receives notifications when rate limits are hit.
type RateLimitObserver interface {
	// OnConnectionRateLimit is called when a connection is rejected due to per-IP limits.
	OnConnectionRateLimit(remoteIP string)
	// OnHandshakeRateLimit is called when a handshake is rejected due to global limits.
	OnHandshakeRateLimit(remoteIP string)
}

func observerFromConfig(config Config, session *Session) Observer {
	if config.ObserverFactory != nil {
		return config.ObserverFactory(session)
	}
	return config.Observer
}
