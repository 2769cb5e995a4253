// Package pqlink is an authenticated, confidential session protocol for
// small devices talking over a raw byte stream.
//
// A responder proves its identity with an ML-DSA-44 signature over a
// timestamp, the initiator obtains a per-session secret with an ML-KEM-512
// exchange, and ConfidentialData messages are enciphered with an XOR
// keystream (AES-256-CTR or ChaCha20) keyed by that secret. Every message is
// one newline-terminated ASCII line with hex-encoded binary fields.
//
// # Quick Start
//
//	import "github.com/pzverkov/pqlink/pkg/tunnel"
//
//	// Responder
//	ln, _ := tunnel.Listen("tcp", ":8080", id, tunnel.DefaultConfig())
//	_ = ln.Serve(ctx, func(ctx context.Context, c *tunnel.Conn) error {
//		data, err := c.Receive()
//		...
//	})
//
//	// Initiator, pinning the responder's public key
//	c, _ := tunnel.Dial(ctx, "tcp", "host:8080", peerPublicKey, tunnel.DefaultConfig())
//	defer c.Close()
//	_ = c.Send([]byte("hello"))
//
// The protocol engine can also be driven without a socket through
// tunnel.Responder and tunnel.Initiator, which map one decoded message to
// at most one reply.
//
// # Package Structure
//
//   - pkg/protocol: message variants, line codec, framing
//   - pkg/tunnel: sessions, handshake state machines, connections, listener
//   - pkg/crypto: the Provider interface, circl-backed implementation, self tests
//   - pkg/identity: signing key pair and its hex file store
//   - pkg/metrics: logging, metrics, tracing, health endpoints
//   - internal/constants: algorithm sizes, wire tags, limits
//   - internal/errors: sentinel and typed errors
//
// # Security Properties
//
// The protocol authenticates the responder only, derives one secret per
// session and offers confidentiality without integrity. There is no replay
// window, no timestamp freshness check and no cipher negotiation; the stream
// suite is fixed by configuration on both peers.
//
// # Testing
//
//	go test ./...
//	go test -fuzz=FuzzDecode ./pkg/protocol
package pqlink
