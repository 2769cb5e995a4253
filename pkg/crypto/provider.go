package crypto

import "github.com/pzverkov/pqlink/internal/constants"

// Sizes lists the byte sizes mandated by a provider's algorithms. The message
// codec validates every decoded payload against them.
type Sizes struct {
	SigningPublicKey int
	SigningSecretKey int
	Signature        int
	KEMPublicKey     int
	KEMSecretKey     int
	KEMCiphertext    int
	SharedSecret     int
	Nonce            int
}

// DefaultSizes returns the sizes for ML-DSA-44, ML-KEM-512 and the given suite.
func DefaultSizes(suite constants.StreamSuite) Sizes {
	return Sizes{
		SigningPublicKey: constants.MLDSAPublicKeySize,
		SigningSecretKey: constants.MLDSAPrivateKeySize,
		Signature:        constants.MLDSASignatureSize,
		KEMPublicKey:     constants.MLKEMPublicKeySize,
		KEMSecretKey:     constants.MLKEMPrivateKeySize,
		KEMCiphertext:    constants.MLKEMCiphertextSize,
		SharedSecret:     constants.MLKEMSharedSecretSize,
		Nonce:            suite.NonceSize(),
	}
}

// Provider is the set of primitives the protocol engine consumes. All inputs
// and outputs are raw encodings so implementations can be swapped without
// touching the engine. Implementations must be safe for concurrent use.
type Provider interface {
	// Sizes reports the encodings the provider produces and accepts.
	Sizes() Sizes

	// SigningKeygen generates a long-term signing key pair.
	SigningKeygen() (publicKey, secretKey []byte, err error)

	// Sign signs msg with secretKey.
	Sign(secretKey, msg []byte) ([]byte, error)

	// Verify reports whether signature is valid for msg under publicKey.
	Verify(publicKey, msg, signature []byte) bool

	// KEMKeygen generates an ephemeral KEM key pair.
	KEMKeygen() (publicKey, secretKey []byte, err error)

	// KEMEncapsulate produces a ciphertext and the shared secret it carries.
	KEMEncapsulate(publicKey []byte) (ciphertext, sharedSecret []byte, err error)

	// KEMDecapsulate recovers the shared secret from ciphertext.
	KEMDecapsulate(secretKey, ciphertext []byte) ([]byte, error)

	// StreamCipher returns length bytes of keystream for key and nonce.
	StreamCipher(key, nonce []byte, length int) ([]byte, error)
}
