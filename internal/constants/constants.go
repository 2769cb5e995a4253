// Package constants defines algorithm parameters and wire constants for the
// pqlink session protocol.
//
// Authentication uses ML-DSA-44 (NIST FIPS 204, Category 2) and key
// establishment uses ML-KEM-512 (NIST FIPS 203, Category 1). These match the
// parameter sets deployed on constrained peers such as microcontroller clients.
package constants

// Protocol identification
const (
	// ProtocolName is used for domain separation in fingerprints
	ProtocolName = "pqlink-v1"
)

// ML-DSA-44 Parameters (NIST FIPS 204)
const (
	// MLDSAPublicKeySize is the size of an ML-DSA-44 public key in bytes
	MLDSAPublicKeySize = 1312

	// MLDSAPrivateKeySize is the size of an ML-DSA-44 private key in bytes
	MLDSAPrivateKeySize = 2560

	// MLDSASignatureSize is the size of an ML-DSA-44 signature in bytes
	MLDSASignatureSize = 2420
)

// ML-KEM-512 Parameters (NIST FIPS 203)
const (
	// MLKEMPublicKeySize is the size of an ML-KEM-512 encapsulation key in bytes
	MLKEMPublicKeySize = 800

	// MLKEMPrivateKeySize is the size of an ML-KEM-512 decapsulation key in bytes
	MLKEMPrivateKeySize = 1632

	// MLKEMCiphertextSize is the size of an ML-KEM-512 ciphertext in bytes
	MLKEMCiphertextSize = 768

	// MLKEMSharedSecretSize is the size of the shared secret from ML-KEM in bytes
	MLKEMSharedSecretSize = 32
)

// Stream cipher parameters
const (
	// AESKeySize is the size of AES-256 keys in bytes
	AESKeySize = 32

	// AESCTRNonceSize is the size of the AES-CTR initial counter block in bytes
	AESCTRNonceSize = 16

	// ChaCha20KeySize is the size of ChaCha20 keys in bytes
	ChaCha20KeySize = 32

	// ChaCha20NonceSize is the size of the IETF ChaCha20 nonce in bytes
	ChaCha20NonceSize = 12
)

// Fingerprint parameters (SHAKE-256)
const (
	// FingerprintSize is the size of a public key fingerprint in bytes
	FingerprintSize = 16

	// DomainSeparatorFingerprint is mixed into public key fingerprints
	DomainSeparatorFingerprint = "pqlink-identity-fingerprint"
)

// Wire tags. Every message is a single ASCII line.
const (
	TagAuthRequest      = "AuthRequest"
	TagAuthReply        = "AuthReply"
	TagKemRequest       = "KemRequest"
	TagKemInit          = "KemInit"
	TagKemCipher        = "KemCipher"
	TagReady            = "Ready"
	TagAck              = "Ack"
	TagConfidentialData = "ConfidentialData"

	// TagSignature labels the signature field inside an AuthReply
	TagSignature = "signature"

	// TagSeparator separates a tag from its payload
	TagSeparator = ':'

	// FieldSeparator separates fields of multi-field payloads
	// (AuthReply timestamp and signature, ConfidentialData nonce and ciphertext)
	FieldSeparator = '|'

	// AuthReplyPrefix is the prefix of the canonical signed plaintext
	AuthReplyPrefix = "AuthReply:"
)

// Message Size Limits
const (
	// MaxLineSize is the maximum size of a single framed line, terminator excluded
	MaxLineSize = 65536

	// MaxPayloadSize is the maximum size of a decoded ConfidentialData ciphertext.
	// Hex doubles the size, so this keeps a full message under MaxLineSize.
	MaxPayloadSize = 32000
)

// Timeouts (seconds)
const (
	// DefaultReadTimeoutSeconds is the inactivity timeout for reads. Any
	// received byte resets it.
	DefaultReadTimeoutSeconds = 5

	// DefaultWriteTimeoutSeconds bounds a single line write
	DefaultWriteTimeoutSeconds = 5

	// DefaultDialTimeoutSeconds bounds connection establishment
	DefaultDialTimeoutSeconds = 10
)

// DefaultPort is the TCP port the reference server listens on
const DefaultPort = 8080

// StreamSuite identifies the keystream generator used for ConfidentialData.
// The suite is fixed by configuration on both peers; it is never negotiated.
type StreamSuite uint16

const (
	// StreamSuiteAES256CTR uses AES-256 in counter mode
	StreamSuiteAES256CTR StreamSuite = 0x0001

	// StreamSuiteChaCha20 uses the IETF ChaCha20 stream cipher
	StreamSuiteChaCha20 StreamSuite = 0x0002
)

// String returns a human-readable name for the stream suite
func (s StreamSuite) String() string {
	switch s {
	case StreamSuiteAES256CTR:
		return "AES-256-CTR"
	case StreamSuiteChaCha20:
		return "ChaCha20"
	default:
		return "Unknown"
	}
}

// NonceSize returns the nonce length the suite expects, or 0 if unknown.
func (s StreamSuite) NonceSize() int {
	switch s {
	case StreamSuiteAES256CTR:
		return AESCTRNonceSize
	case StreamSuiteChaCha20:
		return ChaCha20NonceSize
	default:
		return 0
	}
}

// IsSupported returns true if the stream suite is implemented
func (s StreamSuite) IsSupported() bool {
	return s == StreamSuiteAES256CTR || s == StreamSuiteChaCha20
}

// IsFIPSApproved returns true if the suite is FIPS 140-3 approved.
// Only AES-256-CTR is approved; ChaCha20 is not.
func (s StreamSuite) IsFIPSApproved() bool {
	return s == StreamSuiteAES256CTR
}

// ParseStreamSuite maps a configuration name to a suite.
func ParseStreamSuite(name string) (StreamSuite, bool) {
	switch name {
	case "aes", "aes-256-ctr", "AES-256-CTR":
		return StreamSuiteAES256CTR, true
	case "chacha20", "ChaCha20":
		return StreamSuiteChaCha20, true
	default:
		return 0, false
	}
}
