package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/subtle"

	"golang.org/x/crypto/chacha20"

	"github.com/pzverkov/pqlink/internal/constants"
	qerrors "github.com/pzverkov/pqlink/internal/errors"
)

// Keystream returns length bytes of keystream for the given suite, key and
// nonce. The same (key, nonce) pair always produces the same keystream, so
// callers must never reuse a nonce under one key.
//
// The AES-256-CTR nonce is the full 16-byte initial counter block.
func Keystream(suite constants.StreamSuite, key, nonce []byte, length int) ([]byte, error) {
	if length < 0 {
		return nil, qerrors.NewCryptoError("Keystream", qerrors.ErrInvalidMessage)
	}
	if !IsStreamSuiteSupported(suite) {
		return nil, qerrors.NewCryptoError("Keystream", qerrors.ErrUnsupportedStreamSuite)
	}

	stream, err := newStream(suite, key, nonce)
	if err != nil {
		return nil, err
	}

	ks := make([]byte, length)
	stream.XORKeyStream(ks, ks)
	return ks, nil
}

func newStream(suite constants.StreamSuite, key, nonce []byte) (cipher.Stream, error) {
	switch suite {
	case constants.StreamSuiteAES256CTR:
		if len(key) != constants.AESKeySize {
			return nil, qerrors.NewCryptoError("Keystream.AES", qerrors.ErrInvalidKeySize)
		}
		if len(nonce) != constants.AESCTRNonceSize {
			return nil, qerrors.NewCryptoError("Keystream.AES", qerrors.ErrInvalidNonce)
		}
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, qerrors.NewCryptoError("Keystream.AES", err)
		}
		return cipher.NewCTR(block, nonce), nil

	case constants.StreamSuiteChaCha20:
		if len(key) != constants.ChaCha20KeySize {
			return nil, qerrors.NewCryptoError("Keystream.ChaCha20", qerrors.ErrInvalidKeySize)
		}
		if len(nonce) != constants.ChaCha20NonceSize {
			return nil, qerrors.NewCryptoError("Keystream.ChaCha20", qerrors.ErrInvalidNonce)
		}
		c, err := chacha20.NewUnauthenticatedCipher(key, nonce)
		if err != nil {
			return nil, qerrors.NewCryptoError("Keystream.ChaCha20", err)
		}
		return c, nil

	default:
		return nil, qerrors.NewCryptoError("Keystream", qerrors.ErrUnsupportedStreamSuite)
	}
}

// XOR sets dst[i] = a[i] ^ b[i] for the shorter of a and b and returns the
// number of bytes written. Encryption and decryption are the same operation.
// It panics if dst is shorter than that.
func XOR(dst, a, b []byte) int {
	return subtle.XORBytes(dst, a, b)
}

// IsStreamSuiteSupported reports whether suite is usable in this build.
func IsStreamSuiteSupported(suite constants.StreamSuite) bool {
	for _, s := range SupportedStreamSuites() {
		if s == suite {
			return true
		}
	}
	return false
}
