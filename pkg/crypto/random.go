// Package crypto provides the cryptographic provider consumed by the pqlink
// protocol engine, together with randomness and key hygiene helpers.
//
// Security Note: All random number generation uses crypto/rand which provides
// cryptographically secure random bytes from the operating system's CSPRNG.
package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"io"

	qerrors "github.com/pzverkov/pqlink/internal/errors"
)

// SecureRandom reads cryptographically secure random bytes into the provided slice.
//
// This function will only return an error if the system's random number generator
// fails, which should be treated as a critical system failure.
func SecureRandom(b []byte) error {
	_, err := io.ReadFull(rand.Reader, b)
	if err != nil {
		return qerrors.NewCryptoError("SecureRandom", err)
	}
	return nil
}

// SecureRandomBytes returns n cryptographically secure random bytes.
func SecureRandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if err := SecureRandom(b); err != nil {
		return nil, err
	}
	return b, nil
}

// Reader is the randomness source handed to key generation.
var Reader io.Reader = rand.Reader

// ConstantTimeCompare compares two byte slices in constant time.
func ConstantTimeCompare(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

// Zeroize overwrites b with zeros. Call it on keys and secrets when they are
// no longer needed.
//
// Note: The Go runtime may have already copied the data. Zeroization limits
// exposure; it does not guarantee no copy survives.
func Zeroize(b []byte) {
	clear(b)
}

// ZeroizeMultiple zeroizes every slice.
func ZeroizeMultiple(slices ...[]byte) {
	for _, s := range slices {
		Zeroize(s)
	}
}
