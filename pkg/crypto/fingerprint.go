// fingerprint.go derives short identifiers for public keys with SHAKE-256
// (FIPS 202). Fingerprints let operators compare identities out of band and
// let logs name a peer without printing a 1312-byte key.
//
//	fp = SHAKE-256(len(domain) || domain || len(key) || key, 16)
//
// Length prefixes are 4-byte big-endian integers so that distinct
// (domain, key) pairs never share an encoding.
package crypto

import (
	"encoding/binary"
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/sha3"

	"github.com/pzverkov/pqlink/internal/constants"
	qerrors "github.com/pzverkov/pqlink/internal/errors"
)

// Fingerprint returns the SHAKE-256 fingerprint of a public key.
func Fingerprint(publicKey []byte) ([]byte, error) {
	if len(publicKey) == 0 {
		return nil, qerrors.NewCryptoError("Fingerprint", qerrors.ErrInvalidPublicKey)
	}

	h := sha3.NewShake256()

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(constants.DomainSeparatorFingerprint))) //nolint:gosec // constant length
	_, _ = h.Write(lenBuf[:])
	_, _ = h.Write([]byte(constants.DomainSeparatorFingerprint))

	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(publicKey))) //nolint:gosec // bounded by key sizes
	_, _ = h.Write(lenBuf[:])
	_, _ = h.Write(publicKey)

	fp := make([]byte, constants.FingerprintSize)
	_, _ = h.Read(fp)
	return fp, nil
}

// FingerprintString formats a fingerprint as colon-separated uppercase hex
// pairs grouped by two bytes, e.g. "1A2B:3C4D:...". It returns "invalid" for
// an empty key.
func FingerprintString(publicKey []byte) string {
	fp, err := Fingerprint(publicKey)
	if err != nil {
		return "invalid"
	}
	enc := strings.ToUpper(hex.EncodeToString(fp))

	var b strings.Builder
	for i := 0; i < len(enc); i += 4 {
		if i > 0 {
			b.WriteByte(':')
		}
		b.WriteString(enc[i : i+4])
	}
	return b.String()
}
