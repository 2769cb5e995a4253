// mldsa.go wraps ML-DSA-44 signatures (NIST FIPS 204).
//
// ML-DSA is a lattice signature built on Module-LWE and Module-SIS over
// R_q = Z_q[X]/(X^256 + 1), q = 8380417. ML-DSA-44 targets NIST Category 2.
// Signatures here use the pure (non-prehash) mode with an empty context
// string and deterministic signing, so a given key and message always yield
// the same signature.
package crypto

import (
	"github.com/cloudflare/circl/sign/mldsa/mldsa44"

	"github.com/pzverkov/pqlink/internal/constants"
	qerrors "github.com/pzverkov/pqlink/internal/errors"
)

// GenerateMLDSAKeyPair generates a new ML-DSA-44 key pair and returns the
// packed encodings.
func GenerateMLDSAKeyPair() (publicKey, secretKey []byte, err error) {
	pk, sk, err := mldsa44.GenerateKey(Reader)
	if err != nil {
		return nil, nil, qerrors.NewCryptoError("MLDSAKeyPair.Generate", err)
	}
	return pk.Bytes(), sk.Bytes(), nil
}

// NewMLDSAKeyPairFromSeed derives an ML-DSA-44 key pair from a 32-byte seed.
func NewMLDSAKeyPairFromSeed(seed []byte) (publicKey, secretKey []byte, err error) {
	if len(seed) != mldsa44.SeedSize {
		return nil, nil, qerrors.ErrInvalidKeySize
	}
	var s [mldsa44.SeedSize]byte
	copy(s[:], seed)
	pk, sk := mldsa44.NewKeyFromSeed(&s)
	Zeroize(s[:])
	return pk.Bytes(), sk.Bytes(), nil
}

// MLDSASign signs msg with a packed ML-DSA-44 private key.
func MLDSASign(secretKey, msg []byte) ([]byte, error) {
	if len(secretKey) != constants.MLDSAPrivateKeySize {
		return nil, qerrors.NewCryptoError("MLDSASign", qerrors.ErrInvalidPrivateKey)
	}

	var sk mldsa44.PrivateKey
	if err := sk.UnmarshalBinary(secretKey); err != nil {
		return nil, qerrors.NewCryptoError("MLDSASign", qerrors.ErrInvalidPrivateKey)
	}

	sig := make([]byte, mldsa44.SignatureSize)
	if err := mldsa44.SignTo(&sk, msg, nil, false, sig); err != nil {
		return nil, qerrors.NewCryptoError("MLDSASign", err)
	}
	return sig, nil
}

// MLDSAVerify reports whether sig is a valid ML-DSA-44 signature of msg.
// Malformed keys or signatures verify as false.
func MLDSAVerify(publicKey, msg, sig []byte) bool {
	if len(publicKey) != constants.MLDSAPublicKeySize || len(sig) != constants.MLDSASignatureSize {
		return false
	}

	var pk mldsa44.PublicKey
	if err := pk.UnmarshalBinary(publicKey); err != nil {
		return false
	}
	return mldsa44.Verify(&pk, msg, nil, sig)
}

// ParseMLDSAPublicKey checks that data is a well-formed ML-DSA-44 public key.
func ParseMLDSAPublicKey(data []byte) error {
	if len(data) != constants.MLDSAPublicKeySize {
		return qerrors.ErrInvalidPublicKey
	}
	var pk mldsa44.PublicKey
	if err := pk.UnmarshalBinary(data); err != nil {
		return qerrors.NewCryptoError("ParseMLDSAPublicKey", err)
	}
	return nil
}
