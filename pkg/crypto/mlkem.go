// mlkem.go wraps the ML-KEM-512 key encapsulation mechanism (NIST FIPS 203).
//
// The security of ML-KEM rests on Module Learning With Errors over
// R_q = Z_q[X]/(X^256 + 1) with q = 3329 and module rank k = 2 for ML-KEM-512.
// Decapsulation uses the Fujisaki-Okamoto transform with implicit rejection:
// a tampered ciphertext yields a pseudorandom secret rather than an error, so
// a mismatch surfaces later as undecryptable traffic.
//
// Security Level: NIST Category 1
package crypto

import (
	"github.com/cloudflare/circl/kem/mlkem/mlkem512"

	"github.com/pzverkov/pqlink/internal/constants"
	qerrors "github.com/pzverkov/pqlink/internal/errors"
)

// GenerateMLKEMKeyPair generates a new ML-KEM-512 key pair and returns the
// packed encodings.
func GenerateMLKEMKeyPair() (publicKey, secretKey []byte, err error) {
	pk, sk, err := mlkem512.GenerateKeyPair(Reader)
	if err != nil {
		return nil, nil, qerrors.NewCryptoError("MLKEMKeyPair.Generate", err)
	}
	return packMLKEM(pk, sk)
}

// NewMLKEMKeyPairFromSeed deterministically derives an ML-KEM-512 key pair
// from a 64-byte seed.
func NewMLKEMKeyPairFromSeed(seed []byte) (publicKey, secretKey []byte, err error) {
	if len(seed) != mlkem512.KeySeedSize {
		return nil, nil, qerrors.ErrInvalidKeySize
	}
	pk, sk := mlkem512.NewKeyFromSeed(seed)
	return packMLKEM(pk, sk)
}

func packMLKEM(pk *mlkem512.PublicKey, sk *mlkem512.PrivateKey) ([]byte, []byte, error) {
	pub := make([]byte, mlkem512.PublicKeySize)
	pk.Pack(pub)
	priv := make([]byte, mlkem512.PrivateKeySize)
	sk.Pack(priv)
	return pub, priv, nil
}

// MLKEMEncapsulate performs key encapsulation to a packed ML-KEM-512 public key.
//
// Returns:
//   - ciphertext: The encapsulated ciphertext (768 bytes)
//   - sharedSecret: The shared secret (32 bytes)
//   - error: Non-nil if the public key is malformed or the CSPRNG fails
func MLKEMEncapsulate(publicKey []byte) (ciphertext, sharedSecret []byte, err error) {
	if len(publicKey) != constants.MLKEMPublicKeySize {
		return nil, nil, qerrors.NewCryptoError("MLKEMEncapsulate", qerrors.ErrInvalidPublicKey)
	}

	pk := new(mlkem512.PublicKey)
	if err := pk.Unpack(publicKey); err != nil {
		return nil, nil, qerrors.NewCryptoError("MLKEMEncapsulate", qerrors.ErrInvalidPublicKey)
	}

	seed := make([]byte, mlkem512.EncapsulationSeedSize)
	if err := SecureRandom(seed); err != nil {
		return nil, nil, qerrors.NewCryptoError("MLKEMEncapsulate", err)
	}
	defer Zeroize(seed)

	ct := make([]byte, mlkem512.CiphertextSize)
	ss := make([]byte, mlkem512.SharedKeySize)
	pk.EncapsulateTo(ct, ss, seed)

	return ct, ss, nil
}

// MLKEMDecapsulate recovers the shared secret from ciphertext.
//
// Returns an error only for malformed inputs; see the implicit rejection note
// at the top of this file.
func MLKEMDecapsulate(secretKey, ciphertext []byte) ([]byte, error) {
	if len(secretKey) != constants.MLKEMPrivateKeySize {
		return nil, qerrors.NewCryptoError("MLKEMDecapsulate", qerrors.ErrInvalidPrivateKey)
	}
	if len(ciphertext) != constants.MLKEMCiphertextSize {
		return nil, qerrors.NewCryptoError("MLKEMDecapsulate", qerrors.ErrInvalidCiphertext)
	}

	sk := new(mlkem512.PrivateKey)
	if err := sk.Unpack(secretKey); err != nil {
		return nil, qerrors.NewCryptoError("MLKEMDecapsulate", qerrors.ErrInvalidPrivateKey)
	}

	ss := make([]byte, mlkem512.SharedKeySize)
	sk.DecapsulateTo(ss, ciphertext)

	return ss, nil
}
