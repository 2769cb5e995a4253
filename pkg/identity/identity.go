// Package identity holds the long-term signing key pair that authenticates a
// responder, and persists it as hex files.
//
// The public half is distributed to peers out of band; initiators load it
// with LoadPublicKey and pin it for every session.
package identity

import (
	qerrors "github.com/pzverkov/pqlink/internal/errors"
	"github.com/pzverkov/pqlink/pkg/crypto"
)

// Identity is a long-term signing key pair. It is immutable after load and
// safe to share read-only across sessions.
type Identity struct {
	PublicKey []byte
	SecretKey []byte
}

// Generate creates a fresh identity with p's signature scheme.
func Generate(p crypto.Provider) (*Identity, error) {
	pk, sk, err := p.SigningKeygen()
	if err != nil {
		return nil, err
	}
	return &Identity{PublicKey: pk, SecretKey: sk}, nil
}

// Validate checks key sizes against p and that the halves belong together.
func (id *Identity) Validate(p crypto.Provider) error {
	sizes := p.Sizes()
	if len(id.PublicKey) != sizes.SigningPublicKey {
		return qerrors.NewCryptoError("Identity.Validate", qerrors.ErrInvalidPublicKey)
	}
	if len(id.SecretKey) != sizes.SigningSecretKey {
		return qerrors.NewCryptoError("Identity.Validate", qerrors.ErrInvalidPrivateKey)
	}

	challenge := []byte("pqlink identity check")
	sig, err := p.Sign(id.SecretKey, challenge)
	if err != nil {
		return qerrors.NewCryptoError("Identity.Validate", err)
	}
	if !p.Verify(id.PublicKey, challenge, sig) {
		return qerrors.NewCryptoError("Identity.Validate", qerrors.ErrVerificationFailed)
	}
	return nil
}

// Fingerprint returns the display fingerprint of the public key.
func (id *Identity) Fingerprint() string {
	return crypto.FingerprintString(id.PublicKey)
}

// Wipe zeroizes the secret key. Call it on shutdown.
func (id *Identity) Wipe() {
	crypto.Zeroize(id.SecretKey)
	id.SecretKey = nil
}
