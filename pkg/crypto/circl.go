package crypto

import (
	"github.com/pzverkov/pqlink/internal/constants"
	qerrors "github.com/pzverkov/pqlink/internal/errors"
)

// CirclProvider implements Provider with ML-DSA-44, ML-KEM-512 and a fixed
// stream suite, all backed by cloudflare/circl and the Go crypto libraries.
// It holds no mutable state and is safe for concurrent use.
type CirclProvider struct {
	suite constants.StreamSuite
	sizes Sizes
}

var _ Provider = (*CirclProvider)(nil)

// NewProvider returns a provider using the given stream suite.
func NewProvider(suite constants.StreamSuite) (*CirclProvider, error) {
	if !IsStreamSuiteSupported(suite) {
		return nil, qerrors.NewCryptoError("NewProvider", qerrors.ErrUnsupportedStreamSuite)
	}
	return &CirclProvider{suite: suite, sizes: DefaultSizes(suite)}, nil
}

// DefaultProvider returns a provider using the preferred stream suite.
func DefaultProvider() *CirclProvider {
	p, err := NewProvider(PreferredStreamSuite())
	if err != nil {
		panic("crypto: preferred stream suite unsupported: " + err.Error())
	}
	return p
}

// Suite returns the configured stream suite.
func (p *CirclProvider) Suite() constants.StreamSuite { return p.suite }

// Sizes implements Provider.
func (p *CirclProvider) Sizes() Sizes { return p.sizes }

// SigningKeygen implements Provider.
func (p *CirclProvider) SigningKeygen() ([]byte, []byte, error) {
	return GenerateMLDSAKeyPair()
}

// Sign implements Provider.
func (p *CirclProvider) Sign(secretKey, msg []byte) ([]byte, error) {
	return MLDSASign(secretKey, msg)
}

// Verify implements Provider.
func (p *CirclProvider) Verify(publicKey, msg, signature []byte) bool {
	return MLDSAVerify(publicKey, msg, signature)
}

// KEMKeygen implements Provider.
func (p *CirclProvider) KEMKeygen() ([]byte, []byte, error) {
	return GenerateMLKEMKeyPair()
}

// KEMEncapsulate implements Provider.
func (p *CirclProvider) KEMEncapsulate(publicKey []byte) ([]byte, []byte, error) {
	return MLKEMEncapsulate(publicKey)
}

// KEMDecapsulate implements Provider.
func (p *CirclProvider) KEMDecapsulate(secretKey, ciphertext []byte) ([]byte, error) {
	return MLKEMDecapsulate(secretKey, ciphertext)
}

// StreamCipher implements Provider.
func (p *CirclProvider) StreamCipher(key, nonce []byte, length int) ([]byte, error) {
	return Keystream(p.suite, key, nonce, length)
}
