// Package crypto implements Power-On Self-Tests (POST).
//
// IMPORTANT: POST is production code, not test code. The self tests run when
// the package is loaded and verify the primitives before any session uses
// them. This catches corrupted binaries and broken builds.
//
// The tests verify:
//   - AES-256-CTR and ChaCha20 keystreams (Known Answer Tests)
//   - ML-DSA-44 sign/verify consistency and tamper detection
//   - ML-KEM-512 encapsulation/decapsulation consistency
//
// In FIPS mode, POST failures cause a panic. In standard mode, failures are
// recorded and reported by POSTPassed and the CLI selftest command.
package crypto

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/pzverkov/pqlink/internal/constants"
	qerrors "github.com/pzverkov/pqlink/internal/errors"
)

// POST KAT (Known Answer Test) values
var (
	// Key: 0x000102...1f (32 bytes)
	postKATKey, _ = hex.DecodeString("000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f")

	// AES-256-CTR, initial counter block 0x000102...0f, 32 bytes of keystream
	postKATAESNonce, _    = hex.DecodeString("000102030405060708090a0b0c0d0e0f")
	postKATAESExpected, _ = hex.DecodeString("5a6e045708fb7196f02e553d02c3a69260f310d5c385585d5516fb5172e520cf")

	// ChaCha20 (RFC 8439 nonce layout), block counter 0, 32 bytes of keystream
	postKATChaChaNonce, _    = hex.DecodeString("000000000000004a00000000")
	postKATChaChaExpected, _ = hex.DecodeString("af051e40bba0354981329a806a140eafd258a22a6dcb4bb9f6569cb3efe2deaf")

	// Deterministic key generation seeds
	postKATMLDSASeed, _ = hex.DecodeString("0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef")
	postKATMLKEMSeed, _ = hex.DecodeString(
		"0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef" +
			"fedcba9876543210fedcba9876543210fedcba9876543210fedcba9876543210")

	postKATMessage = []byte("AuthReply:1700000000")
)

// POSTResult contains the results of Power-On Self-Tests
type POSTResult struct {
	Passed       bool
	StreamPassed bool
	MLDSAPassed  bool
	MLKEMPassed  bool
	Errors       []string
}

var (
	postResult     *POSTResult
	postResultOnce sync.Once
)

// RunPOST executes the Power-On Self-Tests and returns the results.
// This function is safe to call multiple times; tests only run once.
func RunPOST() *POSTResult {
	postResultOnce.Do(func() {
		postResult = &POSTResult{Passed: true}

		if err := runStreamKAT(); err != nil {
			postResult.fail("stream KAT failed: %v", err)
		} else {
			postResult.StreamPassed = true
		}

		if err := runMLDSAKAT(); err != nil {
			postResult.fail("ML-DSA KAT failed: %v", err)
		} else {
			postResult.MLDSAPassed = true
		}

		if err := runMLKEMKAT(); err != nil {
			postResult.fail("ML-KEM KAT failed: %v", err)
		} else {
			postResult.MLKEMPassed = true
		}

		if FIPSMode() && !postResult.Passed {
			panic(fmt.Sprintf("FIPS POST failed: %v", postResult.Errors))
		}
	})

	return postResult
}

func (r *POSTResult) fail(format string, args ...interface{}) {
	r.Passed = false
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// POSTPassed returns true if POST has run and all tests passed
func POSTPassed() bool {
	if postResult == nil {
		return false
	}
	return postResult.Passed
}

func runStreamKAT() error {
	for _, suite := range SupportedStreamSuites() {
		var nonce, want []byte
		switch suite {
		case constants.StreamSuiteAES256CTR:
			nonce, want = postKATAESNonce, postKATAESExpected
		case constants.StreamSuiteChaCha20:
			nonce, want = postKATChaChaNonce, postKATChaChaExpected
		default:
			continue
		}

		ks, err := Keystream(suite, postKATKey, nonce, len(want))
		if err != nil {
			return fmt.Errorf("%s: %w", suite, err)
		}
		if !bytes.Equal(ks, want) {
			return fmt.Errorf("%s keystream mismatch: got %x, want %x", suite, ks, want)
		}
	}
	return nil
}

func runMLDSAKAT() error {
	pk, sk, err := NewMLDSAKeyPairFromSeed(postKATMLDSASeed)
	if err != nil {
		return fmt.Errorf("NewMLDSAKeyPairFromSeed failed: %w", err)
	}
	defer Zeroize(sk)

	sig, err := MLDSASign(sk, postKATMessage)
	if err != nil {
		return fmt.Errorf("MLDSASign failed: %w", err)
	}
	if len(sig) != constants.MLDSASignatureSize {
		return fmt.Errorf("signature size mismatch: got %d, want %d", len(sig), constants.MLDSASignatureSize)
	}
	if !MLDSAVerify(pk, postKATMessage, sig) {
		return fmt.Errorf("valid signature rejected")
	}

	sig[0] ^= 0x01
	if MLDSAVerify(pk, postKATMessage, sig) {
		return fmt.Errorf("tampered signature accepted")
	}
	return nil
}

// runMLKEMKAT derives a deterministic key pair and checks that decapsulation
// recovers the encapsulated secret. Encapsulation is randomized, so this is a
// consistency test rather than a fixed vector.
func runMLKEMKAT() error {
	pk, sk, err := NewMLKEMKeyPairFromSeed(postKATMLKEMSeed)
	if err != nil {
		return fmt.Errorf("NewMLKEMKeyPairFromSeed failed: %w", err)
	}
	defer Zeroize(sk)

	if len(pk) != constants.MLKEMPublicKeySize {
		return fmt.Errorf("public key size mismatch: got %d, want %d", len(pk), constants.MLKEMPublicKeySize)
	}

	ct, ss1, err := MLKEMEncapsulate(pk)
	if err != nil {
		return fmt.Errorf("MLKEMEncapsulate failed: %w", err)
	}
	ss2, err := MLKEMDecapsulate(sk, ct)
	if err != nil {
		return fmt.Errorf("MLKEMDecapsulate failed: %w", err)
	}
	if !ConstantTimeCompare(ss1, ss2) {
		return fmt.Errorf("shared secret mismatch after decapsulation")
	}
	return nil
}

// SelfTest exercises any Provider end to end: signing round trip, tamper
// detection, KEM round trip, and keystream determinism. The CLI runs it
// before serving so a misconfigured provider fails fast.
func SelfTest(p Provider) error {
	sizes := p.Sizes()

	pk, sk, err := p.SigningKeygen()
	if err != nil {
		return qerrors.NewCryptoError("SelfTest.SigningKeygen", err)
	}
	defer Zeroize(sk)

	sig, err := p.Sign(sk, postKATMessage)
	if err != nil {
		return qerrors.NewCryptoError("SelfTest.Sign", err)
	}
	if len(sig) != sizes.Signature {
		return qerrors.NewCryptoError("SelfTest.Sign", qerrors.ErrSelfTestFailed)
	}
	if !p.Verify(pk, postKATMessage, sig) {
		return qerrors.NewCryptoError("SelfTest.Verify", qerrors.ErrSelfTestFailed)
	}
	sig[len(sig)/2] ^= 0x80
	if p.Verify(pk, postKATMessage, sig) {
		return qerrors.NewCryptoError("SelfTest.Tamper", qerrors.ErrSelfTestFailed)
	}

	kpk, ksk, err := p.KEMKeygen()
	if err != nil {
		return qerrors.NewCryptoError("SelfTest.KEMKeygen", err)
	}
	defer Zeroize(ksk)

	ct, ss1, err := p.KEMEncapsulate(kpk)
	if err != nil {
		return qerrors.NewCryptoError("SelfTest.KEMEncapsulate", err)
	}
	ss2, err := p.KEMDecapsulate(ksk, ct)
	if err != nil {
		return qerrors.NewCryptoError("SelfTest.KEMDecapsulate", err)
	}
	if !ConstantTimeCompare(ss1, ss2) {
		return qerrors.NewCryptoError("SelfTest.KEM", qerrors.ErrSelfTestFailed)
	}

	nonce := make([]byte, sizes.Nonce)
	ks1, err := p.StreamCipher(ss1, nonce, 64)
	if err != nil {
		return qerrors.NewCryptoError("SelfTest.StreamCipher", err)
	}
	ks2, err := p.StreamCipher(ss2, nonce, 64)
	if err != nil {
		return qerrors.NewCryptoError("SelfTest.StreamCipher", err)
	}
	if !bytes.Equal(ks1, ks2) {
		return qerrors.NewCryptoError("SelfTest.StreamCipher", qerrors.ErrSelfTestFailed)
	}
	ZeroizeMultiple(ss1, ss2, ks1, ks2)

	return nil
}

// init runs POST automatically when the package is loaded
func init() {
	RunPOST()
}
