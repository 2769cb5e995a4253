//go:build !fips
// +build !fips

package crypto

import "github.com/pzverkov/pqlink/internal/constants"

// SupportedStreamSuites returns the stream suites available in standard mode.
// Both AES-256-CTR and ChaCha20 are available.
func SupportedStreamSuites() []constants.StreamSuite {
	return []constants.StreamSuite{
		constants.StreamSuiteAES256CTR,
		constants.StreamSuiteChaCha20,
	}
}

// PreferredStreamSuite returns the default suite for new sessions.
// AES-256-CTR is preferred due to hardware acceleration on modern CPUs and
// because it is the only suite constrained peers ship.
func PreferredStreamSuite() constants.StreamSuite {
	return constants.StreamSuiteAES256CTR
}
