//go:build fips
// +build fips

package crypto

import "github.com/pzverkov/pqlink/internal/constants"

// SupportedStreamSuites returns the stream suites available in FIPS mode.
// Only AES-256-CTR is FIPS 140-3 approved.
func SupportedStreamSuites() []constants.StreamSuite {
	return []constants.StreamSuite{constants.StreamSuiteAES256CTR}
}

// PreferredStreamSuite returns the default suite for new sessions.
// In FIPS mode, AES-256-CTR is the only option.
func PreferredStreamSuite() constants.StreamSuite {
	return constants.StreamSuiteAES256CTR
}
