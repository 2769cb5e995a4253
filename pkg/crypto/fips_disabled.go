//go:build !fips
// +build !fips

// This file is compiled when the "fips" build tag is NOT specified.
package crypto

// FIPSMode reports whether the binary was built in FIPS mode.
// When false, AES-256-CTR and ChaCha20 are both available.
func FIPSMode() bool { return false }
