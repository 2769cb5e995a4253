//go:build fips
// +build fips

// This file is compiled when the "fips" build tag is specified.
// In FIPS mode, only FIPS 140-3 approved stream suites are available and a
// failing power-on self test panics.
package crypto

// FIPSMode reports whether the binary was built in FIPS mode.
func FIPSMode() bool { return true }
