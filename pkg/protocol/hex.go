package protocol

import (
	"encoding/hex"
	"strings"

	qerrors "github.com/pzverkov/pqlink/internal/errors"
)

// EncodeHex returns the uppercase hex encoding of b.
func EncodeHex(b []byte) string {
	return strings.ToUpper(hex.EncodeToString(b))
}

// DecodeHex decodes a hex field that must hold exactly size bytes. Either
// letter case is accepted. The length and alphabet are checked before any
// allocation; every failure is a Malformed ParseError naming field.
func DecodeHex(field, s string, size int) ([]byte, error) {
	if len(s) != 2*size {
		return nil, qerrors.NewMalformedError("%s: hex length %d, want %d", field, len(s), 2*size)
	}
	return decodeHexChecked(field, s)
}

// DecodeHexBounded decodes a hex field holding between minSize and maxSize
// bytes inclusive.
func DecodeHexBounded(field, s string, minSize, maxSize int) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, qerrors.NewMalformedError("%s: odd hex length %d", field, len(s))
	}
	if n := len(s) / 2; n < minSize || n > maxSize {
		return nil, qerrors.NewMalformedError("%s: %d bytes outside [%d, %d]", field, n, minSize, maxSize)
	}
	return decodeHexChecked(field, s)
}

func decodeHexChecked(field, s string) ([]byte, error) {
	for i := 0; i < len(s); i++ {
		if !isHexDigit(s[i]) {
			return nil, qerrors.NewMalformedError("%s: invalid hex character at offset %d", field, i)
		}
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, qerrors.NewMalformedError("%s: %v", field, err)
	}
	return b, nil
}

func isHexDigit(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}
