// codec.go implements serialization and deserialization of protocol messages.
//
// Wire Format:
//
// One message per line, terminated by '\n' (a preceding '\r' is tolerated).
// The tag is the text before the first ':'. Bare messages carry no ':'.
//
//	AuthRequest
//	AuthReply:<decimal unix ts>|signature:<HEX signature>
//	KemRequest
//	KemInit:<HEX KEM public key>
//	KemCipher:<HEX KEM ciphertext>
//	Ready
//	Ack
//	ConfidentialData:<HEX nonce>|<HEX ciphertext>
//
// Every fixed-size payload is checked against the configured algorithm sizes
// on decode. Lines with an unrecognized tag decode to Unknown.
package protocol

import (
	"strconv"
	"strings"

	"github.com/pzverkov/pqlink/internal/constants"
	qerrors "github.com/pzverkov/pqlink/internal/errors"
	"github.com/pzverkov/pqlink/pkg/crypto"
)

// Codec provides message serialization and deserialization. It is immutable
// and safe for concurrent use.
type Codec struct {
	sizes crypto.Sizes
}

// NewCodec creates a codec validating payloads against sizes.
func NewCodec(sizes crypto.Sizes) *Codec {
	return &Codec{sizes: sizes}
}

// Sizes returns the payload sizes the codec enforces.
func (c *Codec) Sizes() crypto.Sizes {
	return c.sizes
}

// Encode serializes m without the line terminator. It refuses to emit a
// payload whose size the peer would reject.
func (c *Codec) Encode(m Message) ([]byte, error) {
	switch m := m.(type) {
	case AuthRequest, *AuthRequest:
		return []byte(constants.TagAuthRequest), nil
	case KemRequest, *KemRequest:
		return []byte(constants.TagKemRequest), nil
	case Ready, *Ready:
		return []byte(constants.TagReady), nil
	case Ack, *Ack:
		return []byte(constants.TagAck), nil
	case AuthReply:
		return c.encodeAuthReply(&m)
	case *AuthReply:
		return c.encodeAuthReply(m)
	case KemInit:
		return c.encodePayload(constants.TagKemInit, m.PublicKey, c.sizes.KEMPublicKey)
	case *KemInit:
		return c.encodePayload(constants.TagKemInit, m.PublicKey, c.sizes.KEMPublicKey)
	case KemCipher:
		return c.encodePayload(constants.TagKemCipher, m.Ciphertext, c.sizes.KEMCiphertext)
	case *KemCipher:
		return c.encodePayload(constants.TagKemCipher, m.Ciphertext, c.sizes.KEMCiphertext)
	case ConfidentialData:
		return c.encodeConfidential(&m)
	case *ConfidentialData:
		return c.encodeConfidential(m)
	case Unknown:
		return encodeUnknown(m.Raw)
	case *Unknown:
		return encodeUnknown(m.Raw)
	default:
		return nil, qerrors.ErrInvalidMessage
	}
}

func (c *Codec) encodeAuthReply(m *AuthReply) ([]byte, error) {
	if m.Timestamp < 0 || len(m.Signature) != c.sizes.Signature {
		return nil, qerrors.ErrInvalidMessage
	}
	if m.TimestampText != "" {
		if ts, err := parseTimestamp(m.TimestampText); err != nil || ts != m.Timestamp {
			return nil, qerrors.ErrInvalidMessage
		}
	}
	var b strings.Builder
	b.Grow(len(constants.AuthReplyPrefix) + 21 + len(constants.TagSignature) + 1 + 2*len(m.Signature))
	b.Write(m.SignedPlaintext())
	b.WriteByte(constants.FieldSeparator)
	b.WriteString(constants.TagSignature)
	b.WriteByte(constants.TagSeparator)
	b.WriteString(EncodeHex(m.Signature))
	return []byte(b.String()), nil
}

func (c *Codec) encodePayload(tag string, payload []byte, size int) ([]byte, error) {
	if len(payload) != size {
		return nil, qerrors.ErrInvalidMessage
	}
	buf := make([]byte, 0, len(tag)+1+2*size)
	buf = append(buf, tag...)
	buf = append(buf, constants.TagSeparator)
	buf = append(buf, EncodeHex(payload)...)
	return buf, nil
}

func (c *Codec) encodeConfidential(m *ConfidentialData) ([]byte, error) {
	if len(m.Nonce) != c.sizes.Nonce {
		return nil, qerrors.ErrInvalidMessage
	}
	if len(m.Ciphertext) == 0 || len(m.Ciphertext) > constants.MaxPayloadSize {
		return nil, qerrors.ErrInvalidMessage
	}
	buf := make([]byte, 0, len(constants.TagConfidentialData)+2+2*(len(m.Nonce)+len(m.Ciphertext)))
	buf = append(buf, constants.TagConfidentialData...)
	buf = append(buf, constants.TagSeparator)
	buf = append(buf, EncodeHex(m.Nonce)...)
	buf = append(buf, constants.FieldSeparator)
	buf = append(buf, EncodeHex(m.Ciphertext)...)
	return buf, nil
}

// encodeUnknown passes raw text through, provided it would decode back to
// the same Unknown value.
func encodeUnknown(raw string) ([]byte, error) {
	if len(raw) > constants.MaxLineSize || strings.ContainsAny(raw, "\r\n") {
		return nil, qerrors.ErrInvalidMessage
	}
	tag, _, _ := strings.Cut(raw, string(constants.TagSeparator))
	if isKnownTag(tag) {
		return nil, qerrors.ErrInvalidMessage
	}
	return []byte(raw), nil
}

func isKnownTag(tag string) bool {
	switch tag {
	case constants.TagAuthRequest, constants.TagAuthReply, constants.TagKemRequest,
		constants.TagKemInit, constants.TagKemCipher, constants.TagReady,
		constants.TagAck, constants.TagConfidentialData:
		return true
	}
	return false
}

// Decode parses one line. Trailing CR and LF bytes are stripped. A recognized
// tag with a bad payload returns a *ParseError; an unrecognized tag returns
// Unknown and no error.
func (c *Codec) Decode(line []byte) (Message, error) {
	end := len(line)
	for end > 0 && (line[end-1] == '\n' || line[end-1] == '\r') {
		end--
	}
	if end > constants.MaxLineSize {
		return nil, qerrors.NewOversizedError(end, constants.MaxLineSize)
	}
	s := string(line[:end])

	tag, payload, hasPayload := strings.Cut(s, string(constants.TagSeparator))

	switch tag {
	case constants.TagAuthRequest, constants.TagKemRequest, constants.TagReady, constants.TagAck:
		if hasPayload {
			return nil, qerrors.NewMalformedError("%s: unexpected payload", tag)
		}
		return bareMessage(tag), nil

	case constants.TagAuthReply, constants.TagKemInit, constants.TagKemCipher, constants.TagConfidentialData:
		if !hasPayload || payload == "" {
			return nil, qerrors.NewMalformedError("%s: missing payload", tag)
		}

	default:
		return Unknown{Raw: s}, nil
	}

	switch tag {
	case constants.TagAuthReply:
		return c.decodeAuthReply(payload)

	case constants.TagKemInit:
		pk, err := DecodeHex(tag, payload, c.sizes.KEMPublicKey)
		if err != nil {
			return nil, err
		}
		return KemInit{PublicKey: pk}, nil

	case constants.TagKemCipher:
		ct, err := DecodeHex(tag, payload, c.sizes.KEMCiphertext)
		if err != nil {
			return nil, err
		}
		return KemCipher{Ciphertext: ct}, nil

	default: // ConfidentialData
		return c.decodeConfidential(payload)
	}
}

func bareMessage(tag string) Message {
	switch tag {
	case constants.TagAuthRequest:
		return AuthRequest{}
	case constants.TagKemRequest:
		return KemRequest{}
	case constants.TagReady:
		return Ready{}
	default:
		return Ack{}
	}
}

// decodeAuthReply parses "<ts>|signature:<hex>".
func (c *Codec) decodeAuthReply(payload string) (Message, error) {
	tsField, rest, ok := strings.Cut(payload, string(constants.FieldSeparator))
	if !ok {
		return nil, qerrors.NewMalformedError("AuthReply: missing field separator")
	}
	label, sigHex, ok := strings.Cut(rest, string(constants.TagSeparator))
	if !ok || label != constants.TagSignature {
		return nil, qerrors.NewMalformedError("AuthReply: missing signature label")
	}

	ts, err := parseTimestamp(tsField)
	if err != nil {
		return nil, err
	}
	sig, err := DecodeHex("AuthReply.signature", sigHex, c.sizes.Signature)
	if err != nil {
		return nil, err
	}
	reply := AuthReply{Timestamp: ts, Signature: sig}
	if tsField != strconv.FormatInt(ts, 10) {
		reply.TimestampText = tsField
	}
	return reply, nil
}

// parseTimestamp accepts 1 to 19 decimal digits that fit an int64.
func parseTimestamp(s string) (int64, error) {
	if s == "" || len(s) > 19 {
		return 0, qerrors.NewMalformedError("AuthReply: timestamp length %d", len(s))
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, qerrors.NewMalformedError("AuthReply: non-digit in timestamp at offset %d", i)
		}
	}
	ts, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, qerrors.NewMalformedError("AuthReply: timestamp out of range")
	}
	return ts, nil
}

// decodeConfidential parses "<hex nonce>|<hex ciphertext>".
func (c *Codec) decodeConfidential(payload string) (Message, error) {
	nonceHex, ctHex, ok := strings.Cut(payload, string(constants.FieldSeparator))
	if !ok {
		return nil, qerrors.NewMalformedError("ConfidentialData: missing field separator")
	}
	nonce, err := DecodeHex("ConfidentialData.nonce", nonceHex, c.sizes.Nonce)
	if err != nil {
		return nil, err
	}
	ct, err := DecodeHexBounded("ConfidentialData.ciphertext", ctHex, 1, constants.MaxPayloadSize)
	if err != nil {
		return nil, err
	}
	return ConfidentialData{Nonce: nonce, Ciphertext: ct}, nil
}
