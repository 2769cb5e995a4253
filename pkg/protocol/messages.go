// Package protocol defines the pqlink wire messages and their line codec.
//
// This file (messages.go) implements the message flow:
//
//	Initiator                                  Responder
//	    |                                          |
//	    | -------- AuthRequest ------------------> |
//	    | <------- AuthReply:<ts>|signature:<hex>- |  sign("AuthReply:<ts>")
//	    | -------- Ack (optional) ---------------> |
//	    | -------- KemRequest -------------------> |
//	    | <------- KemInit:<hex pk> -------------- |  ephemeral ML-KEM keypair
//	    | -------- KemCipher:<hex ct> -----------> |  encapsulate
//	    | <------- Ready ------------------------- |  decapsulate
//	    |                                          |
//	    |    === Shared Secret Established ===     |
//	    |                                          |
//	    | -------- ConfidentialData:<n>|<ct> ----> |
//	    | <------- Ack --------------------------- |
//
// Every message is one ASCII line terminated by '\n'. Binary payloads are
// uppercase hex.
package protocol

import (
	"strconv"

	"github.com/pzverkov/pqlink/internal/constants"
)

// MessageType identifies the type of protocol message.
type MessageType uint8

// Protocol message types.
const (
	// MessageTypeUnknown is any line whose tag is not recognized.
	MessageTypeUnknown MessageType = iota
	// MessageTypeAuthRequest asks the responder to prove its identity.
	MessageTypeAuthRequest
	// MessageTypeAuthReply carries a signed timestamp.
	MessageTypeAuthReply
	// MessageTypeKemRequest asks the responder for an ephemeral KEM key.
	MessageTypeKemRequest
	// MessageTypeKemInit carries the responder's ephemeral KEM public key.
	MessageTypeKemInit
	// MessageTypeKemCipher carries the initiator's encapsulation.
	MessageTypeKemCipher
	// MessageTypeReady confirms the shared secret is established.
	MessageTypeReady
	// MessageTypeAck acknowledges a message; it never advances a handshake.
	MessageTypeAck
	// MessageTypeConfidentialData carries keystream-encrypted data.
	MessageTypeConfidentialData
)

// String returns a human-readable name for the message type.
func (mt MessageType) String() string {
	switch mt {
	case MessageTypeAuthRequest:
		return constants.TagAuthRequest
	case MessageTypeAuthReply:
		return constants.TagAuthReply
	case MessageTypeKemRequest:
		return constants.TagKemRequest
	case MessageTypeKemInit:
		return constants.TagKemInit
	case MessageTypeKemCipher:
		return constants.TagKemCipher
	case MessageTypeReady:
		return constants.TagReady
	case MessageTypeAck:
		return constants.TagAck
	case MessageTypeConfidentialData:
		return constants.TagConfidentialData
	default:
		return "Unknown"
	}
}

// Message is one decoded wire message.
type Message interface {
	Type() MessageType
}

// AuthRequest opens authentication.
type AuthRequest struct{}

// AuthReply carries the responder's signature over "AuthReply:<timestamp>",
// where <timestamp> is the decimal text exactly as it appears on the wire.
type AuthReply struct {
	Timestamp int64 // Unix seconds
	Signature []byte

	// TimestampText holds the received decimal text when it is not the
	// canonical form of Timestamp (leading zeros). Empty otherwise.
	TimestampText string
}

// KemRequest asks for an ephemeral KEM public key.
type KemRequest struct{}

// KemInit carries an ephemeral KEM public key.
type KemInit struct {
	PublicKey []byte
}

// KemCipher carries a KEM ciphertext.
type KemCipher struct {
	Ciphertext []byte
}

// Ready signals the responder holds the shared secret.
type Ready struct{}

// Ack is a no-op acknowledgement.
type Ack struct{}

// ConfidentialData is plaintext XORed with the keystream for Nonce.
type ConfidentialData struct {
	Nonce      []byte
	Ciphertext []byte
}

// Unknown is an unrecognized line, kept verbatim for diagnostics.
type Unknown struct {
	Raw string
}

func (AuthRequest) Type() MessageType      { return MessageTypeAuthRequest }
func (AuthReply) Type() MessageType        { return MessageTypeAuthReply }
func (KemRequest) Type() MessageType       { return MessageTypeKemRequest }
func (KemInit) Type() MessageType          { return MessageTypeKemInit }
func (KemCipher) Type() MessageType        { return MessageTypeKemCipher }
func (Ready) Type() MessageType            { return MessageTypeReady }
func (Ack) Type() MessageType              { return MessageTypeAck }
func (ConfidentialData) Type() MessageType { return MessageTypeConfidentialData }
func (Unknown) Type() MessageType          { return MessageTypeUnknown }

// SignedPlaintext returns the bytes the signature covers.
func (m AuthReply) SignedPlaintext() []byte {
	if m.TimestampText == "" {
		return SignedPlaintext(m.Timestamp)
	}
	b := make([]byte, 0, len(constants.AuthReplyPrefix)+len(m.TimestampText))
	b = append(b, constants.AuthReplyPrefix...)
	return append(b, m.TimestampText...)
}

// SignedPlaintext returns the canonical bytes the responder signs for an
// AuthReply: "AuthReply:" followed by the decimal Unix timestamp.
func SignedPlaintext(timestamp int64) []byte {
	b := make([]byte, 0, len(constants.AuthReplyPrefix)+20)
	b = append(b, constants.AuthReplyPrefix...)
	return strconv.AppendInt(b, timestamp, 10)
}
