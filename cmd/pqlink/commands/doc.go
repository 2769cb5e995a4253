// Package commands implements the pqlink command line: identity management,
// a responder that serves sessions, an initiator that sends messages, and
// the cryptographic self test.
package commands
