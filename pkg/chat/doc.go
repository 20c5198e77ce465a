// Package chat defines the capability the relay needs from a chat transport.
//
// The transport itself (connecting, pairing, session persistence, media
// encoding) lives behind Provider. The relay only sees normalized inbound
// events and a handful of send/lookup operations.
//
// Invariants:
// - InboundEvent values are immutable once emitted.
// - SendText and SendMedia may be called concurrently; providers serialize internally.
// - A send carrying a QuotedMessageID the provider refuses to quote fails with ErrQuoteRejected.
package chat
