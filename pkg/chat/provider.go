package chat

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a chat, identifier or message cannot be resolved.
	ErrNotFound = errors.New("chat: not found")

	// ErrQuoteRejected is returned when the provider refuses the quoting reference,
	// typically because the quoted message expired or never existed.
	ErrQuoteRejected = errors.New("chat: quoted message rejected")

	// ErrUnsupported is returned for operations or payloads the provider cannot handle.
	ErrUnsupported = errors.New("chat: unsupported")
)

// Source delivers inbound events and their attachments.
type Source interface {
	// Events returns the single inbound stream. It is closed when the provider stops.
	Events() <-chan InboundEvent

	// Download fetches the binary payload behind a media reference.
	Download(ctx context.Context, ref MediaRef) (Attachment, error)
}

// Sender sends messages into chats.
type Sender interface {
	SendText(ctx context.Context, chatID, text string, opts SendOptions) (SentMessage, error)
	SendMedia(ctx context.Context, chatID string, att Attachment, opts SendOptions) (SentMessage, error)
}

// Directory looks chats up.
type Directory interface {
	ListChats(ctx context.Context) ([]Chat, error)

	// ResolveIdentifier maps a raw number or id to a canonical chat id.
	ResolveIdentifier(ctx context.Context, raw string) (string, error)
}

// Provider is the full chat transport capability.
type Provider interface {
	Source
	Sender
	Directory
}
