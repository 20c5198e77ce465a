package chat

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"
)

// InboundEvent is one message observed from the chat provider.
type InboundEvent struct {
	SourceID  string // sender identifier; equals ChatID for direct messages
	MessageID string // provider-unique
	ChatID    string
	ChatName  string
	IsGroup   bool
	Text      string
	Timestamp time.Time

	Media  *MediaRef      // own attachment, if any
	Quoted *QuotedMessage // message this one replies to, if any
}

// HasMedia reports whether the event carries its own attachment.
func (e InboundEvent) HasMedia() bool {
	return e.Media != nil
}

// HasQuotedMessage reports whether the event replies to another message.
func (e InboundEvent) HasQuotedMessage() bool {
	return e.Quoted != nil
}

// QuotedMessage is the message an inbound event replies to.
type QuotedMessage struct {
	MessageID string
	Text      string
	Media     *MediaRef
}

// MediaRef points at an attachment the provider can download on demand.
// MimeType may be empty when the provider only learns it after download.
type MediaRef struct {
	Ref      string
	Filename string
	MimeType string
	Size     int64
}

// Attachment is a downloaded file. Data is base64-encoded on the wire.
type Attachment struct {
	Filename string `json:"filename"`
	MimeType string `json:"mimetype"`
	Data     []byte `json:"data"`
}

// Base64 returns the payload in standard base64.
func (a Attachment) Base64() string {
	return base64.StdEncoding.EncodeToString(a.Data)
}

// DecodeAttachment builds an attachment from a base64 payload.
func DecodeAttachment(filename, mimeType, b64 string) (Attachment, error) {
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(b64))
	if err != nil {
		return Attachment{}, fmt.Errorf("invalid base64 payload for %q: %w", filename, err)
	}
	return Attachment{
		Filename: filename,
		MimeType: mimeType,
		Data:     data,
	}, nil
}

// Chat is an entry of the provider's chat list.
type Chat struct {
	ID      string
	Name    string
	IsGroup bool
}

// SendOptions modify a single send.
type SendOptions struct {
	QuotedMessageID string
}

// SentMessage identifies a message the provider accepted.
type SentMessage struct {
	ID        string
	ChatID    string
	Timestamp time.Time
}
