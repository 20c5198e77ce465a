package delivery

import (
	"strings"

	"github.com/harun/docrelay/pkg/chat"
)

const (
	DefaultFileMimeType = "application/pdf"
	DefaultFilename     = "file.pdf"
)

// File is an attachment as received over HTTP.
type File struct {
	Filename string `json:"filename"`
	MimeType string `json:"mimetype"`
	Base64   string `json:"base64"`
}

// decode fills defaults and decodes the payload.
func (f File) decode() (chat.Attachment, error) {
	if strings.TrimSpace(f.Base64) == "" {
		return chat.Attachment{}, validationf("file has no base64 payload")
	}
	name := f.Filename
	if name == "" {
		name = DefaultFilename
	}
	mime := f.MimeType
	if mime == "" {
		mime = DefaultFileMimeType
	}
	att, err := chat.DecodeAttachment(name, mime, f.Base64)
	if err != nil {
		return chat.Attachment{}, validationf("%v", err)
	}
	return att, nil
}

// GroupMessage sends text plus files to a group by display name.
type GroupMessage struct {
	GroupName string
	Text      string
	Files     []File
}

// UserMessage sends text plus files to a recipient.
type UserMessage struct {
	Recipient string
	Text      string
	Files     []File
}

// ReplyMessage sends text and/or one file, optionally quoting a message.
type ReplyMessage struct {
	Recipient       string
	Text            string
	File            *File
	QuotedMessageID string
}

// digits keeps only ASCII digits of a phone number.
func digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
