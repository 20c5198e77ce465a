package dispatch

import (
	"context"
	"sync"

	"github.com/harun/docrelay/pkg/chat"
)

// Event is an inbound event plus lazily downloaded media. Downloads are
// shared by every handler that looks at the same event.
type Event struct {
	chat.InboundEvent

	source chat.Source

	mu     sync.Mutex
	own    *download
	quoted *download
}

type download struct {
	att chat.Attachment
	err error
}

func newEvent(ev chat.InboundEvent, source chat.Source) *Event {
	return &Event{InboundEvent: ev, source: source}
}

// Download fetches the event's own attachment once.
func (e *Event) Download(ctx context.Context) (chat.Attachment, error) {
	if e.Media == nil {
		return chat.Attachment{}, chat.ErrNotFound
	}
	return e.fetch(ctx, &e.own, *e.Media)
}

// DownloadQuoted fetches the quoted message's attachment once.
func (e *Event) DownloadQuoted(ctx context.Context) (chat.Attachment, error) {
	if e.Quoted == nil || e.Quoted.Media == nil {
		return chat.Attachment{}, chat.ErrNotFound
	}
	return e.fetch(ctx, &e.quoted, *e.Quoted.Media)
}

func (e *Event) fetch(ctx context.Context, slot **download, ref chat.MediaRef) (chat.Attachment, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if *slot == nil {
		att, err := e.source.Download(ctx, ref)
		if err == nil {
			if att.Filename == "" {
				att.Filename = ref.Filename
			}
			if att.MimeType == "" {
				att.MimeType = ref.MimeType
			}
		}
		*slot = &download{att: att, err: err}
	}
	return (*slot).att, (*slot).err
}

// QuotedID returns the quoted message id, or "".
func (e *Event) QuotedID() string {
	if e.Quoted == nil {
		return ""
	}
	return e.Quoted.MessageID
}
