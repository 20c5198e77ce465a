// Package chattest provides an in-memory chat.Provider for tests.
package chattest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/harun/docrelay/pkg/chat"
)

// Sent records one accepted send.
type Sent struct {
	Message    chat.SentMessage
	Text       string
	Attachment *chat.Attachment
	QuotedID   string
}

// Provider is a fake chat provider. All methods are safe for concurrent use.
type Provider struct {
	mu sync.Mutex

	events chan chat.InboundEvent
	chats  []chat.Chat
	media  map[string]chat.Attachment
	ids    map[string]string // raw identifier -> chat id

	sent      []Sent
	downloads int
	seq       int

	// ExpiredQuotes lists quoted ids the provider refuses to quote.
	ExpiredQuotes map[string]bool

	// FailSend, when set, is consulted before every send; a non-nil error aborts it.
	FailSend func(chatID, text string, att *chat.Attachment, opts chat.SendOptions) error

	// FailDownload makes every download fail.
	FailDownload error
}

// New creates an empty fake provider.
func New() *Provider {
	return &Provider{
		events:        make(chan chat.InboundEvent, 64),
		media:         make(map[string]chat.Attachment),
		ids:           make(map[string]string),
		ExpiredQuotes: make(map[string]bool),
	}
}

// AddChat registers a chat returned by ListChats.
func (p *Provider) AddChat(c chat.Chat) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.chats = append(p.chats, c)
}

// AddIdentity makes ResolveIdentifier map raw to chatID.
func (p *Provider) AddIdentity(raw, chatID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ids[raw] = chatID
}

// AddMedia registers a downloadable attachment under ref.
func (p *Provider) AddMedia(ref string, att chat.Attachment) chat.MediaRef {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.media[ref] = att
	return chat.MediaRef{Ref: ref, Filename: att.Filename}
}

// Emit pushes an event onto the inbound stream.
func (p *Provider) Emit(ev chat.InboundEvent) {
	p.events <- ev
}

// Close closes the inbound stream.
func (p *Provider) Close() {
	close(p.events)
}

// Sent returns a copy of all accepted sends.
func (p *Provider) Sent() []Sent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Sent, len(p.sent))
	copy(out, p.sent)
	return out
}

// Downloads returns how many downloads were attempted.
func (p *Provider) Downloads() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.downloads
}

func (p *Provider) Events() <-chan chat.InboundEvent {
	return p.events
}

func (p *Provider) Download(ctx context.Context, ref chat.MediaRef) (chat.Attachment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.downloads++
	if p.FailDownload != nil {
		return chat.Attachment{}, p.FailDownload
	}
	att, ok := p.media[ref.Ref]
	if !ok {
		return chat.Attachment{}, fmt.Errorf("media %s: %w", ref.Ref, chat.ErrNotFound)
	}
	return att, nil
}

func (p *Provider) SendText(ctx context.Context, chatID, text string, opts chat.SendOptions) (chat.SentMessage, error) {
	return p.send(chatID, text, nil, opts)
}

func (p *Provider) SendMedia(ctx context.Context, chatID string, att chat.Attachment, opts chat.SendOptions) (chat.SentMessage, error) {
	return p.send(chatID, "", &att, opts)
}

func (p *Provider) send(chatID, text string, att *chat.Attachment, opts chat.SendOptions) (chat.SentMessage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.FailSend != nil {
		if err := p.FailSend(chatID, text, att, opts); err != nil {
			return chat.SentMessage{}, err
		}
	}
	if opts.QuotedMessageID != "" && p.ExpiredQuotes[opts.QuotedMessageID] {
		return chat.SentMessage{}, fmt.Errorf("quote %s: %w", opts.QuotedMessageID, chat.ErrQuoteRejected)
	}

	p.seq++
	msg := chat.SentMessage{
		ID:        fmt.Sprintf("sent-%d", p.seq),
		ChatID:    chatID,
		Timestamp: time.Now(),
	}
	p.sent = append(p.sent, Sent{
		Message:    msg,
		Text:       text,
		Attachment: att,
		QuotedID:   opts.QuotedMessageID,
	})
	return msg, nil
}

func (p *Provider) ListChats(ctx context.Context) ([]chat.Chat, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]chat.Chat, len(p.chats))
	copy(out, p.chats)
	return out, nil
}

func (p *Provider) ResolveIdentifier(ctx context.Context, raw string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if id, ok := p.ids[strings.TrimSpace(raw)]; ok {
		return id, nil
	}
	return "", chat.ErrNotFound
}
