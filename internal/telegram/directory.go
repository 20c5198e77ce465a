package telegram

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/harun/docrelay/pkg/chat"
)

// directory remembers chats seen in updates and sends.
type directory struct {
	mu    sync.RWMutex
	chats map[string]chat.Chat
}

func newDirectory() *directory {
	return &directory{chats: make(map[string]chat.Chat)}
}

func (d *directory) remember(c chat.Chat) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.chats[c.ID] = c
}

func (d *directory) get(id string) (chat.Chat, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.chats[id]
	return c, ok
}

func (d *directory) list() []chat.Chat {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]chat.Chat, 0, len(d.chats))
	for _, c := range d.chats {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ListChats returns every chat seen since start.
func (b *Bot) ListChats(ctx context.Context) ([]chat.Chat, error) {
	return b.directory.list(), nil
}

// ResolveIdentifier maps a chat id or @username to a canonical chat id.
// Unknown numeric ids are confirmed with getChat.
func (b *Bot) ResolveIdentifier(ctx context.Context, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", chat.ErrNotFound
	}
	if _, ok := b.directory.get(raw); ok {
		return raw, nil
	}

	cfg := tgbotapi.ChatInfoConfig{}
	if strings.HasPrefix(raw, "@") {
		cfg.SuperGroupUsername = raw
	} else {
		id, err := parseChatID(raw)
		if err != nil {
			return "", err
		}
		cfg.ChatID = id
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}
	c, err := b.api.GetChat(cfg)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", raw, mapError(err))
	}

	found := toChat(&c)
	b.directory.remember(found)
	return found.ID, nil
}
