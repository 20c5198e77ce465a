package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/harun/docrelay/pkg/chat"
)

// SendText sends a text message, replying to opts.QuotedMessageID when set.
func (b *Bot) SendText(ctx context.Context, chatID, text string, opts chat.SendOptions) (chat.SentMessage, error) {
	id, err := parseChatID(chatID)
	if err != nil {
		return chat.SentMessage{}, err
	}
	msg := tgbotapi.NewMessage(id, text)
	if msg.ReplyToMessageID, err = replyTo(id, opts.QuotedMessageID); err != nil {
		return chat.SentMessage{}, err
	}
	return b.send(ctx, msg)
}

// SendMedia sends att as a document.
func (b *Bot) SendMedia(ctx context.Context, chatID string, att chat.Attachment, opts chat.SendOptions) (chat.SentMessage, error) {
	id, err := parseChatID(chatID)
	if err != nil {
		return chat.SentMessage{}, err
	}
	doc := tgbotapi.NewDocument(id, tgbotapi.FileBytes{Name: att.Filename, Bytes: att.Data})
	if doc.ReplyToMessageID, err = replyTo(id, opts.QuotedMessageID); err != nil {
		return chat.SentMessage{}, err
	}
	return b.send(ctx, doc)
}

func (b *Bot) send(ctx context.Context, c tgbotapi.Chattable) (chat.SentMessage, error) {
	if err := ctx.Err(); err != nil {
		return chat.SentMessage{}, err
	}

	sent, err := b.api.Send(c)
	if err != nil {
		return chat.SentMessage{}, fmt.Errorf("failed to send message: %w", mapError(err))
	}
	if sent.Chat == nil {
		return chat.SentMessage{}, fmt.Errorf("failed to send message: response has no chat")
	}
	b.directory.remember(toChat(sent.Chat))

	b.logger.Debug().
		Int64("chat_id", sent.Chat.ID).
		Int("message_id", sent.MessageID).
		Msg("Message sent")

	return chat.SentMessage{
		ID:        MessageID(sent.Chat.ID, sent.MessageID),
		ChatID:    formatChatID(sent.Chat.ID),
		Timestamp: sent.Time(),
	}, nil
}

// replyTo resolves a quoted id to a message id in the target chat. Quoting
// across chats is impossible in Telegram and is rejected up front.
func replyTo(chatID int64, quoted string) (int, error) {
	if quoted == "" {
		return 0, nil
	}
	qChat, qMsg, err := ParseMessageID(quoted)
	if err != nil {
		return 0, fmt.Errorf("%v: %w", err, chat.ErrQuoteRejected)
	}
	if qChat != chatID {
		return 0, fmt.Errorf("quoted message %s belongs to another chat: %w", quoted, chat.ErrQuoteRejected)
	}
	return qMsg, nil
}

// mapError translates Bot API failures into chat error kinds. Transport
// failures lose their URL, which embeds the bot token.
func mapError(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return fmt.Errorf("bot api %s request failed: %w", strings.ToLower(urlErr.Op), urlErr.Err)
	}
	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	desc := strings.ToLower(apiErr.Message)
	switch {
	case strings.Contains(desc, "replied") && strings.Contains(desc, "not found"):
		return fmt.Errorf("%s: %w", apiErr.Message, chat.ErrQuoteRejected)
	case strings.Contains(desc, "chat not found"), strings.Contains(desc, "user not found"),
		strings.Contains(desc, "file not found"), strings.Contains(desc, "wrong file_id"):
		return fmt.Errorf("%s: %w", apiErr.Message, chat.ErrNotFound)
	}
	return err
}
