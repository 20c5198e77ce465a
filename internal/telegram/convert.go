package telegram

import (
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/harun/docrelay/pkg/chat"
)

const photoMimeType = "image/jpeg"

// MessageID builds the provider-wide id of a message.
func MessageID(chatID int64, messageID int) string {
	return fmt.Sprintf("%d_%d", chatID, messageID)
}

// ParseMessageID splits an id built by MessageID.
func ParseMessageID(id string) (chatID int64, messageID int, err error) {
	i := strings.LastIndex(id, "_")
	if i <= 0 || i == len(id)-1 {
		return 0, 0, fmt.Errorf("malformed message id %q", id)
	}
	chatID, err = strconv.ParseInt(id[:i], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed message id %q: %w", id, err)
	}
	messageID, err = strconv.Atoi(id[i+1:])
	if err != nil {
		return 0, 0, fmt.Errorf("malformed message id %q: %w", id, err)
	}
	return chatID, messageID, nil
}

func formatChatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

func parseChatID(id string) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid telegram chat id %q: %w", id, chat.ErrNotFound)
	}
	return n, nil
}

func isGroup(c *tgbotapi.Chat) bool {
	return c.IsGroup() || c.IsSuperGroup()
}

// chatName is the title of a group or the display name of a person.
func chatName(c *tgbotapi.Chat) string {
	if c.Title != "" {
		return c.Title
	}
	name := strings.TrimSpace(c.FirstName + " " + c.LastName)
	if name != "" {
		return name
	}
	return c.UserName
}

func toChat(c *tgbotapi.Chat) chat.Chat {
	return chat.Chat{
		ID:      formatChatID(c.ID),
		Name:    chatName(c),
		IsGroup: isGroup(c),
	}
}

// text returns the message text or, for media, its caption.
func text(msg *tgbotapi.Message) string {
	if msg.Text != "" {
		return msg.Text
	}
	return msg.Caption
}

// mediaRef extracts the downloadable attachment of a message, if any.
func mediaRef(msg *tgbotapi.Message) *chat.MediaRef {
	switch {
	case msg.Document != nil:
		return &chat.MediaRef{
			Ref:      msg.Document.FileID,
			Filename: msg.Document.FileName,
			MimeType: msg.Document.MimeType,
			Size:     int64(msg.Document.FileSize),
		}
	case len(msg.Photo) > 0:
		largest := msg.Photo[len(msg.Photo)-1]
		return &chat.MediaRef{
			Ref:      largest.FileID,
			Filename: "photo.jpg",
			MimeType: photoMimeType,
			Size:     int64(largest.FileSize),
		}
	}
	return nil
}

func toInboundEvent(msg *tgbotapi.Message) chat.InboundEvent {
	ev := chat.InboundEvent{
		MessageID: MessageID(msg.Chat.ID, msg.MessageID),
		ChatID:    formatChatID(msg.Chat.ID),
		ChatName:  chatName(msg.Chat),
		IsGroup:   isGroup(msg.Chat),
		Text:      text(msg),
		Timestamp: msg.Time(),
		Media:     mediaRef(msg),
	}

	// Direct messages are addressed by chat; group messages by sender.
	ev.SourceID = ev.ChatID
	if ev.IsGroup && msg.From != nil {
		ev.SourceID = strconv.FormatInt(msg.From.ID, 10)
	}

	if q := msg.ReplyToMessage; q != nil {
		ev.Quoted = &chat.QuotedMessage{
			MessageID: MessageID(msg.Chat.ID, q.MessageID),
			Text:      text(q),
			Media:     mediaRef(q),
		}
	}
	return ev
}
