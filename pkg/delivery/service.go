package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/harun/docrelay/internal/metrics"
	"github.com/harun/docrelay/pkg/chat"
	"github.com/rs/zerolog"
)

// ChatClient is the chat capability delivery needs.
type ChatClient interface {
	chat.Sender
	chat.Directory
}

// Service delivers outbound requests.
type Service struct {
	chat    ChatClient
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewService creates a delivery service.
func NewService(client ChatClient, m *metrics.Metrics, logger zerolog.Logger) *Service {
	return &Service{
		chat:    client,
		metrics: m,
		logger:  logger.With().Str("component", "delivery").Logger(),
	}
}

// SendToGroup sends text then each file to the group with this exact name.
// It returns the text message.
func (s *Service) SendToGroup(ctx context.Context, req GroupMessage) (chat.SentMessage, error) {
	if req.GroupName == "" || req.Text == "" {
		return chat.SentMessage{}, s.fail("send_to_group", validationf("groupName and message are required"))
	}
	atts, err := decodeFiles(req.Files)
	if err != nil {
		return chat.SentMessage{}, s.fail("send_to_group", err)
	}

	chats, err := s.chat.ListChats(ctx)
	if err != nil {
		return chat.SentMessage{}, s.fail("send_to_group", fmt.Errorf("list chats: %w", err))
	}
	var groupID string
	for _, c := range chats {
		if c.IsGroup && c.Name == req.GroupName {
			groupID = c.ID
			break
		}
	}
	if groupID == "" {
		return chat.SentMessage{}, s.fail("send_to_group", fmt.Errorf("%w: group %q", ErrNotFound, req.GroupName))
	}

	sent, err := s.sendAll(ctx, groupID, req.Text, atts)
	return sent, s.done("send_to_group", err)
}

// SendToUser resolves the recipient and sends text then each file.
func (s *Service) SendToUser(ctx context.Context, req UserMessage) (chat.SentMessage, error) {
	if req.Recipient == "" || req.Text == "" {
		return chat.SentMessage{}, s.fail("send_to_user", validationf("phoneNumber and message are required"))
	}
	atts, err := decodeFiles(req.Files)
	if err != nil {
		return chat.SentMessage{}, s.fail("send_to_user", err)
	}

	chatID, err := s.resolve(ctx, req.Recipient)
	if err != nil {
		return chat.SentMessage{}, s.fail("send_to_user", err)
	}

	sent, err := s.sendAll(ctx, chatID, req.Text, atts)
	return sent, s.done("send_to_user", err)
}

// ReplyToMessage sends text and/or a file, each first with the quote and
// then without it. It fails only if nothing could be sent. The returned
// message is the file message when one was sent, else the text message.
func (s *Service) ReplyToMessage(ctx context.Context, req ReplyMessage) (chat.SentMessage, error) {
	if req.Recipient == "" || (req.Text == "" && req.File == nil) {
		return chat.SentMessage{}, s.fail("reply_to_message", validationf("phoneNumber and (message or file) are required"))
	}
	var att *chat.Attachment
	if req.File != nil {
		a, err := req.File.decode()
		if err != nil {
			return chat.SentMessage{}, s.fail("reply_to_message", err)
		}
		att = &a
	}

	chatID, err := s.resolveKnown(ctx, req.Recipient)
	if err != nil {
		return chat.SentMessage{}, s.fail("reply_to_message", err)
	}

	logger := zerolog.Ctx(ctx).With().Str("chat_id", chatID).Str("quoted_id", req.QuotedMessageID).Logger()

	var (
		last    chat.SentMessage
		ok      bool
		lastErr error
	)
	if req.Text != "" {
		m, err := s.withFallback(req.QuotedMessageID, logger, func(opts chat.SendOptions) (chat.SentMessage, error) {
			return s.chat.SendText(ctx, chatID, req.Text, opts)
		})
		if err != nil {
			lastErr = err
			logger.Error().Err(err).Msg("Reply text could not be sent")
		} else {
			last, ok = m, true
		}
	}
	if att != nil {
		m, err := s.withFallback(req.QuotedMessageID, logger, func(opts chat.SendOptions) (chat.SentMessage, error) {
			return s.chat.SendMedia(ctx, chatID, *att, opts)
		})
		if err != nil {
			lastErr = err
			logger.Error().Err(err).Msg("Reply file could not be sent")
		} else {
			last, ok = m, true
		}
	}

	if !ok {
		return chat.SentMessage{}, s.fail("reply_to_message", fmt.Errorf("%w: %v", ErrNoMessageSent, lastErr))
	}
	return last, s.done("reply_to_message", nil)
}

// Groups lists group chats known to the provider.
func (s *Service) Groups(ctx context.Context) ([]chat.Chat, error) {
	chats, err := s.chat.ListChats(ctx)
	if err != nil {
		return nil, err
	}
	out := []chat.Chat{}
	for _, c := range chats {
		if c.IsGroup {
			out = append(out, c)
		}
	}
	return out, nil
}

// withFallback tries send with the quote and, on any failure, once without.
func (s *Service) withFallback(quoteID string, logger zerolog.Logger, send func(chat.SendOptions) (chat.SentMessage, error)) (chat.SentMessage, error) {
	if quoteID == "" {
		return send(chat.SendOptions{})
	}
	m, err := send(chat.SendOptions{QuotedMessageID: quoteID})
	if err == nil {
		return m, nil
	}
	logger.Warn().Err(err).Bool("quote_rejected", errors.Is(err, chat.ErrQuoteRejected)).
		Msg("Quoted send failed, retrying without quote")
	return send(chat.SendOptions{})
}

func (s *Service) sendAll(ctx context.Context, chatID, text string, atts []chat.Attachment) (chat.SentMessage, error) {
	first, err := s.chat.SendText(ctx, chatID, text, chat.SendOptions{})
	if err != nil {
		return chat.SentMessage{}, fmt.Errorf("send text: %w", err)
	}
	for i, att := range atts {
		if _, err := s.chat.SendMedia(ctx, chatID, att, chat.SendOptions{}); err != nil {
			return first, &PartialError{Delivered: i + 1, Part: fmt.Sprintf("file %d (%s)", i+1, att.Filename), Err: err}
		}
	}
	return first, nil
}

// resolve maps a recipient to a chat id: exact chat id, provider identity
// lookup (raw, then digits only), then display name.
func (s *Service) resolve(ctx context.Context, recipient string) (string, error) {
	recipient = strings.TrimSpace(recipient)
	chats, err := s.chat.ListChats(ctx)
	if err != nil {
		return "", fmt.Errorf("list chats: %w", err)
	}
	for _, c := range chats {
		if c.ID == recipient {
			return c.ID, nil
		}
	}
	if id, err := s.lookup(ctx, recipient); err == nil {
		return id, nil
	} else if !errors.Is(err, chat.ErrNotFound) {
		return "", err
	}
	for _, c := range chats {
		if c.Name == recipient {
			return c.ID, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrNotFound, recipient)
}

// resolveKnown prefers chats already known by id or name, then identity lookup.
func (s *Service) resolveKnown(ctx context.Context, recipient string) (string, error) {
	recipient = strings.TrimSpace(recipient)
	chats, err := s.chat.ListChats(ctx)
	if err != nil {
		return "", fmt.Errorf("list chats: %w", err)
	}
	for _, c := range chats {
		if c.ID == recipient || c.Name == recipient {
			return c.ID, nil
		}
	}
	id, err := s.lookup(ctx, recipient)
	if errors.Is(err, chat.ErrNotFound) {
		return "", fmt.Errorf("%w: %q", ErrNotFound, recipient)
	}
	return id, err
}

func (s *Service) lookup(ctx context.Context, raw string) (string, error) {
	id, err := s.chat.ResolveIdentifier(ctx, raw)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, chat.ErrNotFound) {
		return "", err
	}
	if d := digits(raw); d != "" && d != raw {
		return s.chat.ResolveIdentifier(ctx, d)
	}
	return "", err
}

func decodeFiles(files []File) ([]chat.Attachment, error) {
	out := make([]chat.Attachment, 0, len(files))
	for i, f := range files {
		att, err := f.decode()
		if err != nil {
			return nil, fmt.Errorf("files[%d]: %w", i, err)
		}
		out = append(out, att)
	}
	return out, nil
}

func (s *Service) fail(op string, err error) error {
	s.metrics.RecordDelivery(op, status(err))
	s.logger.Warn().Err(err).Str("operation", op).Msg("Delivery failed")
	return err
}

func (s *Service) done(op string, err error) error {
	if err != nil {
		return s.fail(op, err)
	}
	s.metrics.RecordDelivery(op, "ok")
	return nil
}

func status(err error) string {
	var pe *PartialError
	switch {
	case errors.Is(err, ErrValidation):
		return "invalid"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrNoMessageSent):
		return "no_message_sent"
	case errors.As(err, &pe):
		return "partial"
	default:
		return "error"
	}
}
