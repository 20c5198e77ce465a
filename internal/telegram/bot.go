// Package telegram implements chat.Provider over the Telegram Bot API.
//
// Message ids are "<chatID>_<messageID>" so they stay unique across chats.
// Bots cannot enumerate their chats, so ListChats reports every chat the bot
// has seen since start.
package telegram

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/harun/docrelay/internal/config"
	"github.com/harun/docrelay/internal/logger"
	"github.com/harun/docrelay/pkg/chat"
	"github.com/rs/zerolog"
)

const (
	// MaxDownloadSize is the Bot API limit for getFile downloads.
	MaxDownloadSize = 20 << 20

	eventBuffer = 256
)

// Bot is a Telegram chat provider.
type Bot struct {
	api          *tgbotapi.BotAPI
	config       *config.TelegramConfig
	logger       zerolog.Logger
	httpClient   *http.Client
	fileEndpoint string

	directory *directory

	events   chan chat.InboundEvent
	done     chan struct{}
	stopOnce sync.Once

	mu      sync.Mutex
	running bool
}

var _ chat.Provider = (*Bot)(nil)

// Option customizes a Bot.
type Option func(*options)

type options struct {
	apiEndpoint  string
	fileEndpoint string
	httpClient   *http.Client
}

// WithEndpoints points the bot at another Bot API server. Both formats take
// the token and the method or file path.
func WithEndpoints(api, file string) Option {
	return func(o *options) {
		o.apiEndpoint = api
		o.fileEndpoint = file
	}
}

// WithHTTPClient sets the client used for API calls and downloads.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// New creates a new Telegram bot instance and authenticates it.
func New(cfg *config.TelegramConfig, log *logger.Logger, opts ...Option) (*Bot, error) {
	if cfg == nil {
		return nil, fmt.Errorf("telegram config is required")
	}

	if cfg.BotToken == "" {
		return nil, fmt.Errorf("bot token is required")
	}

	o := options{
		apiEndpoint:  tgbotapi.APIEndpoint,
		fileEndpoint: tgbotapi.FileEndpoint,
		httpClient:   &http.Client{Timeout: time.Duration(cfg.PollTimeout+30) * time.Second},
	}
	for _, opt := range opts {
		opt(&o)
	}

	api, err := tgbotapi.NewBotAPIWithClient(cfg.BotToken, o.apiEndpoint, o.httpClient)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot API: %w", mapError(err))
	}

	bot := &Bot{
		api:          api,
		config:       cfg,
		logger:       log.Component("telegram"),
		httpClient:   o.httpClient,
		fileEndpoint: o.fileEndpoint,
		directory:    newDirectory(),
		events:       make(chan chat.InboundEvent, eventBuffer),
		done:         make(chan struct{}),
	}

	bot.logger.Info().
		Str("username", api.Self.UserName).
		Int64("id", api.Self.ID).
		Msg("Telegram bot authenticated")

	return bot, nil
}

// Start begins long polling for updates.
func (b *Bot) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		return fmt.Errorf("bot is already running")
	}
	select {
	case <-b.done:
		return fmt.Errorf("bot is stopped")
	default:
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.config.PollTimeout
	u.AllowedUpdates = []string{"message"}

	updates := b.api.GetUpdatesChan(u)
	b.running = true
	go b.processUpdates(updates)

	b.logger.Info().Int("poll_timeout", u.Timeout).Msg("Telegram bot started")
	return nil
}

// Stop stops polling and closes the event stream.
func (b *Bot) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.running {
		return fmt.Errorf("bot is not running")
	}
	b.running = false
	b.api.StopReceivingUpdates()
	b.stopOnce.Do(func() { close(b.done) })

	b.logger.Info().Msg("Telegram bot stopped")
	return nil
}

// IsRunning returns whether the bot is running
func (b *Bot) IsRunning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

// Events returns the inbound stream. It is closed after Stop.
func (b *Bot) Events() <-chan chat.InboundEvent {
	return b.events
}

// Username returns the bot's Telegram username.
func (b *Bot) Username() string {
	return b.api.Self.UserName
}

func (b *Bot) processUpdates(updates tgbotapi.UpdatesChannel) {
	defer close(b.events)

	for {
		select {
		case <-b.done:
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if !b.handleUpdate(update) {
				return
			}
		}
	}
}

// handleUpdate converts and emits one update. It reports false once the bot is stopping.
func (b *Bot) handleUpdate(update tgbotapi.Update) bool {
	msg := update.Message
	if msg == nil || msg.Chat == nil {
		return true
	}

	ev := toInboundEvent(msg)
	b.directory.remember(toChat(msg.Chat))

	b.logger.Debug().
		Int("update_id", update.UpdateID).
		Str("chat_id", ev.ChatID).
		Str("message_id", ev.MessageID).
		Bool("is_group", ev.IsGroup).
		Bool("has_media", ev.HasMedia()).
		Msg("Message received")

	select {
	case b.events <- ev:
		return true
	case <-b.done:
		return false
	}
}
