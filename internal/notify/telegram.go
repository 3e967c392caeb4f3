package notify

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/stellarlinkco/taskhub/internal/config"
)

const telegramMethod = "telegram"

// TelegramBot interface for mocking telegram bot API
type TelegramBot interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetSelf() tgbotapi.User
}

type tgBotWrapper struct {
	bot *tgbotapi.BotAPI
}

func (w *tgBotWrapper) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	return w.bot.Send(c)
}

func (w *tgBotWrapper) GetSelf() tgbotapi.User {
	return w.bot.Self
}

// BotFactory creates TelegramBot instances (allows mocking)
type BotFactory func(token, apiEndpoint string, client *http.Client) (TelegramBot, error)

var defaultBotFactory BotFactory = func(token, apiEndpoint string, client *http.Client) (TelegramBot, error) {
	bot, err := tgbotapi.NewBotAPIWithClient(token, apiEndpoint, client)
	if err != nil {
		return nil, err
	}
	return &tgBotWrapper{bot: bot}, nil
}

// TelegramSender posts notifications to one configured chat.
type TelegramSender struct {
	token      string
	chatID     int64
	proxy      string
	bot        TelegramBot
	botFactory BotFactory
}

func NewTelegramSender(cfg config.TelegramConfig) (*TelegramSender, error) {
	return NewTelegramSenderWithFactory(cfg, defaultBotFactory)
}

// NewTelegramSenderWithFactory creates a TelegramSender with custom bot factory (for testing)
func NewTelegramSenderWithFactory(cfg config.TelegramConfig, factory BotFactory) (*TelegramSender, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram token is required")
	}
	if cfg.ChatID == 0 {
		return nil, fmt.Errorf("telegram chat id is required")
	}
	return &TelegramSender{
		token:      cfg.Token,
		chatID:     cfg.ChatID,
		proxy:      cfg.Proxy,
		botFactory: factory,
	}, nil
}

func (t *TelegramSender) Name() string { return telegramMethod }

func (t *TelegramSender) Start(ctx context.Context) error {
	client := http.DefaultClient
	if t.proxy != "" {
		proxyURL, err := url.Parse(t.proxy)
		if err != nil {
			return fmt.Errorf("parse proxy url: %w", err)
		}
		client = &http.Client{
			Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
		}
	}

	bot, err := t.botFactory(t.token, tgbotapi.APIEndpoint, client)
	if err != nil {
		return fmt.Errorf("create telegram bot: %w", err)
	}
	t.bot = bot
	log.Printf("[telegram] authorized as @%s", bot.GetSelf().UserName)
	return nil
}

func (t *TelegramSender) Stop() error {
	log.Printf("[telegram] stopped")
	return nil
}

// SetBot sets the bot (for testing)
func (t *TelegramSender) SetBot(bot TelegramBot) {
	t.bot = bot
}

// maxMessageLen stays under Telegram's 4096 character limit once the
// text is HTML-escaped.
const maxMessageLen = 3500

func (t *TelegramSender) Send(n Notification) error {
	if t.bot == nil {
		return fmt.Errorf("telegram bot not initialized")
	}
	for _, part := range splitMessage(n.Text, maxMessageLen) {
		if err := t.sendPart(part); err != nil {
			return err
		}
	}
	return nil
}

// sendPart tries HTML first and falls back to plain text.
func (t *TelegramSender) sendPart(text string) error {
	msg := tgbotapi.NewMessage(t.chatID, toTelegramHTML(text))
	msg.ParseMode = tgbotapi.ModeHTML
	if _, err := t.bot.Send(msg); err == nil {
		return nil
	}
	msg = tgbotapi.NewMessage(t.chatID, text)
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	return nil
}

// splitMessage cuts s into parts of at most limit bytes, preferring line
// breaks.
func splitMessage(s string, limit int) []string {
	var parts []string
	for len(s) > limit {
		cut := strings.LastIndex(s[:limit], "\n")
		if cut <= 0 {
			cut = limit
		}
		parts = append(parts, s[:cut])
		s = strings.TrimPrefix(s[cut:], "\n")
	}
	if s != "" {
		parts = append(parts, s)
	}
	return parts
}

// toTelegramHTML escapes s and turns **bold** spans into <b> tags.
func toTelegramHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")

	for {
		start := strings.Index(s, "**")
		if start == -1 {
			break
		}
		end := strings.Index(s[start+2:], "**")
		if end == -1 {
			break
		}
		end += start + 2
		s = s[:start] + "<b>" + s[start+2:end] + "</b>" + s[end+2:]
	}
	return s
}
