package telegram

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api"

	"evcsms/internal"
)

// Bot pushes charge point events to the configured Telegram chats. Events
// go through a buffered channel; a slow Telegram API never blocks the
// protocol handlers.
type Bot struct {
	api     *tgbotapi.BotAPI
	chatIds []int64
	logger  internal.LogHandler
	events  chan string
}

func NewBot(apiKey string, chatIds []int64) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(apiKey)
	if err != nil {
		return nil, err
	}
	return &Bot{
		api:     api,
		chatIds: chatIds,
		events:  make(chan string, 100),
	}, nil
}

func (b *Bot) SetLogger(logger internal.LogHandler) {
	b.logger = logger
}

func (b *Bot) Start() {
	go b.sendPump()
}

func (b *Bot) sendPump() {
	for text := range b.events {
		for _, chatId := range b.chatIds {
			message := tgbotapi.NewMessage(chatId, text)
			if _, err := b.api.Send(message); err != nil && b.logger != nil {
				b.logger.Error("telegram send", err)
			}
		}
	}
}

func (b *Bot) queue(text string) {
	select {
	case b.events <- text:
	default:
		if b.logger != nil {
			b.logger.Warn("telegram event queue is full, message dropped")
		}
	}
}

func (b *Bot) OnAuthorize(event *internal.EventMessage) {
	b.queue(fmt.Sprintf("🪪 %s: tag %s %s", event.ChargerId, event.IdTag, event.Status))
}

func (b *Bot) OnTransactionStart(event *internal.EventMessage) {
	b.queue(fmt.Sprintf("🔌 %s: transaction %d started on connector %d by %s", event.ChargerId, event.TransactionId, event.ConnectorId, event.IdTag))
}

func (b *Bot) OnTransactionStop(event *internal.EventMessage) {
	b.queue(fmt.Sprintf("🏁 %s: transaction %d stopped (%s); %s", event.ChargerId, event.TransactionId, event.Status, event.Info))
}

func (b *Bot) OnStatusNotification(event *internal.EventMessage) {
	b.queue(fmt.Sprintf("⚠️ %s: connector %d reported %s; %s", event.ChargerId, event.ConnectorId, event.Status, event.Info))
}
