// Package telegram serves weather lookups to Telegram chats: a shared location or a city
// name triggers a lookup on the sender's session.
package telegram

import (
	"context"
	"strconv"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-lookup-service/internal/history"
	"github.com/kjstillabower/weather-lookup-service/internal/observability"
	"github.com/kjstillabower/weather-lookup-service/internal/session"
)

// API is the part of *tgbotapi.BotAPI the bot uses.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

type Bot struct {
	api      API
	sessions *session.Manager
	history  history.Store
	logger   *zap.Logger
	timeout  time.Duration

	wg sync.WaitGroup
}

// NewBot returns a bot over api. timeout bounds the handling of one update.
func NewBot(api API, sessions *session.Manager, store history.Store, timeout time.Duration, logger *zap.Logger) *Bot {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Bot{
		api:      api,
		sessions: sessions,
		history:  store,
		logger:   logger.With(zap.String("component", "telegram")),
		timeout:  timeout,
	}
}

// Run long-polls for updates, handling each on its own goroutine, until ctx is done.
// It returns after the handlers in progress finish.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.api.GetUpdatesChan(u)

	defer b.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.wg.Add(1)
			go func() {
				defer b.wg.Done()
				b.manageUpdate(ctx, update)
			}()
		}
	}
}

func (b *Bot) manageUpdate(ctx context.Context, update tgbotapi.Update) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	var err error
	switch {
	case update.CallbackQuery != nil:
		err = b.handleCallback(b.scoped(ctx, update.CallbackQuery.From, 0), update.CallbackQuery)
	case update.Message == nil:
		return
	case update.Message.Location != nil:
		err = b.handleLocation(b.scoped(ctx, update.Message.From, update.Message.Chat.ID), update.Message)
	case update.Message.IsCommand():
		err = b.handleCommand(b.scoped(ctx, update.Message.From, update.Message.Chat.ID), update.Message)
	case update.Message.Text != "":
		err = b.handleText(b.scoped(ctx, update.Message.From, update.Message.Chat.ID), update.Message)
	}
	if err != nil {
		observability.LoggerFromContext(ctx, b.logger).Warn("telegram update failed",
			zap.Int("updateId", update.UpdateID), zap.Error(err))
	}
}

// scoped attaches a logger naming the Telegram user to ctx.
func (b *Bot) scoped(ctx context.Context, from *tgbotapi.User, chatID int64) context.Context {
	return observability.ContextWithLogger(ctx, b.logger.With(zap.String("userId", userID(from, chatID))))
}

// userID maps a Telegram sender to a session user id. Messages without a sender
// (channel posts) use the chat id.
func userID(from *tgbotapi.User, chatID int64) string {
	if from != nil {
		return "tg:" + strconv.FormatInt(from.ID, 10)
	}
	return "tg:" + strconv.FormatInt(chatID, 10)
}

// session returns the sender's session, opening one with location access granted:
// sharing a location in Telegram is the permission.
func (b *Bot) session(uid string) *session.Session {
	s, _ := b.sessions.GetOrOpen(uid, session.Options{PermissionGranted: true, ServiceEnabled: true})
	return s
}

func (b *Bot) send(c tgbotapi.Chattable) error {
	_, err := b.api.Send(c)
	return err
}
