package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/mitchellh/mapstructure"

	"github.com/kjstillabower/weather-lookup-service/internal/controller"
	"github.com/kjstillabower/weather-lookup-service/internal/location"
	"github.com/kjstillabower/weather-lookup-service/internal/models"
	"github.com/kjstillabower/weather-lookup-service/internal/session"
	"github.com/kjstillabower/weather-lookup-service/internal/validation"
)

const historyLimit = 5

// Callback is the JSON carried by inline buttons.
type Callback struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

const refreshCallback = "refresh"

type refreshData struct {
	Lat float64 `mapstructure:"lat"`
	Lon float64 `mapstructure:"lon"`
}

var ErrWrongCallback = errors.New("wrong callback")

func (b *Bot) handleCommand(ctx context.Context, message *tgbotapi.Message) error {
	switch message.Command() {
	case "start":
		return b.handleStartCommand(ctx, message)
	case "history":
		return b.handleHistoryCommand(ctx, message)
	default:
		return b.send(tgbotapi.NewMessage(message.Chat.ID, "Send a city name or share your location."))
	}
}

func (b *Bot) handleStartCommand(ctx context.Context, message *tgbotapi.Message) error {
	b.session(userID(message.From, message.Chat.ID))

	msg := tgbotapi.NewMessage(message.Chat.ID, "Hi! Share your location or send me a city name to get the current weather.")
	msg.ReplyMarkup = tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButtonLocation("Weather at my location"),
		),
	)
	return b.send(msg)
}

func (b *Bot) handleHistoryCommand(ctx context.Context, message *tgbotapi.Message) error {
	records, err := b.history.FindByUser(ctx, userID(message.From, message.Chat.ID))
	if err != nil {
		_ = b.send(tgbotapi.NewMessage(message.Chat.ID, "History is unavailable right now."))
		return fmt.Errorf("history lookup: %w", err)
	}
	return b.send(tgbotapi.NewMessage(message.Chat.ID, renderHistory(records, historyLimit)))
}

func (b *Bot) handleLocation(ctx context.Context, message *tgbotapi.Message) error {
	s := b.session(userID(message.From, message.Chat.ID))
	s.ReportLocation(models.Coordinates{
		Latitude:  message.Location.Latitude,
		Longitude: message.Location.Longitude,
	})
	return b.reply(message.Chat.ID, s, s.UseLocation(ctx))
}

func (b *Bot) handleText(ctx context.Context, message *tgbotapi.Message) error {
	city, err := validation.ValidateCity(message.Text, validation.CityMinLen, validation.CityMaxLen)
	if err != nil {
		return b.send(tgbotapi.NewMessage(message.Chat.ID, "That doesn't look like a city name."))
	}
	s := b.session(userID(message.From, message.Chat.ID))
	return b.reply(message.Chat.ID, s, s.SearchCity(ctx, city))
}

func (b *Bot) handleCallback(ctx context.Context, query *tgbotapi.CallbackQuery) error {
	if _, err := b.api.Request(tgbotapi.NewCallback(query.ID, "")); err != nil {
		return fmt.Errorf("answer callback: %w", err)
	}
	if query.Message == nil || query.Message.Chat == nil {
		return ErrWrongCallback
	}

	var callback Callback
	if err := json.Unmarshal([]byte(query.Data), &callback); err != nil {
		return ErrWrongCallback
	}
	switch callback.Type {
	case refreshCallback:
		var coords refreshData
		if err := mapstructure.Decode(callback.Data, &coords); err != nil {
			return ErrWrongCallback
		}
		if err := validation.ValidateCoordinates(coords.Lat, coords.Lon); err != nil {
			return ErrWrongCallback
		}
		s := b.session(userID(query.From, query.Message.Chat.ID))
		return b.reply(query.Message.Chat.ID, s, s.Controller().RequestByLocation(ctx, coords.Lat, coords.Lon))
	default:
		return ErrWrongCallback
	}
}

// reply sends the session's reading, or what went wrong, with a refresh button for the
// reading's coordinates.
func (b *Bot) reply(chatID int64, s *session.Session, lookupErr error) error {
	if errors.Is(lookupErr, controller.ErrSuperseded) {
		return nil
	}
	state := s.Controller().Snapshot()
	if lookupErr != nil {
		return b.send(tgbotapi.NewMessage(chatID, errorText(lookupErr, state)))
	}
	if state.Reading == nil {
		return b.send(tgbotapi.NewMessage(chatID, "Waiting for your location..."))
	}

	msg := tgbotapi.NewMessage(chatID, renderReading(*state.Reading))
	msg.ParseMode = tgbotapi.ModeHTML
	if data, err := refreshButtonData(state.Reading.Latitude, state.Reading.Longitude); err == nil {
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Refresh", data),
		))
	}
	return b.send(msg)
}

// refreshButtonData encodes the refresh callback. Coordinates are rounded so the payload
// fits Telegram's 64-byte callback limit.
func refreshButtonData(lat, lon float64) (string, error) {
	round := func(v float64) float64 { return math.Round(v*1e4) / 1e4 }
	data, err := json.Marshal(Callback{
		Type: refreshCallback,
		Data: map[string]float64{"lat": round(lat), "lon": round(lon)},
	})
	if err != nil {
		return "", err
	}
	if len(data) > 64 {
		return "", fmt.Errorf("callback data is %d bytes", len(data))
	}
	return string(data), nil
}

func errorText(err error, state controller.State) string {
	switch {
	case errors.Is(err, location.ErrPermissionDenied):
		return session.PermissionMessage
	case errors.Is(err, location.ErrServiceUnavailable):
		return "Location services are unavailable. Share your location again."
	case state.Error != "":
		return state.Error
	default:
		return "Something went wrong: " + strings.TrimSpace(err.Error())
	}
}
