package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/BTreeMap/PitchPipe/internal/models"
)

// DefaultTelegramPollTimeout is the long-poll timeout in seconds for getUpdates.
const DefaultTelegramPollTimeout = 60

// ErrInvalidTelegramToken is returned for tokens that are not "<digits>:<secret>".
var ErrInvalidTelegramToken = errors.New("telegram token must have the form <digits>:<secret>")

var telegramTokenRegex = regexp.MustCompile(`^[0-9]+:[A-Za-z0-9_-]+$`)

// ValidateTelegramToken checks the shape of a bot token without contacting Telegram.
func ValidateTelegramToken(token string) error {
	if !telegramTokenRegex.MatchString(token) {
		return ErrInvalidTelegramToken
	}
	return nil
}

// telegramBot is the slice of *tgbotapi.BotAPI the service uses.
type telegramBot interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// NewTelegramBot validates token and connects to the Bot API.
func NewTelegramBot(token string) (*tgbotapi.BotAPI, error) {
	if err := ValidateTelegramToken(token); err != nil {
		return nil, err
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to telegram: %w", err)
	}
	slog.Info("Telegram bot authorized", "username", bot.Self.UserName)
	return bot, nil
}

// TelegramService implements Service over the Telegram Bot API with long polling. Choices
// are inline keyboards; selections arrive as callback queries.
type TelegramService struct {
	bot         telegramBot
	queue       *eventQueue
	pollTimeout int
	wg          sync.WaitGroup
	stopOnce    sync.Once
}

// NewTelegramService creates a TelegramService around bot.
func NewTelegramService(bot telegramBot) *TelegramService {
	return &TelegramService{
		bot:         bot,
		queue:       newEventQueue("TelegramService"),
		pollTimeout: DefaultTelegramPollTimeout,
	}
}

// Start begins long polling for updates until ctx is cancelled or Stop is called.
func (s *TelegramService) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = s.pollTimeout
	updates := s.bot.GetUpdatesChan(u)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.queue.done:
				return
			case upd, ok := <-updates:
				if !ok {
					return
				}
				if ev, ok := eventFromUpdate(upd); ok {
					s.queue.emit(ev)
				}
			}
		}
	}()
	slog.Debug("TelegramService polling started", "timeout", s.pollTimeout)
	return nil
}

// Stop stops polling and closes the event channel.
func (s *TelegramService) Stop() error {
	s.stopOnce.Do(func() {
		s.bot.StopReceivingUpdates()
		s.queue.stop()
		s.wg.Wait()
		slog.Info("TelegramService stopped")
	})
	return nil
}

// Events returns inbound user events.
func (s *TelegramService) Events() <-chan models.InboundEvent {
	return s.queue.events
}

// SendText sends text to a chat and returns the message ID.
func (s *TelegramService) SendText(ctx context.Context, chatID, text string) (string, error) {
	return s.send(ctx, chatID, text, nil)
}

// SendChoices sends text with one inline keyboard button per choice.
func (s *TelegramService) SendChoices(ctx context.Context, chatID, text string, choices []models.Choice) (string, error) {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(choices))
	for _, c := range choices {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(c.Label, c.Data)))
	}
	markup := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return s.send(ctx, chatID, text, &markup)
}

func (s *TelegramService) send(ctx context.Context, chatID, text string, markup *tgbotapi.InlineKeyboardMarkup) (string, error) {
	if s.queue.isStopped() {
		return "", ErrServiceStopped
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id, err := parseChatID(chatID)
	if err != nil {
		return "", err
	}

	msg := tgbotapi.NewMessage(id, text)
	if markup != nil {
		msg.ReplyMarkup = *markup
	}
	sent, err := s.bot.Send(msg)
	if err != nil {
		slog.Error("TelegramService send failed", "chat_id", chatID, "error", err)
		return "", fmt.Errorf("failed to send telegram message to %s: %w", chatID, err)
	}
	slog.Debug("TelegramService send succeeded", "chat_id", chatID, "message_id", sent.MessageID, "choices", markup != nil)
	return strconv.Itoa(sent.MessageID), nil
}

// EditText replaces the text of a sent message, dropping its inline keyboard.
func (s *TelegramService) EditText(ctx context.Context, chatID, ref, text string) error {
	if s.queue.isStopped() {
		return ErrServiceStopped
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}
	messageID, err := strconv.Atoi(ref)
	if err != nil {
		return fmt.Errorf("invalid telegram message reference %q: %w", ref, err)
	}

	if _, err := s.bot.Request(tgbotapi.NewEditMessageText(id, messageID, text)); err != nil {
		slog.Error("TelegramService EditText failed", "chat_id", chatID, "message_id", messageID, "error", err)
		return fmt.Errorf("failed to edit telegram message %d: %w", messageID, err)
	}
	slog.Debug("TelegramService EditText succeeded", "chat_id", chatID, "message_id", messageID)
	return nil
}

// AckChoice answers a callback query so the client stops its loading indicator.
func (s *TelegramService) AckChoice(ctx context.Context, callbackID string) error {
	if callbackID == "" {
		return nil
	}
	if _, err := s.bot.Request(tgbotapi.NewCallback(callbackID, "")); err != nil {
		slog.Error("TelegramService AckChoice failed", "callback_id", callbackID, "error", err)
		return fmt.Errorf("failed to answer callback %s: %w", callbackID, err)
	}
	return nil
}

// MaxTextLength returns the Bot API sendMessage text limit.
func (s *TelegramService) MaxTextLength() int {
	return TelegramMaxTextLength
}

func parseChatID(chatID string) (int64, error) {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: telegram chat id %q", ErrInvalidRecipient, chatID)
	}
	return id, nil
}

// eventFromUpdate converts a Telegram update into an inbound event. Updates without a user
// or without text are ignored.
func eventFromUpdate(upd tgbotapi.Update) (models.InboundEvent, bool) {
	if cq := upd.CallbackQuery; cq != nil {
		if cq.From == nil || cq.Message == nil || cq.Message.Chat == nil {
			return models.InboundEvent{}, false
		}
		return models.InboundEvent{
			Kind:       models.EventChoice,
			UserID:     strconv.FormatInt(cq.From.ID, 10),
			ChatID:     strconv.FormatInt(cq.Message.Chat.ID, 10),
			Handle:     cq.From.UserName,
			ChoiceData: cq.Data,
			MessageRef: strconv.Itoa(cq.Message.MessageID),
			CallbackID: cq.ID,
			ReceivedAt: time.Now(),
		}, true
	}

	m := upd.Message
	if m == nil || m.From == nil || m.Chat == nil || m.Text == "" {
		return models.InboundEvent{}, false
	}
	ev := models.InboundEvent{
		UserID:     strconv.FormatInt(m.From.ID, 10),
		ChatID:     strconv.FormatInt(m.Chat.ID, 10),
		Handle:     m.From.UserName,
		ReceivedAt: m.Time(),
	}
	if m.IsCommand() {
		ev.Kind = models.EventCommand
		ev.Command = strings.ToLower(m.Command())
	} else {
		ev.Kind = models.EventText
		ev.Text = m.Text
	}
	return ev, true
}
