package messaging

import (
	"context"
	"log/slog"
	"time"

	"github.com/BTreeMap/PitchPipe/internal/models"
	"github.com/BTreeMap/PitchPipe/internal/whatsapp"
)

// WhatsAppClient is the whatsmeow-backed client surface the service needs.
type WhatsAppClient interface {
	whatsapp.Sender
	Subscribe(fn func(whatsapp.IncomingMessage))
	Disconnect()
}

// WhatsAppService implements Service over a WhatsApp linked device. Choices are rendered as
// numbered lists.
type WhatsAppService struct {
	client  WhatsAppClient
	queue   *eventQueue
	choices *choiceTracker
}

// WhatsAppOption configures a WhatsAppService.
type WhatsAppOption func(*WhatsAppService)

// WithWhatsAppChoiceTTL sets how long a numbered choice list accepts a typed reply.
func WithWhatsAppChoiceTTL(ttl time.Duration) WhatsAppOption {
	return func(s *WhatsAppService) {
		s.choices.setTTL(ttl)
	}
}

// NewWhatsAppService creates a new WhatsAppService wrapping client.
func NewWhatsAppService(client WhatsAppClient, opts ...WhatsAppOption) *WhatsAppService {
	s := &WhatsAppService{
		client:  client,
		queue:   newEventQueue("WhatsAppService"),
		choices: newChoiceTracker(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start registers the inbound message handler.
func (s *WhatsAppService) Start(ctx context.Context) error {
	s.client.Subscribe(s.handleIncoming)
	slog.Debug("WhatsAppService event handler registered")
	return nil
}

// Stop disconnects the client and closes the event channel.
func (s *WhatsAppService) Stop() error {
	s.queue.stop()
	s.client.Disconnect()
	slog.Info("WhatsAppService stopped and channels closed")
	return nil
}

// Events returns inbound user events.
func (s *WhatsAppService) Events() <-chan models.InboundEvent {
	return s.queue.events
}

// SendText sends text to chatID, a phone number.
func (s *WhatsAppService) SendText(ctx context.Context, chatID, text string) (string, error) {
	if s.queue.isStopped() {
		return "", ErrServiceStopped
	}
	to, err := canonicalPhone(chatID)
	if err != nil {
		slog.Error("WhatsAppService SendText validation error", "error", err, "to", chatID)
		return "", err
	}
	id, err := s.client.SendMessage(ctx, to, text)
	if err != nil {
		slog.Error("WhatsAppService SendText failed", "error", err, "to", to)
		return "", err
	}
	slog.Debug("WhatsAppService SendText succeeded", "to", to, "id", id)
	return id, nil
}

// SendChoices sends a numbered option list and remembers it for the chat's next reply.
func (s *WhatsAppService) SendChoices(ctx context.Context, chatID, text string, choices []models.Choice) (string, error) {
	id, err := s.SendText(ctx, chatID, FormatChoices(text, choices))
	if err != nil {
		return "", err
	}
	s.choices.remember(chatID, id, choices)
	return id, nil
}

// EditText sends text as a new message.
func (s *WhatsAppService) EditText(ctx context.Context, chatID, ref, text string) error {
	_, err := s.SendText(ctx, chatID, text)
	return err
}

// AckChoice is a no-op for WhatsApp.
func (s *WhatsAppService) AckChoice(ctx context.Context, callbackID string) error {
	return nil
}

// MaxTextLength returns the WhatsApp text message limit.
func (s *WhatsAppService) MaxTextLength() int {
	return WhatsAppMaxTextLength
}

func (s *WhatsAppService) handleIncoming(in whatsapp.IncomingMessage) {
	userID, err := canonicalPhone(in.From)
	if err != nil {
		slog.Warn("WhatsAppService ignoring message from invalid sender", "from", in.From, "error", err)
		return
	}
	chatID := in.Chat
	if chatID == "" {
		chatID = userID
	}
	at := in.Timestamp
	if at.IsZero() {
		at = time.Now()
	}
	s.queue.emit(s.choices.textEvent(userID, chatID, in.PushName, in.Text, at))
}
