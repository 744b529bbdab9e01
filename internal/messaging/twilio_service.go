package messaging

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/BTreeMap/PitchPipe/internal/models"
	"github.com/BTreeMap/PitchPipe/internal/twiliowhatsapp"
)

// emptyTwiML acknowledges a webhook without an immediate reply; answers are sent through
// the REST API.
const emptyTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

// SignatureValidator checks X-Twilio-Signature headers.
type SignatureValidator interface {
	ValidateSignature(url string, params map[string]string, signature string) bool
}

// TwilioOption configures a TwilioService.
type TwilioOption func(*TwilioService)

// WithSignatureValidation rejects webhooks whose signature does not match publicURL, the
// externally visible URL of the webhook endpoint.
func WithSignatureValidation(v SignatureValidator, publicURL string) TwilioOption {
	return func(s *TwilioService) {
		s.validator = v
		s.publicURL = publicURL
	}
}

// WithChoiceTTL sets how long a numbered choice list accepts a typed reply.
func WithChoiceTTL(ttl time.Duration) TwilioOption {
	return func(s *TwilioService) {
		s.choices.setTTL(ttl)
	}
}

// TwilioService implements Service over Twilio SMS/WhatsApp. Inbound messages arrive through
// WebhookHandler; choices are rendered as numbered lists.
type TwilioService struct {
	client    twiliowhatsapp.Sender
	queue     *eventQueue
	choices   *choiceTracker
	validator SignatureValidator
	publicURL string
}

// NewTwilioService creates a TwilioService around client.
func NewTwilioService(client twiliowhatsapp.Sender, opts ...TwilioOption) *TwilioService {
	s := &TwilioService{
		client:  client,
		queue:   newEventQueue("TwilioService"),
		choices: newChoiceTracker(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start is a no-op: Twilio pushes inbound messages to the webhook.
func (s *TwilioService) Start(ctx context.Context) error {
	slog.Debug("TwilioService Start invoked")
	return nil
}

// Stop closes the event channel.
func (s *TwilioService) Stop() error {
	s.queue.stop()
	slog.Info("TwilioService stopped")
	return nil
}

// Events returns inbound user events.
func (s *TwilioService) Events() <-chan models.InboundEvent {
	return s.queue.events
}

// SendText sends a message to chatID, a Twilio address such as "whatsapp:+15551234567".
func (s *TwilioService) SendText(ctx context.Context, chatID, text string) (string, error) {
	if s.queue.isStopped() {
		return "", ErrServiceStopped
	}
	if _, err := canonicalPhone(chatID); err != nil {
		slog.Error("TwilioService SendText validation error", "error", err, "to", chatID)
		return "", err
	}

	sid, err := s.client.SendMessage(ctx, chatID, text)
	if err != nil {
		slog.Error("TwilioService SendText failed", "error", err, "to", chatID)
		return "", err
	}
	slog.Debug("TwilioService SendText succeeded", "to", chatID, "sid", sid)
	return sid, nil
}

// SendChoices sends a numbered option list and remembers it for the chat's next reply.
func (s *TwilioService) SendChoices(ctx context.Context, chatID, text string, choices []models.Choice) (string, error) {
	sid, err := s.SendText(ctx, chatID, FormatChoices(text, choices))
	if err != nil {
		return "", err
	}
	s.choices.remember(chatID, sid, choices)
	return sid, nil
}

// EditText sends text as a new message; sent SMS/WhatsApp messages cannot be edited.
func (s *TwilioService) EditText(ctx context.Context, chatID, ref, text string) error {
	_, err := s.SendText(ctx, chatID, text)
	return err
}

// AckChoice is a no-op for Twilio.
func (s *TwilioService) AckChoice(ctx context.Context, callbackID string) error {
	return nil
}

// MaxTextLength returns the Twilio message body limit.
func (s *TwilioService) MaxTextLength() int {
	return TwilioMaxTextLength
}

// WebhookHandler handles inbound Twilio webhook requests and emits them as events.
func (s *TwilioService) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		slog.Error("TwilioService failed to parse webhook form", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	if s.validator != nil {
		params := make(map[string]string, len(r.PostForm))
		for k := range r.PostForm {
			params[k] = r.PostForm.Get(k)
		}
		if !s.validator.ValidateSignature(s.publicURL, params, r.Header.Get("X-Twilio-Signature")) {
			slog.Warn("TwilioService rejected webhook with invalid signature", "remote", r.RemoteAddr)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
	}

	from := r.PostFormValue("From")
	body := r.PostFormValue("Body")
	if from == "" || strings.TrimSpace(body) == "" {
		slog.Warn("TwilioService webhook missing fields", "from", from, "body_length", len(body))
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}

	userID, err := canonicalPhone(from)
	if err != nil {
		slog.Warn("TwilioService webhook sender invalid", "from", from, "error", err)
		http.Error(w, "Invalid sender", http.StatusBadRequest)
		return
	}

	ev := s.choices.textEvent(userID, from, r.PostFormValue("ProfileName"), body, time.Now())
	slog.Info("TwilioService inbound message", "user_id", userID, "kind", ev.Kind)
	if !s.queue.emit(ev) {
		http.Error(w, "Service unavailable", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(emptyTwiML))
}
