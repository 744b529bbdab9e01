// Package messaging adapts chat transports (Telegram, Twilio, WhatsApp) to the dialogue
// controller and dispatches inbound events to it.
package messaging

import (
	"context"
	"errors"
	"time"

	"github.com/BTreeMap/PitchPipe/internal/models"
)

// Constants for transport configuration
const (
	// DefaultChannelBufferSize defines the buffer size of the inbound event channel
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout defines how long an inbound event may wait for buffer space
	DefaultChannelTimeout = 1 * time.Second
)

var (
	// ErrServiceStopped is returned by sends after Stop.
	ErrServiceStopped = errors.New("messaging service stopped")
	// ErrInvalidRecipient is returned for chat IDs a transport cannot address.
	ErrInvalidRecipient = errors.New("invalid recipient")
)

// Service defines a pluggable chat transport.
type Service interface {
	// SendText sends text to a chat and returns a reference to the sent message.
	SendText(ctx context.Context, chatID, text string) (string, error)

	// SendChoices sends text as a single-choice prompt.
	SendChoices(ctx context.Context, chatID, text string, choices []models.Choice) (string, error)

	// EditText replaces the text of a sent message. Transports without editing send a new
	// message instead.
	EditText(ctx context.Context, chatID, ref, text string) error

	// AckChoice acknowledges a choice selection. A no-op where the transport has no
	// acknowledgement.
	AckChoice(ctx context.Context, callbackID string) error

	// MaxTextLength is the longest text, in characters, one message may carry. Zero means
	// no limit.
	MaxTextLength() int

	// Events returns the channel of inbound user events. It is closed by Stop.
	Events() <-chan models.InboundEvent

	// Start begins background processing (e.g., polling for updates).
	Start(ctx context.Context) error

	// Stop stops background processing and closes Events.
	Stop() error
}
