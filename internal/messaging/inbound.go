package messaging

import (
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/PitchPipe/internal/flow"
	"github.com/BTreeMap/PitchPipe/internal/models"
)

// ChoiceHintMessage follows a numbered choice list on text-only transports.
const ChoiceHintMessage = "Reply with a number or a name."

// ChoiceOptionFormat renders one line of a numbered choice list.
const ChoiceOptionFormat = "\n%d. %s"

// DefaultChoiceTTL is how long a choice prompt waits for a typed reply. It matches the
// dialogue session lifetime, after which the selection would be stale anyway.
const DefaultChoiceTTL = flow.DefaultSessionIdleTimeout

var phoneNumberRegex = regexp.MustCompile(`[^0-9]`)

// canonicalPhone strips everything but digits and requires at least 6 of them.
func canonicalPhone(recipient string) (string, error) {
	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", fmt.Errorf("%w: no digits found in %q", ErrInvalidRecipient, recipient)
	}
	if len(canonical) < 6 {
		return "", fmt.Errorf("%w: %q is too short (minimum 6 digits required)", ErrInvalidRecipient, canonical)
	}
	return canonical, nil
}

// FormatChoices renders a choice prompt as text with a numbered option list.
func FormatChoices(text string, choices []models.Choice) string {
	var b strings.Builder
	b.WriteString(text)
	b.WriteString("\n")
	for i, c := range choices {
		fmt.Fprintf(&b, ChoiceOptionFormat, i+1, c.Label)
	}
	b.WriteString("\n\n")
	b.WriteString(ChoiceHintMessage)
	return b.String()
}

// MatchChoice resolves a typed reply against choices by 1-based number or by label,
// ignoring case and surrounding whitespace.
func MatchChoice(reply string, choices []models.Choice) (models.Choice, bool) {
	reply = strings.TrimSpace(reply)
	if n, err := strconv.Atoi(reply); err == nil {
		if n >= 1 && n <= len(choices) {
			return choices[n-1], true
		}
		return models.Choice{}, false
	}
	for _, c := range choices {
		if strings.EqualFold(reply, c.Label) {
			return c, true
		}
	}
	return models.Choice{}, false
}

// ParseCommand reports whether text is a slash command and returns its lowercased name
// without the slash or any @botname suffix.
func ParseCommand(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") || len(text) < 2 {
		return "", false
	}
	name := strings.Fields(text[1:])[0]
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}
	return strings.ToLower(name), name != ""
}

// choiceTracker remembers the last choice prompt sent to each chat so typed replies can be
// turned into choice events. Prompts older than ttl are dropped.
type choiceTracker struct {
	mu      sync.Mutex
	pending map[string]pendingChoice
	ttl     time.Duration
	nextRef int64
}

type pendingChoice struct {
	ref     string
	choices []models.Choice
	sentAt  time.Time
}

func newChoiceTracker() *choiceTracker {
	return &choiceTracker{pending: make(map[string]pendingChoice), ttl: DefaultChoiceTTL}
}

// setTTL changes the prompt lifetime; non-positive values are ignored.
func (t *choiceTracker) setTTL(ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ttl = ttl
}

// remember records a prompt and sweeps expired ones, so chats that never answer do not
// accumulate.
func (t *choiceTracker) remember(chatID, ref string, choices []models.Choice) {
	now := time.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, p := range t.pending {
		if now.Sub(p.sentAt) > t.ttl {
			delete(t.pending, id)
		}
	}
	t.pending[chatID] = pendingChoice{ref: ref, choices: choices, sentAt: now}
}

// size returns the number of prompts awaiting a reply.
func (t *choiceTracker) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

func (t *choiceTracker) forget(chatID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pending, chatID)
}

// callbackID issues a synthetic callback identifier for transports without one.
func (t *choiceTracker) callbackID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextRef++
	return fmt.Sprintf("choice_%d", t.nextRef)
}

// textEvent classifies a plain-text message as a command, a choice reply or free text. A
// pending choice prompt is consumed by any non-command message; an expired one is
// discarded and the message is free text.
func (t *choiceTracker) textEvent(userID, chatID, handle, text string, at time.Time) models.InboundEvent {
	ev := models.InboundEvent{
		UserID:     userID,
		ChatID:     chatID,
		Handle:     handle,
		ReceivedAt: at,
	}
	if cmd, ok := ParseCommand(text); ok {
		t.forget(chatID)
		ev.Kind = models.EventCommand
		ev.Command = cmd
		return ev
	}

	t.mu.Lock()
	p, ok := t.pending[chatID]
	if ok {
		delete(t.pending, chatID)
		if at.Sub(p.sentAt) > t.ttl {
			slog.Debug("choiceTracker: prompt expired", "chat_id", chatID, "ref", p.ref)
			ok = false
		}
	}
	t.mu.Unlock()

	if ok {
		ev.Kind = models.EventChoice
		ev.MessageRef = p.ref
		if c, matched := MatchChoice(text, p.choices); matched {
			ev.ChoiceData = c.Data
		} else {
			ev.ChoiceData = strings.TrimSpace(text)
		}
		ev.CallbackID = t.callbackID()
		return ev
	}

	ev.Kind = models.EventText
	ev.Text = text
	return ev
}

// eventQueue is the inbound channel shared by every transport, with a stop flag that makes
// late emits harmless.
type eventQueue struct {
	name    string
	events  chan models.InboundEvent
	done    chan struct{}
	mu      sync.RWMutex
	stopped bool
}

func newEventQueue(name string) *eventQueue {
	return &eventQueue{
		name:   name,
		events: make(chan models.InboundEvent, DefaultChannelBufferSize),
		done:   make(chan struct{}),
	}
}

func (q *eventQueue) isStopped() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.stopped
}

// emit pushes ev, dropping it when the service is stopped or the buffer stays full.
func (q *eventQueue) emit(ev models.InboundEvent) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.stopped {
		slog.Warn(q.name+" dropping inbound event (service stopped)", "user_id", ev.UserID)
		return false
	}

	select {
	case q.events <- ev:
		slog.Debug(q.name+" emitted inbound event", "user_id", ev.UserID, "kind", ev.Kind)
		return true
	case <-time.After(DefaultChannelTimeout):
		slog.Warn(q.name+" events channel blocked, dropping event", "user_id", ev.UserID, "timeout", DefaultChannelTimeout)
		return false
	}
}

// stop closes the event channel once. emit holds the read lock while sending, so the close
// cannot race a send.
func (q *eventQueue) stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return
	}
	q.stopped = true
	close(q.done)
	close(q.events)
}
