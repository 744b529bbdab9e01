package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/BTreeMap/PitchPipe/internal/flow"
	"github.com/BTreeMap/PitchPipe/internal/metrics"
	"github.com/BTreeMap/PitchPipe/internal/models"
)

// Dispatcher defaults.
const (
	DefaultMaxConcurrentUsers = 32
	DefaultEventTimeout       = 2 * time.Minute
)

// Handler answers one inbound event. *flow.Controller implements it.
type Handler interface {
	Handle(ctx context.Context, ev models.InboundEvent) (flow.Reply, error)
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithMaxConcurrentUsers bounds how many users are served at once.
func WithMaxConcurrentUsers(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.limit = int64(n)
		}
	}
}

// WithEventTimeout bounds the handling of one event, reply delivery included.
func WithEventTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.eventTimeout = timeout
		}
	}
}

// WithDispatcherMetrics records per-event outcomes on m.
func WithDispatcherMetrics(m *metrics.Collector) DispatcherOption {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// Dispatcher reads events from a Service and hands them to a Handler. Events of one user
// are handled one at a time in arrival order; different users run concurrently.
type Dispatcher struct {
	svc          Service
	handler      Handler
	metrics      *metrics.Collector
	limit        int64
	eventTimeout time.Duration

	sem    *semaphore.Weighted
	mu     sync.Mutex
	queues map[string]*userQueue
	wg     sync.WaitGroup
}

type userQueue struct {
	events []models.InboundEvent
}

// NewDispatcher creates a dispatcher from svc to h.
func NewDispatcher(svc Service, h Handler, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		svc:          svc,
		handler:      h,
		limit:        DefaultMaxConcurrentUsers,
		eventTimeout: DefaultEventTimeout,
		queues:       make(map[string]*userQueue),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.sem = semaphore.NewWeighted(d.limit)
	return d
}

// Run dispatches events until the service's event channel closes or ctx is cancelled, then
// waits for in-flight events to finish.
func (d *Dispatcher) Run(ctx context.Context) error {
	slog.Info("Dispatcher started", "max_concurrent_users", d.limit)
	defer d.wg.Wait()

	events := d.svc.Events()
	for {
		select {
		case <-ctx.Done():
			slog.Info("Dispatcher stopping", "reason", ctx.Err())
			return nil
		case ev, ok := <-events:
			if !ok {
				slog.Info("Dispatcher stopping", "reason", "event channel closed")
				return nil
			}
			d.enqueue(ctx, ev)
		}
	}
}

// enqueue appends ev to its user's queue, starting a worker when the user has none.
func (d *Dispatcher) enqueue(ctx context.Context, ev models.InboundEvent) {
	d.mu.Lock()
	if q, ok := d.queues[ev.UserID]; ok {
		q.events = append(q.events, ev)
		d.mu.Unlock()
		return
	}
	q := &userQueue{events: []models.InboundEvent{ev}}
	d.queues[ev.UserID] = q
	d.mu.Unlock()

	if err := d.sem.Acquire(ctx, 1); err != nil {
		d.mu.Lock()
		delete(d.queues, ev.UserID)
		d.mu.Unlock()
		slog.Warn("Dispatcher dropped events on shutdown", "user_id", ev.UserID, "error", err)
		return
	}
	d.wg.Add(1)
	go d.drain(ctx, ev.UserID, q)
}

func (d *Dispatcher) drain(ctx context.Context, userID string, q *userQueue) {
	defer d.wg.Done()
	defer d.sem.Release(1)

	for {
		d.mu.Lock()
		if len(q.events) == 0 {
			delete(d.queues, userID)
			d.mu.Unlock()
			return
		}
		ev := q.events[0]
		q.events = q.events[1:]
		d.mu.Unlock()

		d.Process(ctx, ev)
	}
}

// Process handles one event and delivers the reply. Handler errors and panics become the
// generic error reply; the dispatcher keeps running.
func (d *Dispatcher) Process(ctx context.Context, ev models.InboundEvent) {
	// Work already started finishes even when shutdown cancels ctx.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.eventTimeout)
	defer cancel()

	start := time.Now()
	outcome := metrics.OutcomeSuccess
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Dispatcher recovered panic", "user_id", ev.UserID, "kind", ev.Kind, "panic", fmt.Sprint(r))
			outcome = metrics.OutcomeError
			d.deliver(ctx, ev, flow.Reply{Text: flow.GenericErrorMessage, AckCallbackID: ev.CallbackID})
		}
		d.metrics.ObserveEvent(string(ev.Kind), outcome)
	}()

	reply, err := d.handler.Handle(ctx, ev)
	if err != nil {
		slog.Error("Dispatcher handler failed", "user_id", ev.UserID, "kind", ev.Kind, "error", err)
		outcome = metrics.OutcomeError
		reply = flow.Reply{Text: flow.GenericErrorMessage, AckCallbackID: ev.CallbackID}
	}
	if err := d.deliver(ctx, ev, reply); err != nil {
		outcome = metrics.OutcomeError
	}
	slog.Debug("Dispatcher Process succeeded", "user_id", ev.UserID, "kind", ev.Kind, "elapsed", time.Since(start))
}

// deliver sends reply: acknowledgement first, then an edit, a choice prompt or plain text.
// Text longer than the transport allows goes out as several messages; the edit covers the
// first and the choices ride on the last. A failed edit falls back to a new message, and
// a failed send is followed by the generic error reply so the user is not left waiting.
func (d *Dispatcher) deliver(ctx context.Context, ev models.InboundEvent, reply flow.Reply) error {
	if reply.AckCallbackID != "" {
		if err := d.svc.AckChoice(ctx, reply.AckCallbackID); err != nil {
			slog.Warn("Dispatcher ack failed", "user_id", ev.UserID, "error", err)
		}
	}
	if reply.Text == "" {
		return nil
	}

	chunks := SplitText(reply.Text, d.svc.MaxTextLength())
	last := len(chunks) - 1
	var err error
	for i, chunk := range chunks {
		switch {
		case i == last && len(reply.Choices) > 0:
			_, err = d.svc.SendChoices(ctx, ev.ChatID, chunk, reply.Choices)
		case i == 0 && reply.EditRef != "":
			if err = d.svc.EditText(ctx, ev.ChatID, reply.EditRef, chunk); err != nil {
				slog.Warn("Dispatcher edit failed, sending new message", "user_id", ev.UserID, "error", err)
				_, err = d.svc.SendText(ctx, ev.ChatID, chunk)
			}
		default:
			_, err = d.svc.SendText(ctx, ev.ChatID, chunk)
		}
		if err != nil {
			slog.Error("Dispatcher reply not delivered", "user_id", ev.UserID, "chat_id", ev.ChatID, "part", i+1, "parts", len(chunks), "error", err)
			break
		}
	}
	if err != nil && reply.Text != flow.GenericErrorMessage {
		if _, notifyErr := d.svc.SendText(ctx, ev.ChatID, flow.GenericErrorMessage); notifyErr != nil {
			slog.Error("Dispatcher error reply not delivered", "user_id", ev.UserID, "chat_id", ev.ChatID, "error", notifyErr)
		}
	}
	if len(chunks) > 1 {
		slog.Debug("Dispatcher split reply", "user_id", ev.UserID, "parts", len(chunks), "limit", d.svc.MaxTextLength())
	}
	return err
}
