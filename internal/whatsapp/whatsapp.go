// Package whatsapp wraps the Whatsmeow client for WhatsApp integration in PitchPipe.
//
// It handles device login, sending text, and translating inbound message events.
package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/PitchPipe/internal/store"
	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	waStore "go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"
)

// Constants for WhatsApp client configuration
const (
	// DefaultSQLitePath is the default path for the whatsmeow device database
	DefaultSQLitePath = "/var/lib/pitchpipe/whatsmeow.db"
	// JIDSuffix is the WhatsApp JID server for regular users
	JIDSuffix = types.DefaultUserServer
)

var (
	ErrNotConnected  = errors.New("whatsapp client not initialized")
	ErrEmptyMessage  = errors.New("message body cannot be empty")
	ErrEmptyReceiver = errors.New("recipient cannot be empty")
	ErrNotPaired     = errors.New("no whatsapp device paired")
)

// IncomingMessage is an inbound text message with the sender reduced to a phone number.
type IncomingMessage struct {
	From      string // sender phone number, digits only
	Chat      string // chat user part; equals From for direct chats
	PushName  string
	Text      string
	Timestamp time.Time
}

// Sender sends one text message and returns its message ID.
type Sender interface {
	SendMessage(ctx context.Context, to string, body string) (string, error)
}

// Opts holds configuration options for the WhatsApp client.
type Opts struct {
	DBDSN       string // whatsmeow database connection string
	QRPath      string // path to write login QR code
	NumericCode bool   // print the raw pairing code instead of a QR code
}

// Option defines a configuration option for the WhatsApp client.
type Option func(*Opts)

// WithDBDSN sets the whatsmeow database connection string.
func WithDBDSN(dsn string) Option {
	return func(o *Opts) {
		o.DBDSN = dsn
	}
}

// WithQRCodeOutput writes the login QR code to path instead of stdout.
func WithQRCodeOutput(path string) Option {
	return func(o *Opts) {
		o.QRPath = path
	}
}

// WithNumericCode prints the raw login code instead of a QR code.
func WithNumericCode() Option {
	return func(o *Opts) {
		o.NumericCode = true
	}
}

// resolveDriver picks the database/sql driver for dsn and warns about SQLite without
// foreign keys, which whatsmeow requires.
func resolveDriver(dsn string) string {
	if store.DetectDSNType(dsn) == "postgres" {
		return "postgres"
	}
	if !strings.Contains(dsn, "foreign_keys") {
		slog.Warn("SQLite database for WhatsApp does not appear to have foreign keys enabled",
			"dsn_example", "file:"+dsn+"?_foreign_keys=on")
	}
	return "sqlite3"
}

// Client wraps the Whatsmeow client
type Client struct {
	waClient *whatsmeow.Client
}

// openDevice opens the whatsmeow device store and returns its first device, which has a
// nil ID until a phone is linked.
func openDevice(ctx context.Context, cfg Opts) (*sqlstore.Container, *waStore.Device, error) {
	dbDSN := cfg.DBDSN
	if dbDSN == "" {
		dbDSN = DefaultSQLitePath
		slog.Debug("No WhatsApp database DSN provided, using default SQLite path", "default_path", dbDSN)
	}
	dbDriver := resolveDriver(dbDSN)

	container, err := sqlstore.New(ctx, dbDriver, dbDSN, waLog.Stdout("Database", "INFO", true))
	if err != nil {
		slog.Error("WhatsApp openDevice: failed to initialize DB store", "error", err)
		return nil, nil, fmt.Errorf("failed to initialize WhatsApp database store: %w", err)
	}
	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		slog.Error("WhatsApp openDevice: failed to get device", "error", err)
		container.Close()
		return nil, nil, fmt.Errorf("failed to get device from WhatsApp store: %w", err)
	}
	return container, deviceStore, nil
}

// PairedDevice reports the JID of the linked device without connecting to WhatsApp.
func PairedDevice(ctx context.Context, opts ...Option) (string, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	container, deviceStore, err := openDevice(ctx, cfg)
	if err != nil {
		return "", err
	}
	defer container.Close()
	if deviceStore.ID == nil {
		return "", ErrNotPaired
	}
	return deviceStore.ID.String(), nil
}

// NewClient opens the device store, logs in when no device is paired, and connects.
func NewClient(ctx context.Context, opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	_, deviceStore, err := openDevice(ctx, cfg)
	if err != nil {
		return nil, err
	}

	waClient := whatsmeow.NewClient(deviceStore, waLog.Stdout("Client", "INFO", true))
	if waClient.Store.ID == nil {
		if err := login(ctx, waClient, cfg); err != nil {
			return nil, err
		}
	} else if err := waClient.Connect(); err != nil {
		slog.Error("WhatsApp NewClient: failed to connect", "error", err)
		return nil, fmt.Errorf("failed to connect to WhatsApp server: %w", err)
	}
	slog.Info("WhatsApp client connected successfully")
	return &Client{waClient: waClient}, nil
}

func login(ctx context.Context, waClient *whatsmeow.Client, cfg Opts) error {
	slog.Info("WhatsApp login required; starting QR code flow")
	qrChan, _ := waClient.GetQRChannel(ctx)
	if err := waClient.Connect(); err != nil {
		return fmt.Errorf("failed to connect to WhatsApp during login: %w", err)
	}

	writer := io.Writer(os.Stdout)
	if cfg.QRPath != "" {
		f, err := os.Create(cfg.QRPath)
		if err != nil {
			return fmt.Errorf("failed to create QR file: %w", err)
		}
		defer f.Close()
		writer = f
	}
	for evt := range qrChan {
		if evt.Event != "code" {
			slog.Info("WhatsApp login event", "event", evt.Event)
			continue
		}
		if cfg.NumericCode {
			fmt.Fprintln(writer, evt.Code)
		} else {
			qrterminal.GenerateHalfBlock(evt.Code, qrterminal.L, writer)
		}
	}
	return nil
}

// SendMessage sends a text message to a phone number and returns the message ID.
func (c *Client) SendMessage(ctx context.Context, to string, body string) (string, error) {
	if c.waClient == nil || c.waClient.Store == nil {
		return "", ErrNotConnected
	}
	if to == "" {
		return "", ErrEmptyReceiver
	}
	if body == "" {
		return "", ErrEmptyMessage
	}

	jid := types.NewJID(to, JIDSuffix)
	resp, err := c.waClient.SendMessage(ctx, jid, &waE2E.Message{Conversation: proto.String(body)})
	if err != nil {
		slog.Error("WhatsApp SendMessage failed", "error", err, "to", to)
		return "", fmt.Errorf("failed to send message to %s: %w", to, err)
	}
	slog.Debug("WhatsApp SendMessage succeeded", "to", to, "id", resp.ID)
	return string(resp.ID), nil
}

// Subscribe registers fn for inbound text messages from other users.
func (c *Client) Subscribe(fn func(IncomingMessage)) {
	c.waClient.AddEventHandler(func(evt interface{}) {
		if m, ok := evt.(*events.Message); ok {
			if in, ok := incomingFromEvent(m); ok {
				fn(in)
			}
		}
	})
}

// Disconnect closes the websocket connection.
func (c *Client) Disconnect() {
	if c.waClient != nil {
		c.waClient.Disconnect()
	}
}

// incomingFromEvent keeps text messages from other users and drops everything else.
func incomingFromEvent(evt *events.Message) (IncomingMessage, bool) {
	if evt == nil || evt.Message == nil || evt.Info.IsFromMe {
		return IncomingMessage{}, false
	}
	text := evt.Message.GetConversation()
	if text == "" {
		text = evt.Message.GetExtendedTextMessage().GetText()
	}
	if text == "" {
		slog.Debug("WhatsApp ignoring non-text message", "from", evt.Info.Sender.String())
		return IncomingMessage{}, false
	}
	return IncomingMessage{
		From:      evt.Info.Sender.User,
		Chat:      evt.Info.Chat.User,
		PushName:  evt.Info.PushName,
		Text:      text,
		Timestamp: evt.Info.Timestamp,
	}, true
}

// MockClient records sends and lets tests deliver inbound messages.
type MockClient struct {
	mu       sync.Mutex
	Sent     []MockMessage
	handlers []func(IncomingMessage)
	Err      error
}

// MockMessage is one message recorded by MockClient.
type MockMessage struct {
	To   string
	Body string
}

// NewMockClient creates a MockClient.
func NewMockClient() *MockClient {
	return &MockClient{}
}

// SendMessage records the message.
func (m *MockClient) SendMessage(ctx context.Context, to string, body string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return "", m.Err
	}
	m.Sent = append(m.Sent, MockMessage{To: to, Body: body})
	return fmt.Sprintf("wamid.%d", len(m.Sent)), nil
}

// Subscribe registers fn for Deliver.
func (m *MockClient) Subscribe(fn func(IncomingMessage)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, fn)
}

// Disconnect is a no-op.
func (m *MockClient) Disconnect() {}

// Deliver simulates an inbound message.
func (m *MockClient) Deliver(msg IncomingMessage) {
	m.mu.Lock()
	handlers := append([]func(IncomingMessage){}, m.handlers...)
	m.mu.Unlock()
	for _, h := range handlers {
		h(msg)
	}
}

// Messages returns a copy of the recorded sends.
func (m *MockClient) Messages() []MockMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockMessage, len(m.Sent))
	copy(out, m.Sent)
	return out
}
