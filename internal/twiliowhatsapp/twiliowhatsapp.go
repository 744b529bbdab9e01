// Package twiliowhatsapp wraps the Twilio messaging API (SMS and WhatsApp) for PitchPipe.
package twiliowhatsapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/twilio/twilio-go"
	twilioClient "github.com/twilio/twilio-go/client"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// WhatsAppPrefix marks a Twilio address on the WhatsApp channel.
const WhatsAppPrefix = "whatsapp:"

// ErrMissingCredentials is returned when the account SID, auth token or sender is absent.
var ErrMissingCredentials = errors.New("twilio credentials missing")

// Sender sends one text message and returns the provider's message SID.
type Sender interface {
	SendMessage(ctx context.Context, to string, body string) (string, error)
}

// Opts holds configuration options for the Twilio client.
type Opts struct {
	AccountSID string
	AuthToken  string
	From       string // "+15551234567" for SMS or "whatsapp:+15551234567"
}

// Option defines a configuration option for the Twilio client.
type Option func(*Opts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token. It also signs inbound webhooks.
func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// WithFrom sets the sender address.
func WithFrom(from string) Option {
	return func(o *Opts) { o.From = from }
}

// restAPI is the slice of the Twilio REST API the client uses.
type restAPI interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
	FetchAccount(sid string) (*twilioApi.ApiV2010Account, error)
}

// Client wraps the Twilio REST API.
type Client struct {
	api        restAPI
	accountSID string
	from       string
	validator  twilioClient.RequestValidator
}

// NewClient creates a Twilio client. Unset options fall back to TWILIO_ACCOUNT_SID,
// TWILIO_AUTH_TOKEN and TWILIO_FROM_NUMBER.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.From == "" {
		cfg.From = os.Getenv("TWILIO_FROM_NUMBER")
	}
	slog.Debug("Twilio client config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"From_set", cfg.From != "")

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("%w: account SID and auth token must be provided", ErrMissingCredentials)
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("%w: sender number must be provided", ErrMissingCredentials)
	}

	rest := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return newClient(rest.Api, cfg), nil
}

func newClient(api restAPI, cfg Opts) *Client {
	return &Client{
		api:        api,
		accountSID: cfg.AccountSID,
		from:       cfg.From,
		validator:  twilioClient.NewRequestValidator(cfg.AuthToken),
	}
}

// Account fetches the configured account, which proves the credentials work, and returns
// its friendly name.
func (c *Client) Account(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	acct, err := c.api.FetchAccount(c.accountSID)
	if err != nil {
		slog.Error("Twilio Account fetch failed", "error", err)
		return "", fmt.Errorf("failed to fetch twilio account: %w", err)
	}
	name := c.accountSID
	if acct != nil && acct.FriendlyName != nil {
		name = *acct.FriendlyName
	}
	if acct != nil && acct.Status != nil && *acct.Status != "active" {
		return "", fmt.Errorf("twilio account %s is %s", name, *acct.Status)
	}
	slog.Debug("Twilio Account succeeded", "name", name)
	return name, nil
}

// Address formats a recipient for the sender's channel: WhatsApp senders need the
// "whatsapp:" prefix on the recipient too.
func (c *Client) Address(to string) string {
	if strings.HasPrefix(c.from, WhatsAppPrefix) && !strings.HasPrefix(to, WhatsAppPrefix) {
		return WhatsAppPrefix + to
	}
	return to
}

// SendMessage sends a message and returns its SID.
func (c *Client) SendMessage(ctx context.Context, to string, body string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(c.Address(to))
	params.SetFrom(c.from)
	params.SetBody(body)

	resp, err := c.api.CreateMessage(params)
	if err != nil {
		slog.Error("Twilio SendMessage failed", "to", to, "error", err)
		return "", fmt.Errorf("failed to send message to %s: %w", to, err)
	}

	sid := ""
	if resp != nil && resp.Sid != nil {
		sid = *resp.Sid
	}
	slog.Debug("Twilio SendMessage succeeded", "to", to, "sid", sid)
	return sid, nil
}

// ValidateSignature checks an X-Twilio-Signature header against the full request URL and
// the posted form parameters.
func (c *Client) ValidateSignature(url string, params map[string]string, signature string) bool {
	return c.validator.Validate(url, params, signature)
}

// MockClient records messages instead of sending them.
type MockClient struct {
	mu           sync.Mutex
	SentMessages []SentMessage
	Err          error
}

// SentMessage is one message recorded by MockClient.
type SentMessage struct {
	To   string
	Body string
	SID  string
}

// NewMockClient creates a MockClient.
func NewMockClient() *MockClient {
	return &MockClient{SentMessages: []SentMessage{}}
}

// SendMessage records the message and returns a sequential SID.
func (m *MockClient) SendMessage(ctx context.Context, to string, body string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return "", m.Err
	}
	sid := fmt.Sprintf("SM%04d", len(m.SentMessages)+1)
	m.SentMessages = append(m.SentMessages, SentMessage{To: to, Body: body, SID: sid})
	return sid, nil
}

// Sent returns a copy of the recorded messages.
func (m *MockClient) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentMessage, len(m.SentMessages))
	copy(out, m.SentMessages)
	return out
}
