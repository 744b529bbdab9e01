package twiliowhatsapp

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"sort"
	"testing"

	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

type fakeCreator struct {
	params     []*twilioApi.CreateMessageParams
	err        error
	fetchedSID string
	status     string
}

func (f *fakeCreator) FetchAccount(sid string) (*twilioApi.ApiV2010Account, error) {
	f.fetchedSID = sid
	if f.err != nil {
		return nil, f.err
	}
	name, status := "PitchPipe prod", f.status
	if status == "" {
		status = "active"
	}
	return &twilioApi.ApiV2010Account{FriendlyName: &name, Status: &status}, nil
}

func (f *fakeCreator) CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error) {
	f.params = append(f.params, params)
	if f.err != nil {
		return nil, f.err
	}
	sid := "SM123"
	return &twilioApi.ApiV2010Message{Sid: &sid}, nil
}

func TestClientSendMessageWhatsApp(t *testing.T) {
	api := &fakeCreator{}
	c := newClient(api, Opts{AuthToken: "tok", From: "whatsapp:+15550001111"})

	sid, err := c.SendMessage(context.Background(), "+15552223333", "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sid != "SM123" {
		t.Errorf("expected sid SM123, got %q", sid)
	}
	p := api.params[0]
	if *p.To != "whatsapp:+15552223333" || *p.From != "whatsapp:+15550001111" || *p.Body != "hello" {
		t.Errorf("unexpected params to=%q from=%q body=%q", *p.To, *p.From, *p.Body)
	}

	if _, err := c.SendMessage(context.Background(), "whatsapp:+15552223333", "again"); err != nil {
		t.Fatal(err)
	}
	if *api.params[1].To != "whatsapp:+15552223333" {
		t.Errorf("prefix applied twice: %q", *api.params[1].To)
	}
}

func TestClientSendMessageSMS(t *testing.T) {
	api := &fakeCreator{}
	c := newClient(api, Opts{AuthToken: "tok", From: "+15550001111"})
	if _, err := c.SendMessage(context.Background(), "+15552223333", "hi"); err != nil {
		t.Fatal(err)
	}
	if *api.params[0].To != "+15552223333" {
		t.Errorf("SMS recipient should be unprefixed, got %q", *api.params[0].To)
	}
}

func TestClientSendMessageErrors(t *testing.T) {
	api := &fakeCreator{err: errors.New("21211 invalid To")}
	c := newClient(api, Opts{AuthToken: "tok", From: "+15550001111"})
	if _, err := c.SendMessage(context.Background(), "+1", "hi"); err == nil {
		t.Error("expected API error")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.SendMessage(ctx, "+15552223333", "hi"); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if len(api.params) != 1 {
		t.Error("cancelled send must not reach the API")
	}
}

func TestNewClientRequiresCredentials(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "")
	t.Setenv("TWILIO_AUTH_TOKEN", "")
	t.Setenv("TWILIO_FROM_NUMBER", "")

	if _, err := NewClient(WithAccountSID("AC1")); !errors.Is(err, ErrMissingCredentials) {
		t.Errorf("expected ErrMissingCredentials, got %v", err)
	}
	if _, err := NewClient(WithAccountSID("AC1"), WithAuthToken("tok")); !errors.Is(err, ErrMissingCredentials) {
		t.Errorf("expected ErrMissingCredentials without sender, got %v", err)
	}
	if _, err := NewClient(WithAccountSID("AC1"), WithAuthToken("tok"), WithFrom("+15550001111")); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func sign(token, url string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	payload := url
	for _, k := range keys {
		payload += k + params[k]
	}
	mac := hmac.New(sha1.New, []byte(token))
	mac.Write([]byte(payload))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestClientValidateSignature(t *testing.T) {
	c := newClient(&fakeCreator{}, Opts{AuthToken: "secret", From: "+15550001111"})
	url := "https://pitchpipe.example.com/webhooks/twilio"
	params := map[string]string{"From": "+15552223333", "Body": "CryptoWallet"}

	if !c.ValidateSignature(url, params, sign("secret", url, params)) {
		t.Error("expected valid signature")
	}
	if c.ValidateSignature(url, params, sign("other", url, params)) {
		t.Error("expected signature with the wrong token to fail")
	}
}

func TestMockClient(t *testing.T) {
	mock := NewMockClient()
	sid, err := mock.SendMessage(context.Background(), "12345", "Hello Test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sid != "SM0001" {
		t.Errorf("unexpected sid %q", sid)
	}
	if sent := mock.Sent(); len(sent) != 1 || sent[0].Body != "Hello Test" {
		t.Errorf("unexpected recorded messages %+v", sent)
	}
}

func TestClientAccount(t *testing.T) {
	api := &fakeCreator{}
	c := newClient(api, Opts{AccountSID: "AC123", AuthToken: "tok", From: "+15550001111"})

	name, err := c.Account(context.Background())
	if err != nil || name != "PitchPipe prod" {
		t.Fatalf("unexpected account %q, %v", name, err)
	}
	if api.fetchedSID != "AC123" {
		t.Errorf("expected account AC123 to be fetched, got %q", api.fetchedSID)
	}

	api.status = "suspended"
	if _, err := c.Account(context.Background()); err == nil {
		t.Error("expected an error for a suspended account")
	}

	api.err = errors.New("authenticate: 20003")
	if _, err := c.Account(context.Background()); err == nil {
		t.Error("expected an error for rejected credentials")
	}
}
