package messaging

import (
	"context"
	"testing"
	"time"

	"github.com/BTreeMap/PitchPipe/internal/models"
	"github.com/BTreeMap/PitchPipe/internal/whatsapp"
)

func TestWhatsAppServiceImplementsService(t *testing.T) {
	var _ Service = (*WhatsAppService)(nil)
}

func TestWhatsAppServiceInboundAndChoices(t *testing.T) {
	mock := whatsapp.NewMockClient()
	svc := NewWhatsAppService(mock)
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	mock.Deliver(whatsapp.IncomingMessage{From: "15552223333", PushName: "Founder", Text: "/start", Timestamp: time.Now()})
	ev := <-svc.Events()
	if ev.Kind != models.EventCommand || ev.Command != "start" || ev.ChatID != "15552223333" {
		t.Errorf("unexpected event %+v", ev)
	}

	ref, err := svc.SendChoices(context.Background(), ev.ChatID, "CryptoWallet, huh?", models.StageChoices())
	if err != nil {
		t.Fatalf("SendChoices failed: %v", err)
	}
	if ref != "wamid.1" {
		t.Errorf("unexpected ref %q", ref)
	}

	mock.Deliver(whatsapp.IncomingMessage{From: "15552223333", Text: "launched"})
	ev = <-svc.Events()
	if ev.Kind != models.EventChoice || ev.ChoiceData != "Launched" || ev.MessageRef != ref {
		t.Errorf("unexpected choice event %+v", ev)
	}
}

func TestWhatsAppServiceIgnoresInvalidSender(t *testing.T) {
	mock := whatsapp.NewMockClient()
	svc := NewWhatsAppService(mock)
	svc.Start(context.Background())

	mock.Deliver(whatsapp.IncomingMessage{From: "abc", Text: "hi"})
	select {
	case ev := <-svc.Events():
		t.Errorf("expected no event, got %+v", ev)
	default:
	}
}

func TestWhatsAppServiceStartStop(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	if _, ok := <-svc.Events(); ok {
		t.Error("expected events channel closed")
	}
	if _, err := svc.SendText(context.Background(), "15552223333", "hi"); err != ErrServiceStopped {
		t.Errorf("expected ErrServiceStopped, got %v", err)
	}
}
