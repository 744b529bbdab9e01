package messaging

import (
	"errors"
	"testing"
	"time"

	"github.com/BTreeMap/PitchPipe/internal/models"
)

func TestFormatChoices(t *testing.T) {
	got := FormatChoices("CryptoWallet, huh?", models.StageChoices())
	want := "CryptoWallet, huh?\n\n1. Idea\n2. Development\n3. Launched\n\n" + ChoiceHintMessage
	if got != want {
		t.Errorf("unexpected rendering:\n%q\nwant\n%q", got, want)
	}
}

func TestMatchChoice(t *testing.T) {
	choices := models.StageChoices()
	tests := []struct {
		reply string
		want  string
		ok    bool
	}{
		{"1", "Idea", true},
		{" 3 ", "Launched", true},
		{"development", "Development", true},
		{"LAUNCHED", "Launched", true},
		{"0", "", false},
		{"4", "", false},
		{"Seed", "", false},
	}
	for _, tt := range tests {
		got, ok := MatchChoice(tt.reply, choices)
		if ok != tt.ok || got.Data != tt.want {
			t.Errorf("MatchChoice(%q) = %q, %v; want %q, %v", tt.reply, got.Data, ok, tt.want, tt.ok)
		}
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		text string
		want string
		ok   bool
	}{
		{"/start", "start", true},
		{"/Review please", "review", true},
		{"/help@jeffjr_bot", "help", true},
		{"  /cancel  ", "cancel", true},
		{"/", "", false},
		{"/@bot", "", false},
		{"start", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseCommand(tt.text)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseCommand(%q) = %q, %v; want %q, %v", tt.text, got, ok, tt.want, tt.ok)
		}
	}
}

func TestCanonicalPhone(t *testing.T) {
	if got, err := canonicalPhone("whatsapp:+1 (555) 222-3333"); err != nil || got != "15552223333" {
		t.Errorf("unexpected canonical phone %q, %v", got, err)
	}
	if _, err := canonicalPhone("abc"); !errors.Is(err, ErrInvalidRecipient) {
		t.Errorf("expected ErrInvalidRecipient, got %v", err)
	}
	if _, err := canonicalPhone("+123"); !errors.Is(err, ErrInvalidRecipient) {
		t.Errorf("expected ErrInvalidRecipient for short number, got %v", err)
	}
}

func TestChoiceTrackerTextEvent(t *testing.T) {
	tr := newChoiceTracker()
	now := time.Now()

	ev := tr.textEvent("u1", "c1", "founder", "CryptoWallet", now)
	if ev.Kind != models.EventText || ev.Text != "CryptoWallet" || ev.Handle != "founder" {
		t.Errorf("expected text event, got %+v", ev)
	}

	tr.remember("c1", "SM1", models.StageChoices())
	ev = tr.textEvent("u1", "c1", "", "2", now)
	if ev.Kind != models.EventChoice || ev.ChoiceData != "Development" || ev.MessageRef != "SM1" || ev.CallbackID == "" {
		t.Errorf("expected choice event, got %+v", ev)
	}

	// The prompt is consumed by the first reply.
	if ev := tr.textEvent("u1", "c1", "", "2", now); ev.Kind != models.EventText {
		t.Errorf("expected text after the prompt was consumed, got %+v", ev)
	}

	tr.remember("c1", "SM2", models.StageChoices())
	ev = tr.textEvent("u1", "c1", "", "Seed round", now)
	if ev.Kind != models.EventChoice || ev.ChoiceData != "Seed round" {
		t.Errorf("unmatched reply should pass through as choice data, got %+v", ev)
	}

	tr.remember("c1", "SM3", models.StageChoices())
	ev = tr.textEvent("u1", "c1", "", "/cancel", now)
	if ev.Kind != models.EventCommand || ev.Command != "cancel" {
		t.Errorf("expected command, got %+v", ev)
	}
	if ev := tr.textEvent("u1", "c1", "", "1", now); ev.Kind != models.EventText {
		t.Error("a command should clear the pending prompt")
	}
}

func TestChoiceTrackerExpiresPrompts(t *testing.T) {
	tr := newChoiceTracker()
	tr.setTTL(time.Minute)

	tr.remember("c1", "SM1", models.StageChoices())
	late := time.Now().Add(2 * time.Minute)
	if ev := tr.textEvent("u1", "c1", "", "2", late); ev.Kind != models.EventText || ev.Text != "2" {
		t.Errorf("expected an expired prompt to yield free text, got %+v", ev)
	}
	if tr.size() != 0 {
		t.Errorf("expired prompt still pending")
	}

	// Prompts nobody answers are swept by later ones.
	tr.remember("c2", "SM2", models.StageChoices())
	tr.mu.Lock()
	p := tr.pending["c2"]
	p.sentAt = p.sentAt.Add(-2 * time.Minute)
	tr.pending["c2"] = p
	tr.mu.Unlock()
	tr.remember("c3", "SM3", models.StageChoices())
	if tr.size() != 1 {
		t.Errorf("expected only the fresh prompt to remain, got %d", tr.size())
	}

	tr.setTTL(0)
	if tr.ttl != time.Minute {
		t.Errorf("non-positive TTL should be ignored, got %v", tr.ttl)
	}
}

func TestEventQueueStop(t *testing.T) {
	q := newEventQueue("test")
	if !q.emit(models.InboundEvent{UserID: "1"}) {
		t.Fatal("expected emit to succeed")
	}
	q.stop()
	q.stop()
	if q.emit(models.InboundEvent{UserID: "2"}) {
		t.Error("emit after stop should be dropped")
	}

	if ev, ok := <-q.events; !ok || ev.UserID != "1" {
		t.Errorf("expected buffered event before close, got %+v ok=%v", ev, ok)
	}
	if _, ok := <-q.events; ok {
		t.Error("expected closed channel")
	}
}
