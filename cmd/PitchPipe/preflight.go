package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/PitchPipe/internal/flow"
	"github.com/BTreeMap/PitchPipe/internal/genai"
	"github.com/BTreeMap/PitchPipe/internal/messaging"
	"github.com/BTreeMap/PitchPipe/internal/models"
	"github.com/BTreeMap/PitchPipe/internal/store"
	"github.com/BTreeMap/PitchPipe/internal/twiliowhatsapp"
	"github.com/BTreeMap/PitchPipe/internal/whatsapp"
)

// preflightPrompt asks for a reply short enough to print on one line.
const preflightPrompt = "Reply with the single word: ready"

// ErrPreflightFailed is returned when any preflight check fails.
var ErrPreflightFailed = errors.New("preflight failed")

// preflightDeps opens the external dependencies checked by -check.
type preflightDeps struct {
	checkTransport func(context.Context, Config) (string, error)
	openStore      func(Config) (store.Store, error)
	newModel       func(Config) (flow.ModelClient, error)
}

func defaultPreflightDeps() preflightDeps {
	return preflightDeps{
		checkTransport: checkTransport,
		openStore: func(cfg Config) (store.Store, error) {
			return store.New(buildStoreOptions(cfg)...)
		},
		newModel: func(cfg Config) (flow.ModelClient, error) {
			return genai.NewClient(buildGenAIOptions(cfg)...)
		},
	}
}

// runPreflight verifies the transport credentials, pings the store and sends one prompt to
// the model, writing a line per check to w. Configuration has already been validated by
// the caller.
func runPreflight(ctx context.Context, cfg Config, w io.Writer, deps preflightDeps) error {
	failed := 0
	report := func(name string, err error, detail string) {
		if err != nil {
			failed++
			fmt.Fprintf(w, "FAIL  %-10s %v\n", name, err)
			return
		}
		fmt.Fprintf(w, "ok    %-10s %s\n", name, detail)
	}

	report("config", nil, fmt.Sprintf("transport=%s provider=%s", cfg.Transport, cfg.ModelProvider))
	transport, err := deps.checkTransport(ctx, cfg)
	report("transport", err, transport)
	storeErr := checkStore(ctx, cfg, deps)
	report("store", storeErr, storeDescription(cfg))
	if errors.Is(storeErr, store.ErrSchemaMissing) {
		fmt.Fprintf(w, "\nThe tables do not exist yet. Create them with this SQL (Supabase: SQL editor):\n\n%s\n", store.PostgresSchema())
	}
	reply, err := checkModel(ctx, cfg, deps)
	report("model", err, reply)

	if failed > 0 {
		slog.Error("Preflight failed", "failed_checks", failed)
		return fmt.Errorf("%w: %d check(s) failed", ErrPreflightFailed, failed)
	}
	slog.Info("Preflight succeeded")
	return nil
}

// checkTransport proves the transport credentials without starting the transport.
func checkTransport(ctx context.Context, cfg Config) (string, error) {
	switch cfg.Transport {
	case TransportTelegram:
		bot, err := messaging.NewTelegramBot(cfg.TelegramToken)
		if err != nil {
			return "", err
		}
		return "telegram @" + bot.Self.UserName, nil
	case TransportTwilio:
		client, err := twiliowhatsapp.NewClient(buildTwilioOptions(cfg)...)
		if err != nil {
			return "", err
		}
		name, err := client.Account(ctx)
		if err != nil {
			return "", err
		}
		return "twilio account " + name, nil
	case TransportWhatsApp:
		jid, err := whatsapp.PairedDevice(ctx, buildWhatsAppOptions(cfg)...)
		if err != nil {
			return "", err
		}
		return "whatsapp device " + jid, nil
	}
	return "", fmt.Errorf("unknown transport %q", cfg.Transport)
}

func checkStore(ctx context.Context, cfg Config, deps preflightDeps) error {
	st, err := deps.openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return st.Ping(pingCtx)
}

func checkModel(ctx context.Context, cfg Config, deps preflightDeps) (string, error) {
	model, err := deps.newModel(cfg)
	if err != nil {
		return "", err
	}
	timeout := cfg.ModelTimeout
	if timeout <= 0 {
		timeout = flow.DefaultModelTimeout
	}
	genCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	reply, err := model.Generate(genCtx, []models.ChatMessage{{Role: models.ChatRoleUser, Content: preflightPrompt}})
	if err != nil {
		return "", err
	}
	reply = strings.Join(strings.Fields(reply), " ")
	if len(reply) > 60 {
		reply = reply[:60] + "..."
	}
	return fmt.Sprintf("replied %q", reply), nil
}

func storeDescription(cfg Config) string {
	switch {
	case cfg.SupabaseURL != "":
		return "supabase " + cfg.SupabaseURL
	case cfg.DatabaseDSN == MemoryDSN:
		return "in-memory"
	case store.DetectDSNType(cfg.DatabaseDSN) == "postgres":
		return "postgres"
	default:
		return "sqlite " + cfg.DatabaseDSN
	}
}
