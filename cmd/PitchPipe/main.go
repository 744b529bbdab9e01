// Command PitchPipe runs the Jeff Jr startup coach bot: it collects a founder's project
// name, stage and revenue goal, then critiques every following message like a blunt VC.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/BTreeMap/PitchPipe/internal/api"
	"github.com/BTreeMap/PitchPipe/internal/flow"
	"github.com/BTreeMap/PitchPipe/internal/genai"
	"github.com/BTreeMap/PitchPipe/internal/lockfile"
	"github.com/BTreeMap/PitchPipe/internal/messaging"
	"github.com/BTreeMap/PitchPipe/internal/metrics"
	"github.com/BTreeMap/PitchPipe/internal/store"
	"github.com/BTreeMap/PitchPipe/internal/twiliowhatsapp"
	"github.com/BTreeMap/PitchPipe/internal/whatsapp"
)

func main() {
	initializeLogger(os.Stdout, "info", "text")

	cfg, envErr := loadEnvironmentConfig()
	cfg, err := parseCommandLineFlags(flag.CommandLine, os.Args[1:], cfg)
	if err != nil {
		slog.Error("Failed to parse command line flags", "error", err)
		os.Exit(2)
	}
	if err := initializeLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat); err != nil {
		slog.Warn("Invalid logging configuration, keeping defaults", "error", err)
	}
	if envErr != nil {
		slog.Error("Invalid environment configuration", "error", envErr)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Check {
		if err := runPreflight(ctx, cfg, os.Stdout, defaultPreflightDeps()); err != nil {
			stop()
			os.Exit(1)
		}
		return
	}

	slog.Info("Bootstrapping PitchPipe", "transport", cfg.Transport, "model_provider", cfg.ModelProvider, "state_dir", cfg.StateDir)
	if err := run(ctx, cfg); err != nil {
		slog.Error("PitchPipe failed to run", "error", err)
		stop()
		os.Exit(1)
	}
	slog.Info("PitchPipe exited successfully")
}

// initializeLogger installs the default slog logger. level is debug, info, warn or error;
// format is text or json.
func initializeLogger(w io.Writer, level, format string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(strings.TrimSpace(level)))); err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text":
		handler = slog.NewTextHandler(w, opts)
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		return fmt.Errorf("invalid log format %q", format)
	}
	slog.SetDefault(slog.New(handler))
	return nil
}

// run wires every component and blocks until ctx is cancelled or a component fails.
func run(ctx context.Context, cfg Config) error {
	lock, err := lockfile.Acquire(cfg.StateDir, cfg.Transport)
	if err != nil {
		return err
	}
	defer lock.Release()

	collector := metrics.NewCollector()

	base, err := store.New(buildStoreOptions(cfg)...)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer base.Close()
	st := store.NewInstrumentedStore(base, collector)

	model, err := genai.NewClient(append(buildGenAIOptions(cfg), genai.WithMetrics(collector))...)
	if err != nil {
		return fmt.Errorf("failed to create model client: %w", err)
	}

	sessions := flow.NewSessionStore(flow.NewSimpleTimer(), cfg.SessionIdleTimeout, collector)
	defer sessions.Close()
	ctrl := flow.NewController(st, sessions,
		flow.NewResponseGenerator(model, cfg.ModelTimeout),
		flow.WithHistoryLimit(cfg.HistoryLimit),
		flow.WithControllerMetrics(collector),
	)

	svc, webhook, err := buildTransport(ctx, cfg)
	if err != nil {
		return err
	}

	apiOpts := append(buildAPIOptions(cfg), api.WithMetrics(collector))
	if webhook != nil {
		apiOpts = append(apiOpts, api.WithTwilioWebhook(webhook))
	}
	server := api.NewServer(st, apiOpts...)

	dispatcher := messaging.NewDispatcher(svc, ctrl,
		messaging.WithMaxConcurrentUsers(cfg.MaxConcurrentUsers),
		messaging.WithEventTimeout(cfg.EventTimeout),
		messaging.WithDispatcherMetrics(collector),
	)
	return serve(ctx, svc, dispatcher, server)
}

// buildTransport creates the configured messaging service. The returned handler is the
// inbound webhook for transports that receive over HTTP, or nil.
func buildTransport(ctx context.Context, cfg Config) (messaging.Service, http.Handler, error) {
	switch cfg.Transport {
	case TransportTelegram:
		bot, err := messaging.NewTelegramBot(cfg.TelegramToken)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create Telegram bot: %w", err)
		}
		return messaging.NewTelegramService(bot), nil, nil

	case TransportTwilio:
		client, err := twiliowhatsapp.NewClient(buildTwilioOptions(cfg)...)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create Twilio client: %w", err)
		}
		opts := []messaging.TwilioOption{messaging.WithChoiceTTL(cfg.SessionIdleTimeout)}
		if cfg.TwilioWebhookURL != "" {
			opts = append(opts, messaging.WithSignatureValidation(client, cfg.TwilioWebhookURL))
		} else {
			slog.Warn("TWILIO_WEBHOOK_URL not set, inbound webhook signatures are not verified")
		}
		if host, _, err := net.SplitHostPort(cfg.APIAddr); err == nil && (host == "127.0.0.1" || host == "localhost") {
			slog.Info("Twilio webhook listens on loopback only; put a reverse proxy in front or set API_ADDR", "api_addr", cfg.APIAddr)
		}
		svc := messaging.NewTwilioService(client, opts...)
		return svc, http.HandlerFunc(svc.WebhookHandler), nil

	case TransportWhatsApp:
		client, err := whatsapp.NewClient(ctx, buildWhatsAppOptions(cfg)...)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create WhatsApp client: %w", err)
		}
		return messaging.NewWhatsAppService(client, messaging.WithWhatsAppChoiceTTL(cfg.SessionIdleTimeout)), nil, nil
	}
	return nil, nil, fmt.Errorf("unknown transport %q", cfg.Transport)
}

// runner is a component that blocks until its context ends.
type runner interface {
	Run(ctx context.Context) error
}

// serve starts the transport and runs the dispatcher and admin server until ctx is
// cancelled or one of them fails. The transport is stopped last so in-flight replies
// still have a channel to go out on.
func serve(ctx context.Context, svc messaging.Service, dispatcher, server runner) error {
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start transport: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	dispatched := make(chan struct{})
	g.Go(func() error {
		defer close(dispatched)
		return dispatcher.Run(gctx)
	})
	g.Go(func() error {
		return server.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		<-dispatched
		if err := svc.Stop(); err != nil {
			slog.Error("Transport stop failed", "error", err)
			return fmt.Errorf("failed to stop transport: %w", err)
		}
		return nil
	})

	err := g.Wait()
	slog.Info("PitchPipe components stopped", "error", err)
	return err
}
