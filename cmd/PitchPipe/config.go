package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/BTreeMap/PitchPipe/internal/api"
	"github.com/BTreeMap/PitchPipe/internal/flow"
	"github.com/BTreeMap/PitchPipe/internal/genai"
	"github.com/BTreeMap/PitchPipe/internal/messaging"
	"github.com/BTreeMap/PitchPipe/internal/store"
	"github.com/BTreeMap/PitchPipe/internal/twiliowhatsapp"
	"github.com/BTreeMap/PitchPipe/internal/util"
	"github.com/BTreeMap/PitchPipe/internal/whatsapp"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for PitchPipe state data
	DefaultStateDir = "/var/lib/pitchpipe"
	// DefaultAppDBFileName is the default SQLite database filename for projects and turns
	DefaultAppDBFileName = "pitchpipe.db"
	// DefaultWhatsAppDBFileName is the default SQLite database filename for the WhatsApp device
	DefaultWhatsAppDBFileName = "whatsmeow.db"
	// MemoryDSN selects the in-memory store.
	MemoryDSN = "memory"
)

// Transport names accepted by TRANSPORT and -transport.
const (
	TransportTelegram = "telegram"
	TransportTwilio   = "twilio"
	TransportWhatsApp = "whatsapp"
)

// Config holds the resolved process configuration.
type Config struct {
	Transport     string
	TelegramToken string

	ModelProvider string
	ModelName     string
	GoogleAPIKey  string
	OpenAIKey     string
	GenAIDebug    bool

	SupabaseURL string
	SupabaseKey string
	DatabaseDSN string
	WhatsAppDSN string
	StateDir    string

	APIAddr            string
	HistoryLimit       int
	MaxConcurrentUsers int
	ModelTimeout       time.Duration
	SessionIdleTimeout time.Duration
	EventTimeout       time.Duration

	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFrom       string
	TwilioWebhookURL string

	QROutput    string
	NumericCode bool

	LogLevel  string
	LogFormat string
	Check     bool
}

// loadEnvironmentConfig loads configuration from the .env file and environment variables.
func loadEnvironmentConfig() (Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	cfg := Config{
		Transport:     strings.ToLower(util.StringEnv("TRANSPORT", TransportTelegram)),
		TelegramToken: util.StringEnv("TELEGRAM_TOKEN", ""),

		ModelProvider: strings.ToLower(util.StringEnv("MODEL_PROVIDER", genai.ProviderGemini)),
		ModelName:     util.StringEnv("MODEL_NAME", ""),
		GoogleAPIKey:  util.StringEnv("GOOGLE_API_KEY", ""),
		OpenAIKey:     util.StringEnv("OPENAI_API_KEY", ""),
		GenAIDebug:    util.ParseBoolEnv("GENAI_DEBUG", false),

		SupabaseURL: util.StringEnv("SUPABASE_URL", ""),
		SupabaseKey: util.StringEnv("SUPABASE_KEY", ""),
		DatabaseDSN: util.StringEnv("DATABASE_DSN", util.StringEnv("DATABASE_URL", "")),
		WhatsAppDSN: util.StringEnv("WHATSAPP_DB_DSN", ""),
		StateDir:    util.StringEnv("PITCHPIPE_STATE_DIR", DefaultStateDir),

		APIAddr: util.StringEnv("API_ADDR", api.DefaultAddr),

		TwilioAccountSID: util.StringEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:  util.StringEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioFrom:       util.StringEnv("TWILIO_FROM_NUMBER", ""),
		TwilioWebhookURL: util.StringEnv("TWILIO_WEBHOOK_URL", ""),

		LogLevel:  util.StringEnv("LOG_LEVEL", "info"),
		LogFormat: util.StringEnv("LOG_FORMAT", "text"),
	}

	var errs []error
	var err error
	if cfg.HistoryLimit, err = util.ParseIntEnv("HISTORY_LIMIT", store.DefaultHistoryLimit); err != nil {
		errs = append(errs, err)
	}
	if cfg.MaxConcurrentUsers, err = util.ParseIntEnv("MAX_CONCURRENT_USERS", messaging.DefaultMaxConcurrentUsers); err != nil {
		errs = append(errs, err)
	}
	if cfg.ModelTimeout, err = util.ParseDurationEnv("MODEL_TIMEOUT", flow.DefaultModelTimeout); err != nil {
		errs = append(errs, err)
	}
	if cfg.SessionIdleTimeout, err = util.ParseDurationEnv("SESSION_IDLE_TIMEOUT", flow.DefaultSessionIdleTimeout); err != nil {
		errs = append(errs, err)
	}
	if cfg.EventTimeout, err = util.ParseDurationEnv("EVENT_TIMEOUT", messaging.DefaultEventTimeout); err != nil {
		errs = append(errs, err)
	}

	if cfg.DatabaseDSN == "" && cfg.SupabaseURL == "" {
		cfg.DatabaseDSN = filepath.Join(cfg.StateDir, DefaultAppDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", cfg.DatabaseDSN)
	}
	if cfg.WhatsAppDSN == "" {
		cfg.WhatsAppDSN = filepath.Join(cfg.StateDir, DefaultWhatsAppDBFileName)
	}

	slog.Debug("environment variables loaded",
		"TRANSPORT", cfg.Transport,
		"TELEGRAM_TOKEN_SET", cfg.TelegramToken != "",
		"MODEL_PROVIDER", cfg.ModelProvider,
		"GOOGLE_API_KEY_SET", cfg.GoogleAPIKey != "",
		"OPENAI_API_KEY_SET", cfg.OpenAIKey != "",
		"SUPABASE_URL_SET", cfg.SupabaseURL != "",
		"DATABASE_DSN_SET", cfg.DatabaseDSN != "",
		"PITCHPIPE_STATE_DIR", cfg.StateDir,
		"API_ADDR", cfg.APIAddr)

	return cfg, errors.Join(errs...)
}

// parseCommandLineFlags applies command line overrides on top of the environment config.
func parseCommandLineFlags(fs *flag.FlagSet, args []string, cfg Config) (Config, error) {
	envStateDir, envDSN := cfg.StateDir, cfg.DatabaseDSN
	envWhatsAppDSN := cfg.WhatsAppDSN

	fs.StringVar(&cfg.Transport, "transport", cfg.Transport, "chat transport: telegram, twilio or whatsapp (overrides $TRANSPORT)")
	fs.StringVar(&cfg.StateDir, "state-dir", cfg.StateDir, "state directory for PitchPipe data (overrides $PITCHPIPE_STATE_DIR)")
	fs.StringVar(&cfg.DatabaseDSN, "db-dsn", cfg.DatabaseDSN, "project store DSN, a SQLite path, PostgreSQL URL or \"memory\" (overrides $DATABASE_DSN)")
	fs.StringVar(&cfg.WhatsAppDSN, "whatsapp-db-dsn", cfg.WhatsAppDSN, "WhatsApp device store DSN (overrides $WHATSAPP_DB_DSN)")
	fs.StringVar(&cfg.APIAddr, "api-addr", cfg.APIAddr, "admin API address (overrides $API_ADDR)")
	fs.StringVar(&cfg.ModelProvider, "model-provider", cfg.ModelProvider, "model provider: gemini or openai (overrides $MODEL_PROVIDER)")
	fs.StringVar(&cfg.ModelName, "model", cfg.ModelName, "model name (overrides $MODEL_NAME)")
	fs.IntVar(&cfg.HistoryLimit, "history-limit", cfg.HistoryLimit, "turns replayed to the model (overrides $HISTORY_LIMIT)")
	fs.StringVar(&cfg.QROutput, "qr-output", "", "path to write the WhatsApp login QR code")
	fs.BoolVar(&cfg.NumericCode, "numeric-code", false, "use a numeric WhatsApp login code instead of a QR code")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn or error (overrides $LOG_LEVEL)")
	fs.BoolVar(&cfg.Check, "check", false, "validate configuration, ping the store and the model, then exit")

	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	cfg.Transport = strings.ToLower(cfg.Transport)
	cfg.ModelProvider = strings.ToLower(cfg.ModelProvider)

	// Default file DSNs follow an overridden state directory.
	if cfg.StateDir != envStateDir {
		if cfg.DatabaseDSN == envDSN && envDSN == filepath.Join(envStateDir, DefaultAppDBFileName) {
			cfg.DatabaseDSN = filepath.Join(cfg.StateDir, DefaultAppDBFileName)
			slog.Debug("Updated database DSN based on state directory", "state_dir", cfg.StateDir)
		}
		if cfg.WhatsAppDSN == envWhatsAppDSN && envWhatsAppDSN == filepath.Join(envStateDir, DefaultWhatsAppDBFileName) {
			cfg.WhatsAppDSN = filepath.Join(cfg.StateDir, DefaultWhatsAppDBFileName)
		}
	}

	slog.Debug("flags parsed",
		"transport", cfg.Transport,
		"stateDir", cfg.StateDir,
		"dbDSN_set", cfg.DatabaseDSN != "",
		"apiAddr", cfg.APIAddr,
		"check", cfg.Check)
	return cfg, nil
}

// Validate fails fast on settings the selected transport, store or model cannot run without.
func (c Config) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{util.ErrConfiguration}, args...)...))
	}

	switch c.Transport {
	case TransportTelegram:
		if c.TelegramToken == "" {
			fail("TELEGRAM_TOKEN is required for the telegram transport")
		} else if err := messaging.ValidateTelegramToken(c.TelegramToken); err != nil {
			fail("TELEGRAM_TOKEN: %v", err)
		}
	case TransportTwilio:
		if c.TwilioAccountSID == "" || c.TwilioAuthToken == "" || c.TwilioFrom == "" {
			fail("TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_FROM_NUMBER are required for the twilio transport")
		}
	case TransportWhatsApp:
		if c.WhatsAppDSN == "" {
			fail("WHATSAPP_DB_DSN is required for the whatsapp transport")
		}
	default:
		fail("unknown transport %q", c.Transport)
	}

	switch c.ModelProvider {
	case genai.ProviderGemini:
		if c.GoogleAPIKey == "" {
			fail("GOOGLE_API_KEY is required for the gemini provider")
		}
	case genai.ProviderOpenAI:
		if c.OpenAIKey == "" {
			fail("OPENAI_API_KEY is required for the openai provider")
		}
	default:
		fail("unknown model provider %q", c.ModelProvider)
	}

	if (c.SupabaseURL == "") != (c.SupabaseKey == "") {
		fail("SUPABASE_URL and SUPABASE_KEY must be set together")
	}
	if c.SupabaseURL == "" && c.DatabaseDSN == "" {
		fail("no store configured: set SUPABASE_URL and SUPABASE_KEY or DATABASE_DSN")
	}
	if c.HistoryLimit <= 0 {
		fail("history limit must be positive, got %d", c.HistoryLimit)
	}
	if c.MaxConcurrentUsers <= 0 {
		fail("max concurrent users must be positive, got %d", c.MaxConcurrentUsers)
	}
	return errors.Join(errs...)
}

// modelAPIKey returns the credential of the configured provider.
func (c Config) modelAPIKey() string {
	if c.ModelProvider == genai.ProviderOpenAI {
		return c.OpenAIKey
	}
	return c.GoogleAPIKey
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(cfg Config) []store.Option {
	var storeOpts []store.Option
	switch {
	case cfg.SupabaseURL != "" && cfg.SupabaseKey != "":
		storeOpts = append(storeOpts, store.WithSupabase(cfg.SupabaseURL, cfg.SupabaseKey))
	case cfg.DatabaseDSN == MemoryDSN:
		slog.Debug("In-memory store requested")
	case store.DetectDSNType(cfg.DatabaseDSN) == "postgres":
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql", "dsn_set", true)
		storeOpts = append(storeOpts, store.WithPostgresDSN(cfg.DatabaseDSN))
	case cfg.DatabaseDSN != "":
		slog.Debug("Detected SQLite DSN, configuring SQLite store", "dsn_type", "sqlite", "db_path", cfg.DatabaseDSN)
		storeOpts = append(storeOpts, store.WithSQLiteDSN(cfg.DatabaseDSN))
	}
	return storeOpts
}

// buildGenAIOptions constructs GenAI configuration options
func buildGenAIOptions(cfg Config) []genai.Option {
	genaiOpts := []genai.Option{
		genai.WithProvider(cfg.ModelProvider),
		genai.WithAPIKey(cfg.modelAPIKey()),
		genai.WithStateDir(cfg.StateDir),
		genai.WithDebugMode(cfg.GenAIDebug),
	}
	if cfg.ModelName != "" {
		genaiOpts = append(genaiOpts, genai.WithModel(cfg.ModelName))
	}
	return genaiOpts
}

// buildWhatsAppOptions constructs WhatsApp configuration options
func buildWhatsAppOptions(cfg Config) []whatsapp.Option {
	var waOpts []whatsapp.Option
	if cfg.QROutput != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(cfg.QROutput))
	}
	if cfg.NumericCode {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	if cfg.WhatsAppDSN != "" {
		waOpts = append(waOpts, whatsapp.WithDBDSN(cfg.WhatsAppDSN))
	}
	return waOpts
}

// buildTwilioOptions constructs Twilio client options
func buildTwilioOptions(cfg Config) []twiliowhatsapp.Option {
	return []twiliowhatsapp.Option{
		twiliowhatsapp.WithAccountSID(cfg.TwilioAccountSID),
		twiliowhatsapp.WithAuthToken(cfg.TwilioAuthToken),
		twiliowhatsapp.WithFrom(cfg.TwilioFrom),
	}
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(cfg Config) []api.Option {
	var apiOpts []api.Option
	if cfg.APIAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(cfg.APIAddr))
	}
	apiOpts = append(apiOpts, api.WithHistoryLimit(cfg.HistoryLimit))
	return apiOpts
}
