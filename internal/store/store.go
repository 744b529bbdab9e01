// Package store provides storage backends for PitchPipe.
//
// A Store is a keyed accessor over two tables: projects and conversations. Backends exist
// for Supabase (PostgREST over HTTPS), PostgreSQL, SQLite and process memory.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/PitchPipe/internal/models"
)

// DefaultHistoryLimit is the number of turns returned when a caller passes a non-positive limit.
const DefaultHistoryLimit = 10

var (
	// ErrStoreUnavailable marks any failure to reach or use the backing store.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrConstraintViolation marks a write rejected by a table constraint.
	ErrConstraintViolation = errors.New("store constraint violation")
	// ErrSchemaMissing marks a store whose tables have not been created. It is always
	// reported together with ErrStoreUnavailable.
	ErrSchemaMissing = errors.New("store tables missing")
)

// Store is the persistence contract used by the dialogue.
type Store interface {
	// InsertProject commits a completed intake and returns the stored row.
	InsertProject(ctx context.Context, p models.NewProject) (models.Project, error)

	// LatestProjectForUser returns the most recently created project for a user,
	// or nil with no error when the user has none.
	LatestProjectForUser(ctx context.Context, userID string) (*models.Project, error)

	// ListProjectsForUser returns every project of a user, newest first.
	ListProjectsForUser(ctx context.Context, userID string) ([]models.Project, error)

	// InsertConversationTurn appends a turn. Delivery is at most once: callers log a
	// failure and move on, a lost turn only thins future context.
	InsertConversationTurn(ctx context.Context, t models.NewConversationTurn) error

	// RecentTurnsForUser returns up to limit turns for a user, newest first.
	RecentTurnsForUser(ctx context.Context, userID string, limit int) ([]models.ConversationTurn, error)

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// Opts holds configuration for store construction.
type Opts struct {
	DSN         string // SQLite file path or PostgreSQL connection string
	SupabaseURL string
	SupabaseKey string
	Now         func() time.Time // clock for the in-memory store; defaults to time.Now
}

// Option defines a configuration option for the store.
type Option func(*Opts)

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithSupabase sets the Supabase project URL and API key.
func WithSupabase(url, key string) Option {
	return func(o *Opts) {
		o.SupabaseURL = url
		o.SupabaseKey = key
	}
}

// WithClock overrides the clock used by the in-memory store.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) {
		o.Now = now
	}
}

// New builds the store selected by the options: Supabase when a URL and key are set,
// otherwise PostgreSQL or SQLite by DSN shape, otherwise memory.
func New(opts ...Option) (Store, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}

	switch {
	case cfg.SupabaseURL != "" && cfg.SupabaseKey != "":
		slog.Debug("store.New: selecting Supabase store", "url", cfg.SupabaseURL)
		return NewSupabaseStore(opts...)
	case cfg.DSN != "" && DetectDSNType(cfg.DSN) == "postgres":
		slog.Debug("store.New: selecting Postgres store", "dsn_set", true)
		return NewPostgresStore(opts...)
	case cfg.DSN != "":
		slog.Debug("store.New: selecting SQLite store", "path", cfg.DSN)
		return NewSQLiteStore(opts...)
	default:
		slog.Warn("store.New: no store configured, projects will not survive a restart")
		return NewInMemoryStore(opts...), nil
	}
}

// DetectDSNType returns "postgres" for PostgreSQL connection strings and "sqlite3" otherwise.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") ||
		(strings.Contains(dsn, "host=") && strings.Contains(dsn, "dbname=")) {
		return "postgres"
	}
	return "sqlite3"
}

// normalizeLimit maps non-positive limits to DefaultHistoryLimit.
func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	return limit
}

// unavailable wraps err so callers can test it with errors.Is(err, ErrStoreUnavailable).
func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}

// schemaMissing wraps err so callers can test it with both ErrStoreUnavailable and
// ErrSchemaMissing.
func schemaMissing(op string, err error) error {
	return fmt.Errorf("%s: %w: %w: %w", op, ErrStoreUnavailable, ErrSchemaMissing, err)
}

// constraint wraps err so callers can test it with errors.Is(err, ErrConstraintViolation).
func constraint(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrConstraintViolation, err)
}
