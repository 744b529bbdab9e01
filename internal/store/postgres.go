// Package store provides storage backends for PitchPipe.
//
// This file implements a PostgreSQL-backed store for projects and conversation turns.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/PitchPipe/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresSchema returns the DDL for the projects and conversations tables. Supabase
// projects apply it by hand in the SQL editor.
func PostgresSchema() string {
	return postgresMigrations
}

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, unavailable("open postgres", err)
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		db.Close()
		return nil, unavailable("ping postgres", err)
	}

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) InsertProject(ctx context.Context, p models.NewProject) (models.Project, error) {
	if err := p.Validate(); err != nil {
		slog.Error("PostgresStore InsertProject validation failed", "error", err, "user_id", p.UserID)
		return models.Project{}, validationError("insert project", err)
	}

	row := s.db.QueryRowContext(ctx,
		`INSERT INTO projects (user_id, username, project_name, stage, revenue_goal)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+projectColumns,
		p.UserID, nilIfEmpty(p.Handle), p.Name, string(p.Stage), p.RevenueGoal)
	project, err := scanProject(row)
	if err != nil {
		slog.Error("PostgresStore InsertProject failed", "error", err, "user_id", p.UserID)
		return models.Project{}, classifySQLError("insert project", err)
	}
	slog.Debug("PostgresStore InsertProject succeeded", "user_id", p.UserID, "project_id", project.ID)
	return project, nil
}

func (s *PostgresStore) LatestProjectForUser(ctx context.Context, userID string) (*models.Project, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE user_id = $1 ORDER BY created_at DESC, id DESC LIMIT 1`, userID)
	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		slog.Debug("PostgresStore LatestProjectForUser: no project", "user_id", userID)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore LatestProjectForUser failed", "error", err, "user_id", userID)
		return nil, unavailable("select latest project", err)
	}
	return &p, nil
}

func (s *PostgresStore) ListProjectsForUser(ctx context.Context, userID string) ([]models.Project, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE user_id = $1 ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		slog.Error("PostgresStore ListProjectsForUser query failed", "error", err, "user_id", userID)
		return nil, unavailable("list projects", err)
	}
	defer rows.Close()

	var projects []models.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, unavailable("list projects", err)
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list projects", err)
	}
	slog.Debug("PostgresStore ListProjectsForUser succeeded", "user_id", userID, "count", len(projects))
	return projects, nil
}

func (s *PostgresStore) InsertConversationTurn(ctx context.Context, t models.NewConversationTurn) error {
	if err := t.Validate(); err != nil {
		slog.Error("PostgresStore InsertConversationTurn validation failed", "error", err, "user_id", t.UserID)
		return validationError("insert conversation turn", err)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (user_id, project_id, message, role) VALUES ($1, $2, $3, $4)`,
		t.UserID, t.ProjectID, t.Message, string(t.Role))
	if err != nil {
		slog.Error("PostgresStore InsertConversationTurn failed", "error", err, "user_id", t.UserID, "role", t.Role)
		return classifySQLError("insert conversation turn", err)
	}
	slog.Debug("PostgresStore InsertConversationTurn succeeded", "user_id", t.UserID, "role", t.Role)
	return nil
}

func (s *PostgresStore) RecentTurnsForUser(ctx context.Context, userID string, limit int) ([]models.ConversationTurn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+turnColumns+` FROM conversations WHERE user_id = $1 ORDER BY timestamp DESC, id DESC LIMIT $2`,
		userID, normalizeLimit(limit))
	if err != nil {
		slog.Error("PostgresStore RecentTurnsForUser query failed", "error", err, "user_id", userID)
		return nil, unavailable("select recent turns", err)
	}
	defer rows.Close()

	var turns []models.ConversationTurn
	for rows.Next() {
		t, err := scanTurn(rows)
		if err != nil {
			return nil, unavailable("select recent turns", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("select recent turns", err)
	}
	slog.Debug("PostgresStore RecentTurnsForUser succeeded", "user_id", userID, "count", len(turns))
	return turns, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return unavailable("ping postgres", err)
	}
	return pingTables(ctx, s.db, "ping postgres")
}

// Close closes the PostgreSQL database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing PostgreSQL database connection")
	return s.db.Close()
}
