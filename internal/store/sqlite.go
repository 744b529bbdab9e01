// Package store provides storage backends for PitchPipe.
//
// This file implements an SQLite-backed store for projects and conversation turns.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "embed"

	"github.com/BTreeMap/PitchPipe/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexRune(path, '?'); i >= 0 {
		path = path[:i]
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// conversations.project_id references projects(id); SQLite enforces it only when asked.
	if !strings.Contains(dsn, "_foreign_keys") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_foreign_keys=on"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, unavailable("open sqlite", err)
	}

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		db.Close()
		return nil, unavailable("ping sqlite", err)
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully", "path", path)

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) InsertProject(ctx context.Context, p models.NewProject) (models.Project, error) {
	if err := p.Validate(); err != nil {
		slog.Error("SQLiteStore InsertProject validation failed", "error", err, "user_id", p.UserID)
		return models.Project{}, validationError("insert project", err)
	}

	ts := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (user_id, username, project_name, stage, revenue_goal, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.UserID, nilIfEmpty(p.Handle), p.Name, string(p.Stage), p.RevenueGoal, ts, ts)
	if err != nil {
		slog.Error("SQLiteStore InsertProject failed", "error", err, "user_id", p.UserID)
		return models.Project{}, classifySQLError("insert project", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return models.Project{}, unavailable("insert project", err)
	}

	slog.Debug("SQLiteStore InsertProject succeeded", "user_id", p.UserID, "project_id", id)
	return models.Project{
		ID:          id,
		UserID:      p.UserID,
		Handle:      p.Handle,
		Name:        p.Name,
		Stage:       p.Stage,
		RevenueGoal: p.RevenueGoal,
		CreatedAt:   ts,
		UpdatedAt:   ts,
	}, nil
}

func (s *SQLiteStore) LatestProjectForUser(ctx context.Context, userID string) (*models.Project, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT 1`, userID)
	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		slog.Debug("SQLiteStore LatestProjectForUser: no project", "user_id", userID)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore LatestProjectForUser failed", "error", err, "user_id", userID)
		return nil, unavailable("select latest project", err)
	}
	return &p, nil
}

func (s *SQLiteStore) ListProjectsForUser(ctx context.Context, userID string) ([]models.Project, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE user_id = ? ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		slog.Error("SQLiteStore ListProjectsForUser query failed", "error", err, "user_id", userID)
		return nil, unavailable("list projects", err)
	}
	defer rows.Close()

	var projects []models.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			slog.Error("SQLiteStore ListProjectsForUser scan failed", "error", err)
			return nil, unavailable("list projects", err)
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list projects", err)
	}
	slog.Debug("SQLiteStore ListProjectsForUser succeeded", "user_id", userID, "count", len(projects))
	return projects, nil
}

func (s *SQLiteStore) InsertConversationTurn(ctx context.Context, t models.NewConversationTurn) error {
	if err := t.Validate(); err != nil {
		slog.Error("SQLiteStore InsertConversationTurn validation failed", "error", err, "user_id", t.UserID)
		return validationError("insert conversation turn", err)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (user_id, project_id, message, role, timestamp) VALUES (?, ?, ?, ?, ?)`,
		t.UserID, t.ProjectID, t.Message, string(t.Role), time.Now().UTC())
	if err != nil {
		slog.Error("SQLiteStore InsertConversationTurn failed", "error", err, "user_id", t.UserID, "role", t.Role)
		return classifySQLError("insert conversation turn", err)
	}
	slog.Debug("SQLiteStore InsertConversationTurn succeeded", "user_id", t.UserID, "role", t.Role)
	return nil
}

func (s *SQLiteStore) RecentTurnsForUser(ctx context.Context, userID string, limit int) ([]models.ConversationTurn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+turnColumns+` FROM conversations WHERE user_id = ? ORDER BY timestamp DESC, id DESC LIMIT ?`,
		userID, normalizeLimit(limit))
	if err != nil {
		slog.Error("SQLiteStore RecentTurnsForUser query failed", "error", err, "user_id", userID)
		return nil, unavailable("select recent turns", err)
	}
	defer rows.Close()

	var turns []models.ConversationTurn
	for rows.Next() {
		t, err := scanTurn(rows)
		if err != nil {
			slog.Error("SQLiteStore RecentTurnsForUser scan failed", "error", err)
			return nil, unavailable("select recent turns", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("select recent turns", err)
	}
	slog.Debug("SQLiteStore RecentTurnsForUser succeeded", "user_id", userID, "count", len(turns))
	return turns, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return unavailable("ping sqlite", err)
	}
	return pingTables(ctx, s.db, "ping sqlite")
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	return s.db.Close()
}
