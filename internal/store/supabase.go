// Package store provides storage backends for PitchPipe.
//
// This file implements a Supabase-backed store. Rows travel through the PostgREST API of the
// Supabase project; the tables are the ones created by migrations_postgres.sql.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/PitchPipe/internal/models"
	"github.com/supabase-community/postgrest-go"
	"github.com/supabase-community/supabase-go"
)

const (
	projectsTable      = "projects"
	conversationsTable = "conversations"
)

// SupabaseStore persists projects and turns through Supabase's REST interface.
// The underlying client does not accept a context, so cancellation is checked before each call.
type SupabaseStore struct {
	client *supabase.Client
}

// projectRow is the JSON shape of a projects row.
type projectRow struct {
	ID          int64     `json:"id"`
	UserID      string    `json:"user_id"`
	Username    *string   `json:"username"`
	ProjectName string    `json:"project_name"`
	Stage       string    `json:"stage"`
	RevenueGoal string    `json:"revenue_goal"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// projectInsert omits server-assigned columns.
type projectInsert struct {
	UserID      string  `json:"user_id"`
	Username    *string `json:"username"`
	ProjectName string  `json:"project_name"`
	Stage       string  `json:"stage"`
	RevenueGoal string  `json:"revenue_goal"`
}

type turnRow struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	ProjectID int64     `json:"project_id"`
	Message   string    `json:"message"`
	Role      string    `json:"role"`
	Timestamp time.Time `json:"timestamp"`
}

type turnInsert struct {
	UserID    string `json:"user_id"`
	ProjectID int64  `json:"project_id"`
	Message   string `json:"message"`
	Role      string `json:"role"`
}

func (r projectRow) toModel() models.Project {
	p := models.Project{
		ID:          r.ID,
		UserID:      r.UserID,
		Name:        r.ProjectName,
		Stage:       models.ProjectStage(r.Stage),
		RevenueGoal: r.RevenueGoal,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if r.Username != nil {
		p.Handle = *r.Username
	}
	return p
}

func (r turnRow) toModel() models.ConversationTurn {
	return models.ConversationTurn{
		ID:        r.ID,
		UserID:    r.UserID,
		ProjectID: r.ProjectID,
		Message:   r.Message,
		Role:      models.Role(r.Role),
		Timestamp: r.Timestamp,
	}
}

// NewSupabaseStore creates a Supabase store from the URL and key options.
func NewSupabaseStore(opts ...Option) (*SupabaseStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSupabaseStore invoked", "url", cfg.SupabaseURL, "key_set", cfg.SupabaseKey != "")

	if cfg.SupabaseURL == "" || cfg.SupabaseKey == "" {
		slog.Error("SupabaseStore URL or key not set")
		return nil, fmt.Errorf("supabase URL and key must both be set")
	}

	client, err := supabase.NewClient(cfg.SupabaseURL, cfg.SupabaseKey, nil)
	if err != nil {
		slog.Error("Failed to create Supabase client", "error", err)
		return nil, unavailable("create supabase client", err)
	}
	return &SupabaseStore{client: client}, nil
}

func (s *SupabaseStore) InsertProject(ctx context.Context, p models.NewProject) (models.Project, error) {
	if err := p.Validate(); err != nil {
		slog.Error("SupabaseStore InsertProject validation failed", "error", err, "user_id", p.UserID)
		return models.Project{}, validationError("insert project", err)
	}
	if err := ctx.Err(); err != nil {
		return models.Project{}, unavailable("insert project", err)
	}

	row := projectInsert{
		UserID:      p.UserID,
		ProjectName: p.Name,
		Stage:       string(p.Stage),
		RevenueGoal: p.RevenueGoal,
	}
	if p.Handle != "" {
		row.Username = &p.Handle
	}

	var inserted []projectRow
	_, err := s.client.From(projectsTable).
		Insert(row, false, "", "representation", "").
		ExecuteTo(&inserted)
	if err != nil {
		slog.Error("SupabaseStore InsertProject failed", "error", err, "user_id", p.UserID)
		return models.Project{}, classifyPostgrestError("insert project", err)
	}
	if len(inserted) == 0 {
		return models.Project{}, unavailable("insert project", fmt.Errorf("no row returned"))
	}

	project := inserted[0].toModel()
	slog.Debug("SupabaseStore InsertProject succeeded", "user_id", p.UserID, "project_id", project.ID)
	return project, nil
}

func (s *SupabaseStore) LatestProjectForUser(ctx context.Context, userID string) (*models.Project, error) {
	rows, err := s.selectProjects(ctx, userID, 1)
	if err != nil {
		slog.Error("SupabaseStore LatestProjectForUser failed", "error", err, "user_id", userID)
		return nil, err
	}
	if len(rows) == 0 {
		slog.Debug("SupabaseStore LatestProjectForUser: no project", "user_id", userID)
		return nil, nil
	}
	p := rows[0].toModel()
	return &p, nil
}

func (s *SupabaseStore) ListProjectsForUser(ctx context.Context, userID string) ([]models.Project, error) {
	rows, err := s.selectProjects(ctx, userID, 0)
	if err != nil {
		slog.Error("SupabaseStore ListProjectsForUser failed", "error", err, "user_id", userID)
		return nil, err
	}
	projects := make([]models.Project, 0, len(rows))
	for _, r := range rows {
		projects = append(projects, r.toModel())
	}
	slog.Debug("SupabaseStore ListProjectsForUser succeeded", "user_id", userID, "count", len(projects))
	return projects, nil
}

// selectProjects returns a user's projects newest first; limit 0 means all.
func (s *SupabaseStore) selectProjects(ctx context.Context, userID string, limit int) ([]projectRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("select projects", err)
	}
	q := s.client.From(projectsTable).
		Select("*", "", false).
		Eq("user_id", userID).
		Order("created_at", &postgrest.OrderOpts{Ascending: false}).
		Order("id", &postgrest.OrderOpts{Ascending: false})
	if limit > 0 {
		q = q.Limit(limit, "")
	}

	var rows []projectRow
	if _, err := q.ExecuteTo(&rows); err != nil {
		return nil, classifyPostgrestError("select projects", err)
	}
	return rows, nil
}

func (s *SupabaseStore) InsertConversationTurn(ctx context.Context, t models.NewConversationTurn) error {
	if err := t.Validate(); err != nil {
		slog.Error("SupabaseStore InsertConversationTurn validation failed", "error", err, "user_id", t.UserID)
		return validationError("insert conversation turn", err)
	}
	if err := ctx.Err(); err != nil {
		return unavailable("insert conversation turn", err)
	}

	_, _, err := s.client.From(conversationsTable).
		Insert(turnInsert{UserID: t.UserID, ProjectID: t.ProjectID, Message: t.Message, Role: string(t.Role)},
			false, "", "minimal", "").
		Execute()
	if err != nil {
		slog.Error("SupabaseStore InsertConversationTurn failed", "error", err, "user_id", t.UserID, "role", t.Role)
		return classifyPostgrestError("insert conversation turn", err)
	}
	slog.Debug("SupabaseStore InsertConversationTurn succeeded", "user_id", t.UserID, "role", t.Role)
	return nil
}

func (s *SupabaseStore) RecentTurnsForUser(ctx context.Context, userID string, limit int) ([]models.ConversationTurn, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("select recent turns", err)
	}

	var rows []turnRow
	_, err := s.client.From(conversationsTable).
		Select("*", "", false).
		Eq("user_id", userID).
		Order("timestamp", &postgrest.OrderOpts{Ascending: false}).
		Order("id", &postgrest.OrderOpts{Ascending: false}).
		Limit(normalizeLimit(limit), "").
		ExecuteTo(&rows)
	if err != nil {
		slog.Error("SupabaseStore RecentTurnsForUser failed", "error", err, "user_id", userID)
		return nil, classifyPostgrestError("select recent turns", err)
	}

	turns := make([]models.ConversationTurn, 0, len(rows))
	for _, r := range rows {
		turns = append(turns, r.toModel())
	}
	slog.Debug("SupabaseStore RecentTurnsForUser succeeded", "user_id", userID, "count", len(turns))
	return turns, nil
}

// Ping issues a one-row select against each table, so a project whose tables were never
// created reports ErrSchemaMissing.
func (s *SupabaseStore) Ping(ctx context.Context) error {
	for _, table := range []string{projectsTable, conversationsTable} {
		if err := ctx.Err(); err != nil {
			return unavailable("ping supabase", err)
		}
		_, _, err := s.client.From(table).Select("id", "", false).Limit(1, "").Execute()
		if err != nil {
			slog.Error("SupabaseStore Ping failed", "table", table, "error", err)
			return classifyPostgrestError("ping supabase "+table, err)
		}
	}
	return nil
}

// Close is a no-op; the Supabase client holds no long-lived connections.
func (s *SupabaseStore) Close() error {
	return nil
}

// classifyPostgrestError maps PostgREST errors, formatted as "(<code>) <message>", onto the
// store sentinels. SQLSTATE class 23 is an integrity constraint violation; 42P01 and
// PostgREST's PGRST205 both mean the table does not exist.
func classifyPostgrestError(op string, err error) error {
	msg := err.Error()
	switch {
	case strings.HasPrefix(msg, "(23"):
		return constraint(op, err)
	case strings.HasPrefix(msg, "(42P01)"), strings.HasPrefix(msg, "(PGRST205)"):
		return schemaMissing(op, err)
	}
	return unavailable(op, err)
}
