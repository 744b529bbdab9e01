package store

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/BTreeMap/PitchPipe/internal/models"
)

// InMemoryStore is a simple in-memory store for projects and turns.
// It is used in tests and in development runs without a configured database.
type InMemoryStore struct {
	mu       sync.RWMutex
	projects []models.Project
	turns    []models.ConversationTurn
	nextID   int64
	nextTurn int64
	now      func() time.Time
}

// NewInMemoryStore creates a new in-memory store.
func NewInMemoryStore(opts ...Option) *InMemoryStore {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &InMemoryStore{now: now}
}

func (s *InMemoryStore) InsertProject(ctx context.Context, p models.NewProject) (models.Project, error) {
	if err := p.Validate(); err != nil {
		slog.Error("InMemoryStore InsertProject validation failed", "error", err, "user_id", p.UserID)
		return models.Project{}, validationError("insert project", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	ts := s.now().UTC()
	project := models.Project{
		ID:          s.nextID,
		UserID:      p.UserID,
		Handle:      p.Handle,
		Name:        p.Name,
		Stage:       p.Stage,
		RevenueGoal: p.RevenueGoal,
		CreatedAt:   ts,
		UpdatedAt:   ts,
	}
	s.projects = append(s.projects, project)
	slog.Debug("InMemoryStore InsertProject succeeded", "user_id", p.UserID, "project_id", project.ID)
	return project, nil
}

func (s *InMemoryStore) LatestProjectForUser(ctx context.Context, userID string) (*models.Project, error) {
	projects, _ := s.ListProjectsForUser(ctx, userID)
	if len(projects) == 0 {
		return nil, nil
	}
	latest := projects[0]
	return &latest, nil
}

func (s *InMemoryStore) ListProjectsForUser(ctx context.Context, userID string) ([]models.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Project
	for _, p := range s.projects {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	slog.Debug("InMemoryStore ListProjectsForUser succeeded", "user_id", userID, "count", len(out))
	return out, nil
}

func (s *InMemoryStore) InsertConversationTurn(ctx context.Context, t models.NewConversationTurn) error {
	if err := t.Validate(); err != nil {
		slog.Error("InMemoryStore InsertConversationTurn validation failed", "error", err, "user_id", t.UserID)
		return validationError("insert conversation turn", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	found := false
	for _, p := range s.projects {
		if p.ID == t.ProjectID {
			found = true
			break
		}
	}
	if !found {
		return constraint("insert conversation turn", fmt.Errorf("project %d does not exist", t.ProjectID))
	}

	s.nextTurn++
	s.turns = append(s.turns, models.ConversationTurn{
		ID:        s.nextTurn,
		UserID:    t.UserID,
		ProjectID: t.ProjectID,
		Message:   t.Message,
		Role:      t.Role,
		Timestamp: s.now().UTC(),
	})
	slog.Debug("InMemoryStore InsertConversationTurn succeeded", "user_id", t.UserID, "role", t.Role)
	return nil
}

func (s *InMemoryStore) RecentTurnsForUser(ctx context.Context, userID string, limit int) ([]models.ConversationTurn, error) {
	limit = normalizeLimit(limit)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.ConversationTurn
	for _, t := range s.turns {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].ID > out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Ping always succeeds for the in-memory store.
func (s *InMemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
