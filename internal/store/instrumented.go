package store

import (
	"context"

	"github.com/BTreeMap/PitchPipe/internal/metrics"
	"github.com/BTreeMap/PitchPipe/internal/models"
)

// InstrumentedStore counts every operation of the wrapped store.
type InstrumentedStore struct {
	Store
	metrics *metrics.Collector
}

// NewInstrumentedStore wraps s so each call is recorded on c.
func NewInstrumentedStore(s Store, c *metrics.Collector) *InstrumentedStore {
	return &InstrumentedStore{Store: s, metrics: c}
}

func (s *InstrumentedStore) InsertProject(ctx context.Context, p models.NewProject) (models.Project, error) {
	project, err := s.Store.InsertProject(ctx, p)
	s.metrics.ObserveStore("insert_project", err)
	return project, err
}

func (s *InstrumentedStore) LatestProjectForUser(ctx context.Context, userID string) (*models.Project, error) {
	p, err := s.Store.LatestProjectForUser(ctx, userID)
	s.metrics.ObserveStore("latest_project", err)
	return p, err
}

func (s *InstrumentedStore) ListProjectsForUser(ctx context.Context, userID string) ([]models.Project, error) {
	ps, err := s.Store.ListProjectsForUser(ctx, userID)
	s.metrics.ObserveStore("list_projects", err)
	return ps, err
}

func (s *InstrumentedStore) InsertConversationTurn(ctx context.Context, t models.NewConversationTurn) error {
	err := s.Store.InsertConversationTurn(ctx, t)
	s.metrics.ObserveStore("insert_turn", err)
	return err
}

func (s *InstrumentedStore) RecentTurnsForUser(ctx context.Context, userID string, limit int) ([]models.ConversationTurn, error) {
	turns, err := s.Store.RecentTurnsForUser(ctx, userID, limit)
	s.metrics.ObserveStore("recent_turns", err)
	return turns, err
}
