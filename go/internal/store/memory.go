package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mcdev12/picklesync/go/internal/models"
)

var (
	_ Store             = (*MemoryStore)(nil)
	_ VariationResolver = (*MemoryStore)(nil)
)

// MemoryStore keeps games in a map. Games are copied on the way in and out.
type MemoryStore struct {
	mu         sync.RWMutex
	games      map[uuid.UUID]*models.Game
	variations map[uuid.UUID]Variation
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		games:      make(map[uuid.UUID]*models.Game),
		variations: make(map[uuid.UUID]Variation),
	}
}

func (s *MemoryStore) FetchCurrentIncompleteGame(ctx context.Context) (*models.Game, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var current *models.Game
	for _, g := range s.games {
		if g.IsCompleted {
			continue
		}
		if current == nil || g.LastModified.After(current.LastModified) {
			current = g
		}
	}
	if current == nil {
		return nil, ErrNotFound
	}
	return current.Clone(), nil
}

func (s *MemoryStore) Insert(ctx context.Context, g *models.Game) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.games[g.ID]; exists {
		return fmt.Errorf("insert game %s: %w", g.ID, ErrAlreadyExists)
	}
	s.games[g.ID] = g.Clone()
	return nil
}

func (s *MemoryStore) Save(ctx context.Context, g *models.Game) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.games[g.ID] = g.Clone()
	return nil
}

func (s *MemoryStore) FetchCompletedGames(ctx context.Context) ([]*models.Game, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Game
	for _, g := range s.games {
		if g.IsCompleted {
			out = append(out, g.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return completedAt(out[i]).After(completedAt(out[j]))
	})
	return out, nil
}

func (s *MemoryStore) FetchGame(ctx context.Context, id uuid.UUID) (*models.Game, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.games[id]
	if !ok {
		return nil, ErrNotFound
	}
	return g.Clone(), nil
}

func (s *MemoryStore) Delete(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.games[id]; !ok {
		return ErrNotFound
	}
	delete(s.games, id)
	return nil
}

// PutVariation registers a rule variation.
func (s *MemoryStore) PutVariation(v Variation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v.Rules = v.Rules.Clone()
	s.variations[v.ID] = v
}

func (s *MemoryStore) ResolveVariation(ctx context.Context, id uuid.UUID) (Variation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.variations[id]
	if !ok {
		return Variation{}, ErrNotFound
	}
	v.Rules = v.Rules.Clone()
	return v, nil
}

func completedAt(g *models.Game) time.Time {
	if g.CompletedAt != nil {
		return *g.CompletedAt
	}
	return g.LastModified
}
