// Package store defines the durable game store the sync coordinator writes
// through, with an in-memory implementation. Postgres-backed versions live in
// pgstore and gormstore.
package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/mcdev12/picklesync/go/internal/models"
)

var (
	ErrNotFound      = errors.New("game not found")
	ErrAlreadyExists = errors.New("game already exists")
)

// Store persists games. Implementations must be safe for concurrent use.
type Store interface {
	// FetchCurrentIncompleteGame returns the most recently modified game that
	// is not completed, or ErrNotFound.
	FetchCurrentIncompleteGame(ctx context.Context) (*models.Game, error)
	// Insert adds a new game. It fails with ErrAlreadyExists for a known id.
	Insert(ctx context.Context, g *models.Game) error
	// Save writes g, creating it if needed.
	Save(ctx context.Context, g *models.Game) error
	// FetchCompletedGames returns completed games, most recently completed
	// first.
	FetchCompletedGames(ctx context.Context) ([]*models.Game, error)
	FetchGame(ctx context.Context, id uuid.UUID) (*models.Game, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// Variation is a named rule set a game can be started from.
type Variation struct {
	ID    uuid.UUID      `json:"id"`
	Name  string         `json:"name"`
	Rules models.RuleSet `json:"rules"`
}

// VariationResolver looks up a rule variation by id. A variation that cannot
// be found is reported with ErrNotFound and callers treat it as absent.
type VariationResolver interface {
	ResolveVariation(ctx context.Context, id uuid.UUID) (Variation, error)
}
