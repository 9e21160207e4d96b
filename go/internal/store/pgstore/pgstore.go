// Package pgstore is a Postgres game store using pgx directly.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/picklesync/go/internal/models"
	"github.com/mcdev12/picklesync/go/internal/store"
)

var (
	_ store.Store             = (*Store)(nil)
	_ store.VariationResolver = (*Store)(nil)
)

const schema = `
CREATE TABLE IF NOT EXISTS games (
	id                        UUID PRIMARY KEY,
	game_type                 TEXT NOT NULL DEFAULT '',
	score1                    INTEGER NOT NULL DEFAULT 0,
	score2                    INTEGER NOT NULL DEFAULT 0,
	rally_count               INTEGER NOT NULL DEFAULT 0,
	is_completed              BOOLEAN NOT NULL DEFAULT FALSE,
	completed_at              TIMESTAMPTZ,
	serving_side              SMALLINT NOT NULL DEFAULT 1,
	server_number             SMALLINT NOT NULL DEFAULT 1,
	serve_position            TEXT NOT NULL,
	court_side                TEXT NOT NULL,
	is_first_service_sequence BOOLEAN NOT NULL DEFAULT FALSE,
	state                     TEXT NOT NULL,
	rules                     JSONB NOT NULL,
	variation_id              UUID,
	elapsed_seconds           DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at                TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	last_modified             TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_games_completed_at ON games(completed_at);
CREATE INDEX IF NOT EXISTS idx_games_last_modified ON games(last_modified);

CREATE TABLE IF NOT EXISTS rule_variations (
	id    UUID PRIMARY KEY,
	name  TEXT NOT NULL,
	rules JSONB NOT NULL
);
`

const gameColumns = `id, game_type, score1, score2, rally_count, is_completed, completed_at,
	serving_side, server_number, serve_position, court_side, is_first_service_sequence,
	state, rules, variation_id, elapsed_seconds, created_at, last_modified`

const uniqueViolation = "23505"

type Store struct {
	pool *pgxpool.Pool
}

// Open connects to Postgres and creates the schema if needed.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &Store{pool: pool}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate games schema: %w", err)
	}
	log.Info().Msg("postgres game schema ready")
	return nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) FetchCurrentIncompleteGame(ctx context.Context) (*models.Game, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+gameColumns+`
		FROM games
		WHERE NOT is_completed
		ORDER BY last_modified DESC
		LIMIT 1
	`)
	g, err := scanGame(row)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch current game: %w", err)
	}
	return g, nil
}

func (s *Store) Insert(ctx context.Context, g *models.Game) error {
	args, err := gameArgs(g)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO games (`+gameColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`, args...)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("insert game %s: %w", g.ID, store.ErrAlreadyExists)
		}
		return fmt.Errorf("failed to insert game: %w", err)
	}
	return nil
}

func (s *Store) Save(ctx context.Context, g *models.Game) error {
	args, err := gameArgs(g)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO games (`+gameColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (id) DO UPDATE SET
			game_type                 = EXCLUDED.game_type,
			score1                    = EXCLUDED.score1,
			score2                    = EXCLUDED.score2,
			rally_count               = EXCLUDED.rally_count,
			is_completed              = EXCLUDED.is_completed,
			completed_at              = EXCLUDED.completed_at,
			serving_side              = EXCLUDED.serving_side,
			server_number             = EXCLUDED.server_number,
			serve_position            = EXCLUDED.serve_position,
			court_side                = EXCLUDED.court_side,
			is_first_service_sequence = EXCLUDED.is_first_service_sequence,
			state                     = EXCLUDED.state,
			rules                     = EXCLUDED.rules,
			variation_id              = EXCLUDED.variation_id,
			elapsed_seconds           = EXCLUDED.elapsed_seconds,
			last_modified             = EXCLUDED.last_modified
	`, args...)
	if err != nil {
		return fmt.Errorf("failed to save game: %w", err)
	}
	return nil
}

func (s *Store) FetchCompletedGames(ctx context.Context) ([]*models.Game, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+gameColumns+`
		FROM games
		WHERE is_completed
		ORDER BY completed_at DESC NULLS LAST, last_modified DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list completed games: %w", err)
	}
	defer rows.Close()

	var out []*models.Game
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan completed game: %w", err)
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list completed games: %w", err)
	}
	return out, nil
}

func (s *Store) FetchGame(ctx context.Context, id uuid.UUID) (*models.Game, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+gameColumns+` FROM games WHERE id = $1`, id)
	g, err := scanGame(row)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch game %s: %w", id, err)
	}
	return g, nil
}

func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM games WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete game: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// PutVariation upserts a rule variation.
func (s *Store) PutVariation(ctx context.Context, v store.Variation) error {
	rules, err := json.Marshal(v.Rules)
	if err != nil {
		return fmt.Errorf("marshal rules: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO rule_variations (id, name, rules)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, rules = EXCLUDED.rules
	`, v.ID, v.Name, rules)
	if err != nil {
		return fmt.Errorf("failed to save variation: %w", err)
	}
	return nil
}

func (s *Store) ResolveVariation(ctx context.Context, id uuid.UUID) (store.Variation, error) {
	var (
		v     store.Variation
		rules []byte
	)
	err := s.pool.QueryRow(ctx, `SELECT id, name, rules FROM rule_variations WHERE id = $1`, id).
		Scan(&v.ID, &v.Name, &rules)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Variation{}, store.ErrNotFound
	}
	if err != nil {
		return store.Variation{}, fmt.Errorf("failed to resolve variation: %w", err)
	}
	if err := json.Unmarshal(rules, &v.Rules); err != nil {
		return store.Variation{}, fmt.Errorf("decode variation rules: %w", err)
	}
	return v, nil
}

func gameArgs(g *models.Game) ([]any, error) {
	rules, err := json.Marshal(g.Rules)
	if err != nil {
		return nil, fmt.Errorf("marshal rules: %w", err)
	}
	return []any{
		g.ID, g.GameType, g.Score1, g.Score2, g.RallyCount, g.IsCompleted, g.CompletedAt,
		int(g.ServingSide), g.ServerNumber, string(g.ServePosition), string(g.CourtSide), g.IsFirstServiceSequence,
		string(g.State), rules, g.VariationID, g.ElapsedSeconds, g.CreatedAt, g.LastModified,
	}, nil
}

func scanGame(row pgx.Row) (*models.Game, error) {
	var (
		g             models.Game
		servingSide   int16
		serverNumber  int16
		servePosition string
		courtSide     string
		state         string
		rules         []byte
		completedAt   *time.Time
	)
	err := row.Scan(
		&g.ID, &g.GameType, &g.Score1, &g.Score2, &g.RallyCount, &g.IsCompleted, &completedAt,
		&servingSide, &serverNumber, &servePosition, &courtSide, &g.IsFirstServiceSequence,
		&state, &rules, &g.VariationID, &g.ElapsedSeconds, &g.CreatedAt, &g.LastModified,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(rules, &g.Rules); err != nil {
		return nil, fmt.Errorf("decode rules: %w", err)
	}

	g.CompletedAt = completedAt
	g.ServingSide = models.Side(servingSide)
	g.ServerNumber = int(serverNumber)
	g.ServePosition = models.ServePosition(servePosition)
	g.CourtSide = models.CourtSide(courtSide)
	g.State = models.GameState(state)
	return &g, nil
}
