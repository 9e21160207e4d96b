package models

import (
	"time"

	"github.com/google/uuid"
)

// GameSummary is the history record of a completed game exchanged between
// peers.
type GameSummary struct {
	ID             uuid.UUID     `json:"id"`
	GameType       string        `json:"game_type"`
	Score1         int           `json:"score1"`
	Score2         int           `json:"score2"`
	RallyCount     int           `json:"rally_count"`
	ServingSide    Side          `json:"serving_side"`
	ServerNumber   int           `json:"server_number"`
	ServePosition  ServePosition `json:"serve_position"`
	CourtSide      CourtSide     `json:"court_side"`
	Rules          RuleSet       `json:"rules"`
	VariationID    *uuid.UUID    `json:"variation_id,omitempty"`
	ElapsedSeconds float64       `json:"elapsed_seconds"`
	CreatedAt      time.Time     `json:"created_at"`
	CompletedAt    time.Time     `json:"completed_at"`
	LastModified   time.Time     `json:"last_modified"`
}

// Summarize builds a summary of a completed game.
func Summarize(g *Game) GameSummary {
	s := GameSummary{
		ID:             g.ID,
		GameType:       g.GameType,
		Score1:         g.Score1,
		Score2:         g.Score2,
		RallyCount:     g.RallyCount,
		ServingSide:    g.ServingSide,
		ServerNumber:   g.ServerNumber,
		ServePosition:  g.ServePosition,
		CourtSide:      g.CourtSide,
		Rules:          g.Rules.Clone(),
		ElapsedSeconds: g.ElapsedSeconds,
		CreatedAt:      g.CreatedAt,
		LastModified:   g.LastModified,
	}
	if g.CompletedAt != nil {
		s.CompletedAt = *g.CompletedAt
	}
	if g.VariationID != nil {
		v := *g.VariationID
		s.VariationID = &v
	}
	return s
}

// Game rebuilds a completed game from the summary.
func (s GameSummary) Game() *Game {
	completedAt := s.CompletedAt
	g := &Game{
		ID:             s.ID,
		GameType:       s.GameType,
		Score1:         s.Score1,
		Score2:         s.Score2,
		RallyCount:     s.RallyCount,
		IsCompleted:    true,
		CompletedAt:    &completedAt,
		ServingSide:    s.ServingSide,
		ServerNumber:   s.ServerNumber,
		ServePosition:  s.ServePosition,
		CourtSide:      s.CourtSide,
		State:          GameStateCompleted,
		Rules:          s.Rules.Clone(),
		ElapsedSeconds: s.ElapsedSeconds,
		CreatedAt:      s.CreatedAt,
		LastModified:   s.LastModified,
	}
	if s.VariationID != nil {
		v := *s.VariationID
		g.VariationID = &v
	}
	return g
}
