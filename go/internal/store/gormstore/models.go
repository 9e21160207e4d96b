package gormstore

import (
	"time"

	"github.com/google/uuid"

	"github.com/mcdev12/picklesync/go/internal/models"
)

// GameRecord is the games table row.
type GameRecord struct {
	ID                     uuid.UUID `gorm:"type:uuid;primaryKey"`
	GameType               string
	Score1                 int
	Score2                 int
	RallyCount             int
	IsCompleted            bool       `gorm:"index"`
	CompletedAt            *time.Time `gorm:"index"`
	ServingSide            int
	ServerNumber           int
	ServePosition          string
	CourtSide              string
	IsFirstServiceSequence bool
	State                  string
	Rules                  models.RuleSet `gorm:"type:jsonb;serializer:json"`
	VariationID            *uuid.UUID     `gorm:"type:uuid"`
	ElapsedSeconds         float64
	CreatedAt              time.Time
	LastModified           time.Time `gorm:"index"`
}

func (GameRecord) TableName() string {
	return "games"
}

// VariationRecord is a stored rule variation.
type VariationRecord struct {
	ID    uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name  string
	Rules models.RuleSet `gorm:"type:jsonb;serializer:json"`
}

func (VariationRecord) TableName() string {
	return "rule_variations"
}

func toRecord(g *models.Game) GameRecord {
	return GameRecord{
		ID:                     g.ID,
		GameType:               g.GameType,
		Score1:                 g.Score1,
		Score2:                 g.Score2,
		RallyCount:             g.RallyCount,
		IsCompleted:            g.IsCompleted,
		CompletedAt:            g.CompletedAt,
		ServingSide:            int(g.ServingSide),
		ServerNumber:           g.ServerNumber,
		ServePosition:          string(g.ServePosition),
		CourtSide:              string(g.CourtSide),
		IsFirstServiceSequence: g.IsFirstServiceSequence,
		State:                  string(g.State),
		Rules:                  g.Rules,
		VariationID:            g.VariationID,
		ElapsedSeconds:         g.ElapsedSeconds,
		CreatedAt:              g.CreatedAt,
		LastModified:           g.LastModified,
	}
}

func (r GameRecord) toModel() *models.Game {
	return &models.Game{
		ID:                     r.ID,
		GameType:               r.GameType,
		Score1:                 r.Score1,
		Score2:                 r.Score2,
		RallyCount:             r.RallyCount,
		IsCompleted:            r.IsCompleted,
		CompletedAt:            r.CompletedAt,
		ServingSide:            models.Side(r.ServingSide),
		ServerNumber:           r.ServerNumber,
		ServePosition:          models.ServePosition(r.ServePosition),
		CourtSide:              models.CourtSide(r.CourtSide),
		IsFirstServiceSequence: r.IsFirstServiceSequence,
		State:                  models.GameState(r.State),
		Rules:                  r.Rules,
		VariationID:            r.VariationID,
		ElapsedSeconds:         r.ElapsedSeconds,
		CreatedAt:              r.CreatedAt,
		LastModified:           r.LastModified,
	}
}
