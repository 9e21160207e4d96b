// Package gormstore is a Postgres game store built on gorm.
package gormstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mcdev12/picklesync/go/internal/models"
	"github.com/mcdev12/picklesync/go/internal/store"
)

var (
	_ store.Store             = (*Store)(nil)
	_ store.VariationResolver = (*Store)(nil)
)

// Store wraps a gorm DB instance.
type Store struct {
	db *gorm.DB
}

// Open connects with the postgres driver and migrates the tables.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open gorm postgres: %w", err)
	}
	if err := db.AutoMigrate(&GameRecord{}, &VariationRecord{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return New(db), nil
}

// New wraps an existing gorm DB.
func New(db *gorm.DB) *Store {
	if db == nil {
		return nil
	}
	return &Store{db: db}
}

// DB exposes the underlying gorm DB instance.
func (s *Store) DB() *gorm.DB {
	if s == nil {
		return nil
	}
	return s.db
}

func (s *Store) FetchCurrentIncompleteGame(ctx context.Context) (*models.Game, error) {
	var rec GameRecord
	err := s.db.WithContext(ctx).
		Where("is_completed = ?", false).
		Order("last_modified DESC").
		First(&rec).Error
	if err != nil {
		return nil, translate(err)
	}
	return rec.toModel(), nil
}

func (s *Store) Insert(ctx context.Context, g *models.Game) error {
	rec := toRecord(g)
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rec)
	if res.Error != nil {
		return fmt.Errorf("failed to insert game: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("insert game %s: %w", g.ID, store.ErrAlreadyExists)
	}
	return nil
}

func (s *Store) Save(ctx context.Context, g *models.Game) error {
	rec := toRecord(g)
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(&rec).Error
	if err != nil {
		return fmt.Errorf("failed to save game: %w", err)
	}
	return nil
}

func (s *Store) FetchCompletedGames(ctx context.Context) ([]*models.Game, error) {
	var recs []GameRecord
	err := s.db.WithContext(ctx).
		Where("is_completed = ?", true).
		Order("completed_at DESC NULLS LAST").
		Order("last_modified DESC").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list completed games: %w", err)
	}
	out := make([]*models.Game, len(recs))
	for i, rec := range recs {
		out[i] = rec.toModel()
	}
	return out, nil
}

func (s *Store) FetchGame(ctx context.Context, id uuid.UUID) (*models.Game, error) {
	var rec GameRecord
	if err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return rec.toModel(), nil
}

func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	res := s.db.WithContext(ctx).Delete(&GameRecord{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("failed to delete game: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// PutVariation upserts a rule variation.
func (s *Store) PutVariation(ctx context.Context, v store.Variation) error {
	rec := VariationRecord{ID: v.ID, Name: v.Name, Rules: v.Rules}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&rec).Error
}

func (s *Store) ResolveVariation(ctx context.Context, id uuid.UUID) (store.Variation, error) {
	var rec VariationRecord
	if err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		return store.Variation{}, translate(err)
	}
	return store.Variation{ID: rec.ID, Name: rec.Name, Rules: rec.Rules}, nil
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return store.ErrNotFound
	}
	return err
}
