package livesync

import (
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/picklesync/go/internal/models"
	"github.com/mcdev12/picklesync/go/internal/store"
	"github.com/mcdev12/picklesync/go/internal/wire"
)

// exportHistory answers a history request with every completed game, in
// batches.
func (c *Coordinator) exportHistory() {
	ctx, cancel := c.storeCtx()
	games, err := c.store.FetchCompletedGames(ctx)
	cancel()
	if err != nil {
		c.stats.StoreFailures++
		log.Error().Err(err).Str("phase", "history_export").Msg("failed to load completed games")
		return
	}

	items := make([]models.GameSummary, 0, len(games))
	for _, g := range games {
		items = append(items, models.Summarize(g))
	}
	batches, err := wire.EncodeHistory(items, c.config.HistoryBatchSize)
	if err != nil {
		c.syncFailed("history_export", err)
		return
	}

	for _, b := range batches {
		if err := c.deliver(b, "history_batch", true); err != nil {
			return
		}
		c.stats.HistoryBatchesSent++
	}
	log.Info().
		Int("games", len(items)).
		Int("batches", len(batches)).
		Msg("exported game history")
}

// mergeHistory writes completed games from the peer into the store. Unknown
// games are inserted and known ones are only overwritten by a strictly newer
// copy. The live game is never touched.
func (c *Coordinator) mergeHistory(items []models.GameSummary) {
	var res HistoryResult
	for _, item := range items {
		if c.game != nil && item.ID == c.game.ID {
			res.Skipped++
			continue
		}
		switch c.mergeOne(item) {
		case mergeInserted:
			res.Inserted++
		case mergeUpdated:
			res.Updated++
		default:
			res.Skipped++
		}
	}
	c.stats.HistoryItemsMerged += res.Inserted + res.Updated

	log.Info().
		Int("inserted", res.Inserted).
		Int("updated", res.Updated).
		Int("skipped", res.Skipped).
		Msg("merged peer history")
	c.emit(Event{Type: EventHistorySynced, History: &res})
}

type mergeResult int

const (
	mergeSkipped mergeResult = iota
	mergeInserted
	mergeUpdated
)

func (c *Coordinator) mergeOne(item models.GameSummary) mergeResult {
	ctx, cancel := c.storeCtx()
	defer cancel()

	remote := item.Game()
	existing, err := c.store.FetchGame(ctx, item.ID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		if err := c.store.Insert(ctx, remote); err != nil {
			c.stats.StoreFailures++
			log.Error().Err(err).Str("game_id", item.ID.String()).Str("phase", "history_insert").Msg("failed to insert peer game")
			return mergeSkipped
		}
		return mergeInserted
	case err != nil:
		c.stats.StoreFailures++
		log.Error().Err(err).Str("game_id", item.ID.String()).Str("phase", "history_fetch").Msg("failed to look up game")
		return mergeSkipped
	case !remote.LastModified.After(existing.LastModified):
		return mergeSkipped
	}

	if err := c.store.Save(ctx, remote); err != nil {
		c.stats.StoreFailures++
		log.Error().Err(err).Str("game_id", item.ID.String()).Str("phase", "history_update").Msg("failed to update peer game")
		return mergeSkipped
	}
	return mergeUpdated
}
