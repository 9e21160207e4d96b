package livesync

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/picklesync/go/internal/rules"
	"github.com/mcdev12/picklesync/go/internal/wire"
)

// pendingConflict is a rival live game held until the user decides.
type pendingConflict struct {
	snapshot wire.LiveSnapshot
	conflict Conflict
}

// resolveConflict handles a snapshot of a different, unfinished game while the
// local game is still active.
func (c *Coordinator) resolveConflict(s wire.LiveSnapshot) {
	local := c.game
	c.stats.Conflicts++
	conflict := Conflict{
		Local:      local.Clone(),
		Remote:     s.ToGame(),
		DetectedAt: c.clock.Now(),
	}

	log.Info().
		Str("local_game_id", local.ID.String()).
		Str("remote_game_id", s.ID.String()).
		Time("local_ts", local.LastModified).
		Time("remote_ts", s.LastEventTimestamp).
		Str("policy", string(c.config.ConflictPolicy)).
		Msg("live game conflict")

	if c.config.ConflictPolicy == ConflictManual {
		fresh := c.pending == nil || c.pending.snapshot.ID != s.ID
		c.pending = &pendingConflict{snapshot: s, conflict: conflict}
		if fresh {
			cf := conflict
			c.emit(Event{Type: EventConflictDetected, GameID: local.ID, Conflict: &cf})
		}
		return
	}

	if s.LastEventTimestamp.After(local.LastModified) {
		c.adopt(s, "remote_newer")
		c.emitResolved(OutcomeAdoptedRemote)
		return
	}

	// Equal timestamps keep the local game. Stamping it makes the peer see it
	// as newer instead of holding its own.
	if !local.LastModified.After(s.LastEventTimestamp) {
		c.stamp()
		c.persist("conflict_keep_local")
	}
	c.emitResolved(OutcomeKeptLocal)
	c.syncState(true)
}

// adopt completes the local game, if any, and installs the peer's game as the
// live one.
func (c *Coordinator) adopt(s wire.LiveSnapshot, reason string) {
	now := c.clock.Now()

	c.isProcessingRemoteUpdate = true
	defer func() { c.isProcessingRemoteUpdate = false }()

	if c.game != nil && c.game.IsActive() {
		c.timer.Stop()
		if err := rules.Complete(c.game, now); err == nil {
			c.persist("complete_replaced")
			c.emitGame(EventGameCompleted, c.game)
		}
	}

	c.install(s.ToGame())
	c.timer.ApplyBaseline(s.Elapsed(), s.IsTimerRunning, s.LastTimerStartTime)
	if s.IsTimerRunning {
		c.timer.RecordActivity()
	}
	c.persist("adopt")
	c.stats.GamesAdopted++

	log.Info().
		Str("game_id", c.game.ID.String()).
		Str("origin", s.OriginDeviceID).
		Str("reason", reason).
		Int("score1", c.game.Score1).
		Int("score2", c.game.Score2).
		Msg("adopted peer game")

	c.emitGame(EventGameUpdated, c.game)
}

func (c *Coordinator) emitResolved(outcome string) {
	e := Event{Type: EventConflictResolved, Outcome: outcome}
	if c.game != nil {
		e.GameID = c.game.ID
		e.Game = c.game.Clone()
	}
	c.emit(e)
}

// AcceptConflict replaces the local game with the pending remote one.
func (c *Coordinator) AcceptConflict(ctx context.Context) error {
	return c.do(ctx, func() error {
		if c.pending == nil {
			return ErrNoPendingConflict
		}
		s := c.pending.snapshot
		c.pending = nil
		c.adopt(s, "accepted")
		c.emitResolved(OutcomeAdoptedRemote)
		return nil
	})
}

// RejectConflict drops the pending remote game and pushes the local one to
// the peer.
func (c *Coordinator) RejectConflict(ctx context.Context) error {
	return c.do(ctx, func() error {
		if c.pending == nil {
			return ErrNoPendingConflict
		}
		c.pending = nil
		if c.game != nil {
			c.stamp()
			c.persist("conflict_rejected")
		}
		c.emitResolved(OutcomeKeptLocal)
		c.syncState(true)
		return nil
	})
}
