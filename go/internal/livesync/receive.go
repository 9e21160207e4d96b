package livesync

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/picklesync/go/internal/models"
	"github.com/mcdev12/picklesync/go/internal/rules"
	"github.com/mcdev12/picklesync/go/internal/timer"
	"github.com/mcdev12/picklesync/go/internal/wire"
)

func (c *Coordinator) handleMessage(data []byte) {
	msg, err := wire.Decode(data)
	if err != nil {
		c.stats.DecodeFailures++
		c.stats.LastError = err.Error()
		log.Warn().Err(err).Int("bytes", len(data)).Str("phase", "decode").Msg("dropping undecodable peer message")
		c.emit(Event{Type: EventSyncFailed, Phase: "decode", Error: err.Error()})
		return
	}
	c.stats.LastReceivedAt = c.clock.Now()

	if c.config.SyncDisabled {
		return
	}

	switch msg.Type {
	case wire.TypeSnapshot:
		c.handleSnapshot(*msg.Snapshot)
		c.sendAck()
	case wire.TypeAck:
		c.stats.AcksReceived++
	case wire.TypeHistoryRequest:
		c.exportHistory()
	case wire.TypeHistoryBatch:
		c.mergeHistory(msg.History)
	}
}

// handleSnapshot decides what a snapshot from the peer means for the live
// game.
func (c *Coordinator) handleSnapshot(s wire.LiveSnapshot) {
	c.stats.SnapshotsReceived++

	switch {
	case c.game != nil && c.game.ID == s.ID:
		c.applySameGame(s)
	case s.IsCompleted || s.State == models.GameStateCompleted:
		// A finished game from the peer is history, not a rival live game.
		c.mergeHistory([]models.GameSummary{models.Summarize(s.ToGame())})
	case c.game == nil || !c.game.IsActive():
		c.adopt(s, "no_local_game")
	default:
		c.resolveConflict(s)
	}
}

// applySameGame overwrites the live game with a strictly newer snapshot of it.
func (c *Coordinator) applySameGame(s wire.LiveSnapshot) {
	if !s.LastEventTimestamp.After(c.game.LastModified) {
		c.stats.SnapshotsIgnored++
		log.Debug().
			Str("game_id", s.ID.String()).
			Time("remote_ts", s.LastEventTimestamp).
			Time("local_ts", c.game.LastModified).
			Msg("ignoring stale snapshot")
		return
	}

	localElapsed := c.timer.Elapsed()
	localRunning := c.timer.IsRunning()
	wasActive := c.game.IsActive()
	scored := s.RallyCount != c.game.RallyCount || s.Score1 != c.game.Score1 || s.Score2 != c.game.Score2

	c.isProcessingRemoteUpdate = true
	c.game = s.ToGame()
	assert := c.reconcileTimer(s, localElapsed, localRunning)
	if !c.game.IsActive() {
		c.timer.Stop()
	} else if scored {
		// Points scored on the peer count as activity here too.
		c.timer.RecordActivity()
	}
	c.persist("apply_snapshot")
	c.stats.SnapshotsApplied++

	if wasActive && !c.game.IsActive() {
		c.emitGame(EventGameCompleted, c.game)
	}
	c.emitGame(EventGameUpdated, c.game)
	c.isProcessingRemoteUpdate = false

	log.Debug().
		Str("game_id", c.game.ID.String()).
		Int("score1", c.game.Score1).
		Int("score2", c.game.Score2).
		Bool("assert", assert).
		Msg("applied peer snapshot")

	if assert {
		c.stamp()
		c.persist("assert_timer")
		c.syncState(true)
	}
}

// reconcileTimer brings the local timer in line with the peer's reading after
// a snapshot was applied. It reports whether this device must re-broadcast its
// own baseline.
//
// The primary owns elapsed time. It follows a change in run state but keeps
// its own elapsed, and answers any disagreement with its baseline. The
// companion takes whatever the peer says.
func (c *Coordinator) reconcileTimer(s wire.LiveSnapshot, localElapsed time.Duration, localRunning bool) bool {
	remoteElapsed := s.Elapsed()
	drift := remoteElapsed - localElapsed
	if drift < 0 {
		drift = -drift
	}
	runDiffers := s.IsTimerRunning != localRunning
	if drift <= c.config.DriftThreshold && !runDiffers {
		return false
	}

	log.Debug().
		Str("game_id", s.ID.String()).
		Dur("drift", drift).
		Bool("remote_running", s.IsTimerRunning).
		Bool("local_running", localRunning).
		Str("role", string(c.config.Role)).
		Msg("reconciling timer")

	if c.config.Role == RolePrimary {
		if runDiffers {
			c.timer.ApplyBaseline(localElapsed, s.IsTimerRunning, s.LastTimerStartTime)
		}
		return true
	}

	c.timer.ApplyBaseline(remoteElapsed, s.IsTimerRunning, s.LastTimerStartTime)
	return false
}

func (c *Coordinator) handleReachability(reachable bool) {
	log.Info().
		Str("device_id", c.config.DeviceID).
		Bool("reachable", reachable).
		Msg("peer reachability changed")
	if reachable {
		c.syncState(true)
	}
}

// handleTick publishes the timer and ends a game whose time limit ran out.
func (c *Coordinator) handleTick() {
	if c.game == nil {
		return
	}
	c.emit(Event{Type: EventTimerUpdated, GameID: c.game.ID, Timer: c.timerState()})

	if !rules.CompleteIfDue(c.game, c.clock.Now(), c.timer.Elapsed()) {
		return
	}
	c.timer.Stop()
	log.Info().
		Str("game_id", c.game.ID.String()).
		Int("score1", c.game.Score1).
		Int("score2", c.game.Score2).
		Msg("game completed on time limit")
	c.persist("time_limit")
	c.emitGame(EventGameCompleted, c.game)
	c.emitGame(EventGameUpdated, c.game)
	c.syncState(true)
}

// checkInactivity pauses the timer, and later the game, when nobody has scored
// for a while.
func (c *Coordinator) checkInactivity() {
	if c.game == nil || !c.game.IsActive() {
		return
	}

	action := c.timer.CheckInactivity()
	now := c.clock.Now()
	changed := false
	switch action {
	case timer.InactivityPauseTimer:
		changed = c.timer.Pause()
	case timer.InactivityPauseGame:
		if c.game.State == models.GameStatePlaying {
			changed = rules.Pause(c.game, now) == nil
		}
		if c.timer.Pause() {
			changed = true
		}
	}
	if !changed {
		return
	}

	log.Info().
		Str("game_id", c.game.ID.String()).
		Str("action", action.String()).
		Dur("idle", c.timer.IdleFor()).
		Msg("inactivity detected")

	c.stamp()
	c.persist("inactivity")
	c.emitGame(EventGameUpdated, c.game)
	c.syncState(false)
}
